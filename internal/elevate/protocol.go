package elevate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// The elevated helper cannot inherit the parent's stdio, so the two sides
// exchange JSON files instead: the parent writes a request file, launches
// the helper pointing at it, then polls for the response file.

// Request is the batch handed to the elevated helper.
type Request struct {
	BatchID string    `json:"batch_id"`
	Ops     []WriteOp `json:"ops"`
}

// Response is the helper's per-operation report.
type Response struct {
	BatchID  string      `json:"batch_id"`
	Outcomes []OpOutcome `json:"outcomes"`
}

// ErrNoResponse is returned when no usable response file appears before the
// deadline.
var ErrNoResponse = errors.New("elevate: no response from helper")

// WriteRequest serializes the request to path. The file is written beside
// its destination and renamed into place so the helper never observes a
// partial file.
func WriteRequest(path string, req *Request) error {
	return writeFileAtomic(path, req)
}

// ReadRequest parses a request file written by WriteRequest.
func ReadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request file: %w", err)
	}
	return &req, nil
}

// WriteResponse serializes the helper's response to path, atomically.
func WriteResponse(path string, resp *Response) error {
	return writeFileAtomic(path, resp)
}

// AwaitResponse polls for the response file until it appears, parses and
// the batch ID matches, or the context expires. A response carrying the
// wrong batch ID is ignored and polling continues.
//
// Returns ErrNoResponse when the context expires first.
func AwaitResponse(ctx context.Context, path, batchID string, poll time.Duration) (*Response, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if resp, ok := tryReadResponse(path, batchID); ok {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, ctx.Err())
		case <-ticker.C:
		}
	}
}

func tryReadResponse(path, batchID string) (*Response, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		// Partial or foreign file, keep waiting
		return nil, false
	}
	if resp.BatchID != batchID {
		return nil, false
	}
	return &resp, true
}

func writeFileAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
