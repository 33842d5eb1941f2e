package elevate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRequestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	want := &Request{
		BatchID: "batch-1",
		Ops: []WriteOp{
			{RegistryPath: `USB\a\Device Parameters`, Value: 0},
			{RegistryPath: `USB\b\Device Parameters`, Value: 1},
		},
	}

	if err := WriteRequest(path, want); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(path)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.BatchID != want.BatchID || len(got.Ops) != 2 || got.Ops[1].Value != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// No leftover temp file
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

func TestAwaitResponseArrivesLate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.json")

	go func() {
		time.Sleep(30 * time.Millisecond)
		WriteResponse(path, &Response{
			BatchID:  "batch-1",
			Outcomes: []OpOutcome{{RegistryPath: `USB\a`, OK: true}},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := AwaitResponse(ctx, path, "batch-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitResponse: %v", err)
	}
	if len(resp.Outcomes) != 1 || !resp.Outcomes[0].OK {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAwaitResponseTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.json")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := AwaitResponse(ctx, path, "batch-1", 5*time.Millisecond)
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("got %v, want ErrNoResponse", err)
	}
}

func TestAwaitResponseIgnoresWrongBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.json")
	WriteResponse(path, &Response{BatchID: "stale-batch"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := AwaitResponse(ctx, path, "batch-2", 5*time.Millisecond)
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("stale batch must not satisfy the wait: %v", err)
	}
}

func TestAwaitResponseIgnoresPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.json")
	if err := os.WriteFile(path, []byte(`{"batch_id": "ba`), 0600); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		WriteResponse(path, &Response{BatchID: "batch-1"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := AwaitResponse(ctx, path, "batch-1", 5*time.Millisecond); err != nil {
		t.Errorf("truncated file must be retried, got %v", err)
	}
}
