package elevate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usbflow/usbpower-core/internal/infrastructure/logging"
	"github.com/usbflow/usbpower-core/internal/regstore"
)

// Broker applies batches of flag writes, escalating privileges only when
// the direct path proves insufficient.
//
// A batch first attempts every write directly. If any write comes back
// access-denied, the entire batch is handed to the elevated helper in one
// round trip, so a batch costs at most one consent prompt. Re-writing the
// operations that already succeeded directly is harmless, the writes are
// idempotent.
//
// At most one elevation round trip runs at a time; concurrent batches that
// need elevation queue on an internal mutex.
type Broker struct {
	store    regstore.Store
	launcher Launcher
	logger   *logging.Logger

	timeout time.Duration // deadline for the helper response
	poll    time.Duration // response file poll interval
	workDir string        // parent dir for handshake files, "" means os temp

	elevationMu sync.Mutex
}

// Options configures a Broker.
type Options struct {
	// Timeout bounds each elevation round trip, consent prompt included.
	Timeout time.Duration

	// PollInterval is how often the response file is checked.
	PollInterval time.Duration

	// WorkDir is the parent directory for handshake files. Empty selects
	// the OS temp directory.
	WorkDir string
}

// NewBroker creates a Broker.
func NewBroker(store regstore.Store, launcher Launcher, opts Options, logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Broker{
		store:    store,
		launcher: launcher,
		logger:   logger.With("component", "broker"),
		timeout:  opts.Timeout,
		poll:     opts.PollInterval,
		workDir:  opts.WorkDir,
	}
}

// Result is the resolution of one batch.
type Result struct {
	// BatchID identifies the batch in logs and the audit trail.
	BatchID string

	// Elevated reports whether the batch went through the elevated helper.
	Elevated bool

	// Outcomes correspond 1:1, in order, to the submitted operations.
	Outcomes []OpOutcome
}

// Apply performs the batch and returns one outcome per operation, in the
// same order. Apply never returns an error: every failure mode is expressed
// as a per-operation outcome.
func (b *Broker) Apply(ctx context.Context, ops []WriteOp) Result {
	res := Result{BatchID: uuid.New().String()}
	if len(ops) == 0 {
		return res
	}

	res.Outcomes = make([]OpOutcome, len(ops))
	needElevation := false
	for i, op := range ops {
		res.Outcomes[i] = b.applyDirect(op)
		if !res.Outcomes[i].OK && res.Outcomes[i].Reason == ReasonDenied {
			needElevation = true
		}
	}
	if !needElevation {
		return res
	}

	b.logger.Info("direct write denied, elevating batch", "batch_id", res.BatchID, "ops", len(ops))
	res.Elevated = true
	res.Outcomes = b.applyElevated(ctx, res.BatchID, ops)
	return res
}

// applyDirect attempts one write in-process and verifies it by read-back.
func (b *Broker) applyDirect(op WriteOp) OpOutcome {
	outcome := OpOutcome{RegistryPath: op.RegistryPath}

	if err := b.store.SetDWord(op.RegistryPath, attrEPMEnabled, op.Value); err != nil {
		if errors.Is(err, regstore.ErrAccessDenied) {
			outcome.Reason = ReasonDenied
		} else {
			outcome.Reason = err.Error()
		}
		return outcome
	}

	got, err := b.store.GetDWord(op.RegistryPath, attrEPMEnabled)
	if err != nil || got != op.Value {
		// The OS accepted the call but the value did not stick. Treat it
		// like a denial so the elevated path gets a chance.
		outcome.Reason = ReasonDenied
		return outcome
	}

	outcome.OK = true
	return outcome
}

// applyElevated runs the whole batch through one elevation round trip.
func (b *Broker) applyElevated(ctx context.Context, batchID string, ops []WriteOp) []OpOutcome {
	b.elevationMu.Lock()
	defer b.elevationMu.Unlock()

	logger := b.logger.With("batch_id", batchID)

	dir, err := os.MkdirTemp(b.workDir, "usbpower-elevate-")
	if err != nil {
		logger.Error("create handshake dir", "error", err)
		return failAll(ops, ReasonSpawnError)
	}
	defer os.RemoveAll(dir)

	requestPath := filepath.Join(dir, "request.json")
	responsePath := filepath.Join(dir, "response.json")

	if err := WriteRequest(requestPath, &Request{BatchID: batchID, Ops: ops}); err != nil {
		logger.Error("write request file", "error", err)
		return failAll(ops, ReasonSpawnError)
	}

	if err := b.launcher.Launch(ctx, requestPath, responsePath); err != nil {
		if errors.Is(err, ErrElevationDeclined) {
			logger.Info("elevation declined by user")
			return failAll(ops, ReasonDeclined)
		}
		logger.Error("launch elevated helper", "error", err)
		return failAll(ops, ReasonSpawnError)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := AwaitResponse(waitCtx, responsePath, batchID, b.poll)
	if err != nil {
		logger.Warn("helper produced no response", "error", err)
		return failAll(ops, ReasonNoResponse)
	}

	logger.Info("elevated batch completed", "ops", len(ops))
	return matchOutcomes(ops, resp.Outcomes)
}

// matchOutcomes reorders the helper's outcomes to the submitted op order.
// Any op the helper did not report on resolves as no-response.
func matchOutcomes(ops []WriteOp, reported []OpOutcome) []OpOutcome {
	byPath := make(map[string]OpOutcome, len(reported))
	for _, o := range reported {
		byPath[o.RegistryPath] = o
	}

	outcomes := make([]OpOutcome, len(ops))
	for i, op := range ops {
		if o, ok := byPath[op.RegistryPath]; ok {
			outcomes[i] = o
			continue
		}
		outcomes[i] = OpOutcome{
			RegistryPath: op.RegistryPath,
			Reason:       fmt.Sprintf("%s: op missing from helper response", ReasonNoResponse),
		}
	}
	return outcomes
}
