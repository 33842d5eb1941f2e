package elevate

import (
	"errors"

	"github.com/usbflow/usbpower-core/internal/regstore"
)

// Executor is the helper-side half of the protocol. It runs inside the
// elevated process: read the request file, apply every operation, write the
// response file, exit.
type Executor struct {
	store regstore.Store
}

// NewExecutor creates an Executor over the given store.
func NewExecutor(store regstore.Store) *Executor {
	return &Executor{store: store}
}

// Run processes one request file end to end. It always attempts every
// operation; a failure in one never skips the rest. The returned error is
// non-nil only when the request cannot be read or the response cannot be
// written, which the unelevated side observes as no-response.
func (e *Executor) Run(requestPath, responsePath string) error {
	req, err := ReadRequest(requestPath)
	if err != nil {
		return err
	}

	resp := &Response{
		BatchID:  req.BatchID,
		Outcomes: make([]OpOutcome, len(req.Ops)),
	}
	for i, op := range req.Ops {
		resp.Outcomes[i] = e.apply(op)
	}

	return WriteResponse(responsePath, resp)
}

// apply performs one write and verifies it by reading the value back.
func (e *Executor) apply(op WriteOp) OpOutcome {
	outcome := OpOutcome{RegistryPath: op.RegistryPath}

	if err := e.store.SetDWord(op.RegistryPath, attrEPMEnabled, op.Value); err != nil {
		if errors.Is(err, regstore.ErrAccessDenied) {
			outcome.Reason = ReasonDenied
		} else {
			outcome.Reason = err.Error()
		}
		return outcome
	}

	got, err := e.store.GetDWord(op.RegistryPath, attrEPMEnabled)
	if err != nil || got != op.Value {
		outcome.Reason = ReasonWriteIneffective
		return outcome
	}

	outcome.OK = true
	return outcome
}

// attrEPMEnabled mirrors usb.AttrEPMEnabled without importing the domain
// package into the helper binary's dependency set.
const attrEPMEnabled = "EnhancedPowerManagementEnabled"
