package elevate

// WriteOp is one registry flag write, expressed the same way on the direct
// path and across the elevation boundary.
type WriteOp struct {
	// RegistryPath is the Device Parameters key to write under.
	RegistryPath string `json:"registry_path"`

	// Value is the flag value to set.
	Value uint32 `json:"value"`
}

// OpOutcome is the per-operation result of a batch. Outcomes correspond 1:1
// to the submitted operations; a batch-level failure is expanded into one
// failed outcome per operation.
type OpOutcome struct {
	RegistryPath string `json:"registry_path"`
	OK           bool   `json:"ok"`
	Reason       string `json:"reason,omitempty"`
}

// Failure reasons attached to unsuccessful outcomes.
const (
	// ReasonDenied: the write was refused even on the elevated path.
	ReasonDenied = "denied"

	// ReasonDeclined: the user refused the elevation prompt.
	ReasonDeclined = "declined"

	// ReasonSpawnError: the elevated helper could not be launched.
	ReasonSpawnError = "spawn-error"

	// ReasonNoResponse: the helper produced no result before the deadline.
	ReasonNoResponse = "no-response"

	// ReasonWriteIneffective: the write reported success but the value read
	// back unchanged.
	ReasonWriteIneffective = "write-ineffective"
)

// failAll produces one failed outcome per operation with the given reason.
func failAll(ops []WriteOp, reason string) []OpOutcome {
	outcomes := make([]OpOutcome, len(ops))
	for i, op := range ops {
		outcomes[i] = OpOutcome{RegistryPath: op.RegistryPath, Reason: reason}
	}
	return outcomes
}
