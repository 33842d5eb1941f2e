package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/usbflow/usbpower-core/internal/audit"
	"github.com/usbflow/usbpower-core/internal/elevate"
	"github.com/usbflow/usbpower-core/internal/infrastructure/logging"
	"github.com/usbflow/usbpower-core/internal/usb"
)

// Scanner produces a fresh device set. Satisfied by *usb.Scanner.
type Scanner interface {
	Enumerate(ctx context.Context) ([]usb.Device, error)
}

// Writer applies a flag write batch. Satisfied by *elevate.Broker.
type Writer interface {
	Apply(ctx context.Context, ops []elevate.WriteOp) elevate.Result
}

// Recorder persists resolved write outcomes. Satisfied by *audit.Repository;
// nil disables recording.
type Recorder interface {
	RecordBatch(ctx context.Context, entries []audit.Entry) error
}

// Listener receives device set updates. Listeners run on the reconciler
// goroutine and must not block.
type Listener func(Update)

// Update is one published change to the device set.
type Update struct {
	// Devices is the full current set, sorted by name then path.
	Devices []usb.Device `json:"devices"`

	// Added, Changed and Removed list the registry paths that differ from
	// the previously published set.
	Added   []string `json:"added,omitempty"`
	Changed []string `json:"changed,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// DeviceOutcome pairs a device with the resolution of one write against it.
type DeviceOutcome struct {
	RegistryPath string           `json:"registry_path"`
	Outcome      usb.WriteOutcome `json:"outcome"`
}

// WriteReport is the resolution of one toggle or disable-all request.
type WriteReport struct {
	BatchID  string          `json:"batch_id"`
	Elevated bool            `json:"elevated"`
	Outcomes []DeviceOutcome `json:"outcomes"`
}

// outcomeRecord tracks the transient write outcome attached to one device
// across enumeration passes.
type outcomeRecord struct {
	outcome    usb.WriteOutcome
	wroteValue uint32
	verified   bool // read-back check performed
	ttl        int  // periodic passes until the record is dropped
}

// Reconciler owns the device set.
//
// All mutation happens on the Run goroutine: periodic re-enumeration, write
// requests and the read-back passes that follow writes. Snapshot reads are
// concurrent and return copies. Write requests queue on a channel and are
// served strictly in arrival order; each resolves exactly once.
type Reconciler struct {
	scanner  Scanner
	writer   Writer
	recorder Recorder
	logger   *logging.Logger
	interval time.Duration

	requests chan *request

	mu       sync.RWMutex
	devices  []usb.Device
	outcomes map[string]*outcomeRecord // lowercased path -> record

	listenerMu sync.Mutex
	listeners  []Listener
}

type requestKind int

const (
	kindToggle requestKind = iota
	kindDisableAll
	kindRefresh
)

type request struct {
	kind    requestKind
	path    string // kindToggle
	disable bool   // kindToggle
	reply   chan result
}

type result struct {
	report *WriteReport
	err    error
}

// New creates a Reconciler. recorder may be nil to disable audit recording.
func New(scanner Scanner, writer Writer, recorder Recorder, interval time.Duration, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		scanner:  scanner,
		writer:   writer,
		recorder: recorder,
		logger:   logger.With("component", "reconciler"),
		interval: interval,
		requests: make(chan *request, 64),
		outcomes: make(map[string]*outcomeRecord),
	}
}

// AddListener registers a device set listener. Must be called before Run.
func (r *Reconciler) AddListener(fn Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Run drives the reconciliation loop until ctx is cancelled. It performs an
// initial enumeration pass before entering the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	r.refresh(ctx, true)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drainRequests(ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx, true)
		case req := <-r.requests:
			r.handle(ctx, req)
		}
	}
}

// drainRequests fails any queued requests on shutdown so no caller hangs.
func (r *Reconciler) drainRequests(err error) {
	for {
		select {
		case req := <-r.requests:
			req.reply <- result{err: fmt.Errorf("reconciler stopped: %w", err)}
		default:
			return
		}
	}
}

// Snapshot returns a copy of the current device set.
func (r *Reconciler) Snapshot() []usb.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]usb.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Toggle requests one flag write and blocks until the write resolves or ctx
// expires. disable true writes the sleep-suppressing value, false restores
// power saving.
//
// Devices without the flag are rejected up front; the write path is never
// invoked for them.
func (r *Reconciler) Toggle(ctx context.Context, registryPath string, disable bool) (*WriteReport, error) {
	return r.submit(ctx, &request{
		kind:    kindToggle,
		path:    registryPath,
		disable: disable,
		reply:   make(chan result, 1),
	})
}

// DisableAll writes the sleep-suppressing value to every device currently
// exposing the flag, already-disabled ones included, as one batch. Each
// flag-bearing device gets an explicit outcome; an empty report means no
// device carries the flag.
func (r *Reconciler) DisableAll(ctx context.Context) (*WriteReport, error) {
	return r.submit(ctx, &request{
		kind:  kindDisableAll,
		reply: make(chan result, 1),
	})
}

// Refresh forces an enumeration pass and blocks until it completes.
func (r *Reconciler) Refresh(ctx context.Context) error {
	_, err := r.submit(ctx, &request{
		kind:  kindRefresh,
		reply: make(chan result, 1),
	})
	return err
}

func (r *Reconciler) submit(ctx context.Context, req *request) (*WriteReport, error) {
	select {
	case r.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.report, res.err
	case <-ctx.Done():
		// The loop will still resolve into the buffered reply channel.
		return nil, ctx.Err()
	}
}

// handle serves one queued request on the loop goroutine.
func (r *Reconciler) handle(ctx context.Context, req *request) {
	switch req.kind {
	case kindRefresh:
		err := r.refresh(ctx, true)
		req.reply <- result{err: err}
	case kindToggle:
		report, err := r.toggle(ctx, req.path, req.disable)
		req.reply <- result{report: report, err: err}
	case kindDisableAll:
		report, err := r.disableAll(ctx)
		req.reply <- result{report: report, err: err}
	}
}

func (r *Reconciler) toggle(ctx context.Context, path string, disable bool) (*WriteReport, error) {
	device, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	if !device.Toggleable() {
		return nil, fmt.Errorf("%w: %s", usb.ErrSleepUnavailable, device.RegistryPath)
	}

	value := usb.EPMSleepEnabled
	if disable {
		value = usb.EPMSleepDisabled
	}
	ops := []elevate.WriteOp{{RegistryPath: device.RegistryPath, Value: value}}
	return r.applyOps(ctx, ops)
}

func (r *Reconciler) disableAll(ctx context.Context) (*WriteReport, error) {
	var ops []elevate.WriteOp
	r.mu.RLock()
	for _, d := range r.devices {
		// Writes are idempotent, so already-disabled devices are included
		// and resolve to a confirming outcome.
		if d.Toggleable() {
			ops = append(ops, elevate.WriteOp{
				RegistryPath: d.RegistryPath,
				Value:        usb.EPMSleepDisabled,
			})
		}
	}
	r.mu.RUnlock()

	if len(ops) == 0 {
		return &WriteReport{}, nil
	}
	return r.applyOps(ctx, ops)
}

// applyOps runs one write batch end to end: mark pending, write through the
// broker, resolve outcomes, verify by read-back, record the audit trail.
func (r *Reconciler) applyOps(ctx context.Context, ops []elevate.WriteOp) (*WriteReport, error) {
	r.markPending(ops)

	res := r.writer.Apply(ctx, ops)

	report := &WriteReport{
		BatchID:  res.BatchID,
		Elevated: res.Elevated,
		Outcomes: make([]DeviceOutcome, len(ops)),
	}

	r.mu.Lock()
	for i, op := range ops {
		outcome := resolveOutcome(res.Outcomes[i])
		r.outcomes[strings.ToLower(op.RegistryPath)] = &outcomeRecord{
			outcome:    outcome,
			wroteValue: op.Value,
			ttl:        1,
		}
		report.Outcomes[i] = DeviceOutcome{RegistryPath: op.RegistryPath, Outcome: outcome}
	}
	r.mu.Unlock()

	// Immediate pass re-reads the store and catches writes that reported
	// success without taking effect.
	if err := r.refresh(ctx, false); err != nil {
		r.logger.Warn("post-write enumeration failed", "batch_id", res.BatchID, "error", err)
	}

	r.mu.RLock()
	for i := range report.Outcomes {
		if rec, ok := r.outcomes[strings.ToLower(report.Outcomes[i].RegistryPath)]; ok {
			report.Outcomes[i].Outcome = rec.outcome
		}
	}
	r.mu.RUnlock()

	r.record(ctx, res, ops, report)

	return report, nil
}

// resolveOutcome converts a broker outcome to the device-facing form.
func resolveOutcome(o elevate.OpOutcome) usb.WriteOutcome {
	if o.OK {
		return usb.WriteOutcome{Status: usb.WriteSucceeded}
	}
	return usb.WriteOutcome{Status: usb.WriteFailed, Reason: o.Reason}
}

// markPending flags the affected devices and publishes the intermediate set.
func (r *Reconciler) markPending(ops []elevate.WriteOp) {
	r.mu.Lock()
	for _, op := range ops {
		r.outcomes[strings.ToLower(op.RegistryPath)] = &outcomeRecord{
			outcome: usb.WriteOutcome{Status: usb.WritePending},
		}
	}
	changed := make([]string, len(ops))
	for i, op := range ops {
		changed[i] = op.RegistryPath
	}
	r.applyOutcomesLocked()
	devices := make([]usb.Device, len(r.devices))
	copy(devices, r.devices)
	r.mu.Unlock()

	r.publish(Update{Devices: devices, Changed: changed})
}

// record writes the batch resolution to the audit trail.
func (r *Reconciler) record(ctx context.Context, res elevate.Result, ops []elevate.WriteOp, report *WriteReport) {
	if r.recorder == nil {
		return
	}
	entries := make([]audit.Entry, len(ops))
	for i, op := range ops {
		status := audit.StatusFailed
		if report.Outcomes[i].Outcome.Status == usb.WriteSucceeded {
			status = audit.StatusSucceeded
		}
		entries[i] = audit.Entry{
			BatchID:      res.BatchID,
			RegistryPath: op.RegistryPath,
			Value:        op.Value,
			Status:       status,
			Reason:       report.Outcomes[i].Outcome.Reason,
			Elevated:     res.Elevated,
		}
	}
	if err := r.recorder.RecordBatch(ctx, entries); err != nil {
		r.logger.Error("record write audit", "batch_id", res.BatchID, "error", err)
	}
}

func (r *Reconciler) lookup(path string) (*usb.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, err := usb.Find(r.devices, path)
	if err != nil {
		return nil, err
	}
	d := *found
	return &d, nil
}

// refresh runs one enumeration pass and merges the result into the held
// set. periodic distinguishes scheduled passes, which age out resolved
// outcomes, from post-write verification passes, which do not.
func (r *Reconciler) refresh(ctx context.Context, periodic bool) error {
	fresh, err := r.scanner.Enumerate(ctx)
	if err != nil {
		r.logger.Warn("enumeration pass failed", "error", err)
		return err
	}

	r.mu.Lock()
	prev := r.devices
	r.devices = fresh
	if periodic {
		r.expireOutcomesLocked()
	}
	r.verifyOutcomesLocked()
	r.applyOutcomesLocked()
	update := diff(prev, r.devices)
	r.mu.Unlock()

	if update != nil {
		r.publish(*update)
	}
	return nil
}

// expireOutcomesLocked ages resolved outcomes: each record survives exactly
// one periodic pass after resolving, then clears.
func (r *Reconciler) expireOutcomesLocked() {
	for path, rec := range r.outcomes {
		switch rec.outcome.Status {
		case usb.WriteSucceeded, usb.WriteFailed:
			rec.ttl--
			if rec.ttl < 0 {
				delete(r.outcomes, path)
			}
		}
	}
}

// verifyOutcomesLocked downgrades successes whose written value did not
// survive the read-back.
func (r *Reconciler) verifyOutcomesLocked() {
	for _, d := range r.devices {
		rec, ok := r.outcomes[strings.ToLower(d.RegistryPath)]
		if !ok || rec.verified || rec.outcome.Status != usb.WriteSucceeded {
			continue
		}
		rec.verified = true
		if d.EPMValue == nil || *d.EPMValue != rec.wroteValue {
			rec.outcome = usb.WriteOutcome{
				Status: usb.WriteFailed,
				Reason: elevate.ReasonWriteIneffective,
			}
		}
	}
}

// applyOutcomesLocked stamps the held outcome records onto the device set.
func (r *Reconciler) applyOutcomesLocked() {
	for i := range r.devices {
		if rec, ok := r.outcomes[strings.ToLower(r.devices[i].RegistryPath)]; ok {
			r.devices[i].LastWriteOutcome = rec.outcome
		} else {
			r.devices[i].LastWriteOutcome = usb.WriteOutcome{Status: usb.WriteNone}
		}
	}
}

func (r *Reconciler) publish(update Update) {
	r.listenerMu.Lock()
	listeners := r.listeners
	r.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(update)
	}
}

// diff compares two sorted device sets and returns nil when nothing
// observable changed.
func diff(prev, next []usb.Device) *Update {
	prevByPath := make(map[string]usb.Device, len(prev))
	for _, d := range prev {
		prevByPath[strings.ToLower(d.RegistryPath)] = d
	}

	update := Update{}
	seen := make(map[string]bool, len(next))
	for _, d := range next {
		key := strings.ToLower(d.RegistryPath)
		seen[key] = true
		old, ok := prevByPath[key]
		if !ok {
			update.Added = append(update.Added, d.RegistryPath)
			continue
		}
		if !devicesEqual(old, d) {
			update.Changed = append(update.Changed, d.RegistryPath)
		}
	}
	for _, d := range prev {
		if !seen[strings.ToLower(d.RegistryPath)] {
			update.Removed = append(update.Removed, d.RegistryPath)
		}
	}

	if len(update.Added) == 0 && len(update.Changed) == 0 && len(update.Removed) == 0 {
		return nil
	}
	update.Devices = make([]usb.Device, len(next))
	copy(update.Devices, next)
	return &update
}

func devicesEqual(a, b usb.Device) bool {
	if a.FriendlyName != b.FriendlyName ||
		a.Manufacturer != b.Manufacturer ||
		a.DeviceType != b.DeviceType ||
		a.SleepState != b.SleepState ||
		a.LastWriteOutcome != b.LastWriteOutcome {
		return false
	}
	switch {
	case a.EPMValue == nil && b.EPMValue == nil:
		return true
	case a.EPMValue == nil || b.EPMValue == nil:
		return false
	default:
		return *a.EPMValue == *b.EPMValue
	}
}
