package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/usbflow/usbpower-core/internal/audit"
	"github.com/usbflow/usbpower-core/internal/elevate"
	"github.com/usbflow/usbpower-core/internal/regstore"
	"github.com/usbflow/usbpower-core/internal/usb"
)

const (
	testRoot = `SYSTEM\CurrentControlSet\Enum\USB`
	epmAttr  = "EnhancedPowerManagementEnabled"
)

// fakeWriter implements Writer against the same store the scanner reads,
// recording every batch it receives.
type fakeWriter struct {
	mu       sync.Mutex
	store    *regstore.MemStore
	batches  [][]elevate.WriteOp
	inert    bool // report success without writing
	failWith string
}

func (w *fakeWriter) Apply(_ context.Context, ops []elevate.WriteOp) elevate.Result {
	w.mu.Lock()
	batch := make([]elevate.WriteOp, len(ops))
	copy(batch, ops)
	w.batches = append(w.batches, batch)
	w.mu.Unlock()

	res := elevate.Result{BatchID: "batch-test", Outcomes: make([]elevate.OpOutcome, len(ops))}
	for i, op := range ops {
		if w.failWith != "" {
			res.Outcomes[i] = elevate.OpOutcome{RegistryPath: op.RegistryPath, Reason: w.failWith}
			continue
		}
		if !w.inert {
			w.store.SetDWord(op.RegistryPath, epmAttr, op.Value)
		}
		res.Outcomes[i] = elevate.OpOutcome{RegistryPath: op.RegistryPath, OK: true}
	}
	return res
}

func (w *fakeWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

// fakeRecorder captures audit batches.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) RecordBatch(_ context.Context, entries []audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return nil
}

func addDevice(store *regstore.MemStore, instance, name string, epm *uint32) string {
	parent := testRoot + `\` + instance
	param := parent + `\Device Parameters`
	store.CreateKey(param)
	store.PutString(parent, "FriendlyName", name)
	if epm != nil {
		store.PutDWord(param, epmAttr, *epm)
	}
	return param
}

func u32(v uint32) *uint32 { return &v }

type fixture struct {
	store    *regstore.MemStore
	writer   *fakeWriter
	recorder *fakeRecorder
	rec      *Reconciler
	cancel   context.CancelFunc
	done     chan error
}

// start spins up a reconciler with a long periodic interval so tests drive
// every pass explicitly through Refresh.
func start(t *testing.T, store *regstore.MemStore) *fixture {
	t.Helper()
	writer := &fakeWriter{store: store}
	recorder := &fakeRecorder{}
	rec := New(usb.NewScanner(store, testRoot, nil), writer, recorder, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f := &fixture{store: store, writer: writer, recorder: recorder, rec: rec, cancel: cancel, done: done}
	// Wait for the loop to be serving requests
	if err := rec.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	return f
}

func TestEnumerationSnapshot(t *testing.T) {
	store := regstore.NewMemStore()
	addDevice(store, `VID_0001\a`, "Keyboard", u32(1))
	addDevice(store, `VID_0002\b`, "Mouse", u32(0))
	addDevice(store, `VID_0003\c`, "Webcam", nil)

	f := start(t, store)

	devices := f.rec.Snapshot()
	if len(devices) != 3 {
		t.Fatalf("got %d devices, want 3", len(devices))
	}
	if devices[0].FriendlyName != "Keyboard" || devices[0].SleepState != usb.SleepEnabled {
		t.Errorf("unexpected first device %+v", devices[0])
	}
	if devices[2].SleepState != usb.SleepUnavailable {
		t.Errorf("webcam should be unavailable, got %s", devices[2].SleepState)
	}
}

func TestToggleDisable(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	f := start(t, store)

	report, err := f.rec.Toggle(context.Background(), param, true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Outcome.Status != usb.WriteSucceeded {
		t.Fatalf("unexpected report %+v", report)
	}

	devices := f.rec.Snapshot()
	if devices[0].SleepState != usb.SleepDisabled {
		t.Errorf("state after write = %s, want disabled", devices[0].SleepState)
	}
	if devices[0].LastWriteOutcome.Status != usb.WriteSucceeded {
		t.Errorf("outcome after write = %+v", devices[0].LastWriteOutcome)
	}
	if v, _ := store.GetDWord(param, epmAttr); v != 0 {
		t.Errorf("store value = %d, want 0", v)
	}

	// Re-enable
	report, err = f.rec.Toggle(context.Background(), param, false)
	if err != nil {
		t.Fatalf("Toggle back: %v", err)
	}
	if report.Outcomes[0].Outcome.Status != usb.WriteSucceeded {
		t.Fatalf("unexpected report %+v", report)
	}
	if v, _ := store.GetDWord(param, epmAttr); v != 1 {
		t.Errorf("store value = %d, want 1", v)
	}
}

func TestToggleOutcomeClearsAfterPeriodicPasses(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	f := start(t, store)
	ctx := context.Background()

	if _, err := f.rec.Toggle(ctx, param, true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if f.rec.Snapshot()[0].LastWriteOutcome.Status != usb.WriteSucceeded {
		t.Fatalf("outcome should survive the post-write pass")
	}

	// Outcomes stay visible through one periodic pass and clear on the next
	f.rec.Refresh(ctx)
	if got := f.rec.Snapshot()[0].LastWriteOutcome.Status; got != usb.WriteSucceeded {
		t.Errorf("after first periodic pass: %s, want succeeded", got)
	}
	f.rec.Refresh(ctx)
	if got := f.rec.Snapshot()[0].LastWriteOutcome.Status; got != usb.WriteNone {
		t.Errorf("after second periodic pass: %s, want none", got)
	}
}

func TestToggleUnknownDevice(t *testing.T) {
	store := regstore.NewMemStore()
	addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	f := start(t, store)

	_, err := f.rec.Toggle(context.Background(), `USB\nope\Device Parameters`, true)
	if !errors.Is(err, usb.ErrDeviceNotFound) {
		t.Errorf("got %v, want ErrDeviceNotFound", err)
	}
	if f.writer.batchCount() != 0 {
		t.Errorf("unknown device must not reach the write path")
	}
}

func TestToggleUnavailableDeviceRejected(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Webcam", nil)

	f := start(t, store)

	_, err := f.rec.Toggle(context.Background(), param, true)
	if !errors.Is(err, usb.ErrSleepUnavailable) {
		t.Errorf("got %v, want ErrSleepUnavailable", err)
	}
	if f.writer.batchCount() != 0 {
		t.Errorf("unavailable device must not reach the write path")
	}
}

func TestToggleWriteIneffective(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	f := start(t, store)
	f.writer.inert = true // claims success, writes nothing

	report, err := f.rec.Toggle(context.Background(), param, true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	outcome := report.Outcomes[0].Outcome
	if outcome.Status != usb.WriteFailed || outcome.Reason != elevate.ReasonWriteIneffective {
		t.Errorf("got %+v, want failed/write-ineffective", outcome)
	}
	if got := f.rec.Snapshot()[0].SleepState; got != usb.SleepEnabled {
		t.Errorf("state must reflect the store, got %s", got)
	}
}

func TestToggleFailureReasonSurfaces(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	f := start(t, store)
	f.writer.failWith = elevate.ReasonDeclined

	report, err := f.rec.Toggle(context.Background(), param, true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	outcome := report.Outcomes[0].Outcome
	if outcome.Status != usb.WriteFailed || outcome.Reason != elevate.ReasonDeclined {
		t.Errorf("got %+v, want failed/declined", outcome)
	}
	if got := f.rec.Snapshot()[0].LastWriteOutcome; got != outcome {
		t.Errorf("device outcome %+v does not match report %+v", got, outcome)
	}
}

func TestDisableAllCoversFlagBearingDevices(t *testing.T) {
	store := regstore.NewMemStore()
	flagged := []string{
		addDevice(store, `VID_0001\a`, "Keyboard", u32(1)),
		addDevice(store, `VID_0002\b`, "Mouse", u32(1)),
		addDevice(store, `VID_0003\c`, "Already Off", u32(0)),
	}
	webcam := addDevice(store, `VID_0004\d`, "Webcam", nil)

	f := start(t, store)

	// Every flag-bearing device gets an outcome, already-disabled included
	report, err := f.rec.DisableAll(context.Background())
	if err != nil {
		t.Fatalf("DisableAll: %v", err)
	}
	if len(report.Outcomes) != len(flagged) {
		t.Fatalf("got %d outcomes, want %d", len(report.Outcomes), len(flagged))
	}
	covered := make(map[string]bool)
	for _, o := range report.Outcomes {
		if o.Outcome.Status != usb.WriteSucceeded {
			t.Errorf("%s outcome %+v, want succeeded", o.RegistryPath, o.Outcome)
		}
		covered[strings.ToLower(o.RegistryPath)] = true
	}
	for _, p := range flagged {
		if !covered[strings.ToLower(p)] {
			t.Errorf("no outcome for %s", p)
		}
	}
	if covered[strings.ToLower(webcam)] {
		t.Errorf("flagless device must not be written")
	}
	if f.writer.batchCount() != 1 {
		t.Errorf("disable-all must submit one batch, got %d", f.writer.batchCount())
	}
	for _, p := range flagged {
		if v, _ := store.GetDWord(p, epmAttr); v != 0 {
			t.Errorf("%s not disabled", p)
		}
	}

	// A second pass re-confirms the same set
	report, err = f.rec.DisableAll(context.Background())
	if err != nil {
		t.Fatalf("second DisableAll: %v", err)
	}
	if len(report.Outcomes) != len(flagged) {
		t.Errorf("second pass got %d outcomes, want %d", len(report.Outcomes), len(flagged))
	}
}

func TestDisableAllWithoutFlagBearingDevices(t *testing.T) {
	store := regstore.NewMemStore()
	addDevice(store, `VID_0001\a`, "Webcam", nil)

	f := start(t, store)

	report, err := f.rec.DisableAll(context.Background())
	if err != nil {
		t.Fatalf("DisableAll: %v", err)
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("got %d outcomes, want 0", len(report.Outcomes))
	}
	if f.writer.batchCount() != 0 {
		t.Errorf("flagless set must not reach the write path")
	}
}

func TestConcurrentTogglesEachResolveOnce(t *testing.T) {
	store := regstore.NewMemStore()
	params := []string{
		addDevice(store, `VID_0001\a`, "A", u32(1)),
		addDevice(store, `VID_0002\b`, "B", u32(1)),
		addDevice(store, `VID_0003\c`, "C", u32(1)),
		addDevice(store, `VID_0004\d`, "D", u32(1)),
	}

	f := start(t, store)

	var wg sync.WaitGroup
	results := make([]*WriteReport, len(params))
	errs := make([]error, len(params))
	for i, p := range params {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.rec.Toggle(context.Background(), p, true)
		}()
	}
	wg.Wait()

	for i := range params {
		if errs[i] != nil {
			t.Fatalf("toggle %d: %v", i, errs[i])
		}
		if len(results[i].Outcomes) != 1 || results[i].Outcomes[0].Outcome.Status != usb.WriteSucceeded {
			t.Errorf("toggle %d unexpected report %+v", i, results[i])
		}
	}
	if f.writer.batchCount() != len(params) {
		t.Errorf("got %d batches, want %d", f.writer.batchCount(), len(params))
	}
}

func TestDeviceRemovalDetected(t *testing.T) {
	store := regstore.NewMemStore()
	addDevice(store, `VID_0001\a`, "Keyboard", u32(1))
	removable := addDevice(store, `VID_0002\b`, "Stick", u32(1))

	f := start(t, store)
	ctx := context.Background()

	if got := len(f.rec.Snapshot()); got != 2 {
		t.Fatalf("got %d devices, want 2", got)
	}

	// Unplug between passes
	store.DeleteKey(testRoot + `\VID_0002`)
	f.rec.Refresh(ctx)

	devices := f.rec.Snapshot()
	if len(devices) != 1 {
		t.Fatalf("got %d devices after removal, want 1", len(devices))
	}
	if strings.EqualFold(devices[0].RegistryPath, removable) {
		t.Errorf("removed device still present")
	}
}

func TestListenerReceivesUpdates(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	writer := &fakeWriter{store: store}
	rec := New(usb.NewScanner(store, testRoot, nil), writer, nil, time.Hour, nil)

	var mu sync.Mutex
	var updates []Update
	rec.AddListener(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	rec.Refresh(context.Background())
	if _, err := rec.Toggle(context.Background(), param, true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("no updates published")
	}
	// Initial discovery announces the device as added
	if len(updates[0].Added) != 1 {
		t.Errorf("first update should add the device: %+v", updates[0])
	}
	// The write publishes a pending state before resolving
	sawPending := false
	for _, u := range updates {
		for _, d := range u.Devices {
			if d.LastWriteOutcome.Status == usb.WritePending {
				sawPending = true
			}
		}
	}
	if !sawPending {
		t.Errorf("pending state never published")
	}
}

func TestAuditTrailRecorded(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	f := start(t, store)

	if _, err := f.rec.Toggle(context.Background(), param, true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(f.recorder.entries))
	}
	e := f.recorder.entries[0]
	if e.RegistryPath != param || e.Status != audit.StatusSucceeded || e.Value != 0 {
		t.Errorf("unexpected audit entry %+v", e)
	}
	if e.BatchID == "" {
		t.Errorf("audit entry missing batch id")
	}
}

func TestToggleWithNilAuditRepository(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))

	// A nil *audit.Repository wrapped in the Recorder interface is not a
	// nil interface; the write path must still resolve cleanly.
	writer := &fakeWriter{store: store}
	var repo *audit.Repository
	rec := New(usb.NewScanner(store, testRoot, nil), writer, repo, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	rec.Refresh(context.Background())

	report, err := rec.Toggle(context.Background(), param, true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Outcome.Status != usb.WriteSucceeded {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestToggleThroughBrokerDeclined(t *testing.T) {
	store := regstore.NewMemStore()
	param := addDevice(store, `VID_0001\a`, "Keyboard", u32(1))
	store.DenyWrite(param)

	launcher := launcherFunc(func(context.Context, string, string) error {
		return elevate.ErrElevationDeclined
	})
	broker := elevate.NewBroker(store, launcher, elevate.Options{
		Timeout:      200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, nil)
	rec := New(usb.NewScanner(store, testRoot, nil), broker, nil, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	rec.Refresh(context.Background())

	report, err := rec.Toggle(context.Background(), param, true)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	outcome := report.Outcomes[0].Outcome
	if outcome.Status != usb.WriteFailed || outcome.Reason != elevate.ReasonDeclined {
		t.Errorf("got %+v, want failed/declined", outcome)
	}
	if v, _ := store.GetDWord(param, epmAttr); v != 1 {
		t.Errorf("declined write must not change the store")
	}
}

type launcherFunc func(ctx context.Context, requestPath, responsePath string) error

func (f launcherFunc) Launch(ctx context.Context, requestPath, responsePath string) error {
	return f(ctx, requestPath, responsePath)
}
