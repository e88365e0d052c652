package ballast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	thresholdSetting = IntSetting("cluster.pa.threshold", 5)
	modeSetting      = StringSetting("cluster.pa.mode", "auto")
)

func testManaged() Managed {
	return NewManaged(
		[]Setting[int]{thresholdSetting},
		[]Setting[string]{modeSetting},
	)
}

// intRecorder records int setting deliveries.
type intRecorder struct {
	mu     sync.Mutex
	calls  atomic.Int32
	values []int
	err    error
}

func (r *intRecorder) OnSettingUpdate(_ context.Context, value int) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.values = append(r.values, value)
	r.mu.Unlock()
	return r.err
}

func (r *intRecorder) recorded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.values))
	copy(out, r.values)
	return out
}

// stringRecorder records string setting deliveries.
type stringRecorder struct {
	mu     sync.Mutex
	calls  atomic.Int32
	values []string
}

func (r *stringRecorder) OnSettingUpdate(_ context.Context, value string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.values = append(r.values, value)
	r.mu.Unlock()
	return nil
}

func (r *stringRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// panicListener panics on every delivery.
type panicListener struct{}

func (*panicListener) OnSettingUpdate(_ context.Context, _ int) error {
	panic("listener exploded")
}

// recordingMetrics captures MetricsProvider callbacks.
type recordingMetrics struct {
	mu               sync.Mutex
	transitions      []string
	dispatchKeys     []string
	dispatchCounts   []int
	listenerFailures map[string]int
	decodeFailures   map[string]int
	snapshotFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		listenerFailures: make(map[string]int),
		decodeFailures:   make(map[string]int),
	}
}

func (p *recordingMetrics) OnStateChange(from, to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, from.String()+">"+to.String())
}

func (p *recordingMetrics) OnDispatch(key string, listeners int, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatchKeys = append(p.dispatchKeys, key)
	p.dispatchCounts = append(p.dispatchCounts, listeners)
}

func (p *recordingMetrics) OnListenerFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listenerFailures[key]++
}

func (p *recordingMetrics) OnDecodeFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decodeFailures[key]++
}

func (p *recordingMetrics) OnSnapshotFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshotFailures++
}

func TestManager_SubscribeUnmanagedInt(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	err := m.SubscribeInt(IntSetting("not.managed", 0), &intRecorder{})
	if !errors.Is(err, ErrUnmanagedSetting) {
		t.Errorf("expected ErrUnmanagedSetting, got %v", err)
	}
}

func TestManager_SubscribeUnmanagedString(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	err := m.SubscribeString(StringSetting("not.managed", ""), &stringRecorder{})
	if !errors.Is(err, ErrUnmanagedSetting) {
		t.Errorf("expected ErrUnmanagedSetting, got %v", err)
	}
}

func TestManager_SubscribeWrongKind(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	// The mode key is managed as a string, not as an int.
	err := m.SubscribeInt(IntSetting("cluster.pa.mode", 0), &intRecorder{})
	if !errors.Is(err, ErrUnmanagedSetting) {
		t.Errorf("expected ErrUnmanagedSetting for wrong kind, got %v", err)
	}
}

func TestManager_SubscribeNilListener(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	if err := m.SubscribeInt(thresholdSetting, nil); !errors.Is(err, ErrNilListener) {
		t.Errorf("expected ErrNilListener, got %v", err)
	}
	if err := m.SubscribeString(modeSetting, nil); !errors.Is(err, ErrNilListener) {
		t.Errorf("expected ErrNilListener, got %v", err)
	}
}

func TestManager_SubscribeIdempotent(t *testing.T) {
	mc := NewMemoryCluster()
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	if err := m.SubscribeInt(thresholdSetting, recorder); err != nil {
		t.Fatalf("SubscribeInt() error = %v", err)
	}
	if err := m.SubscribeInt(thresholdSetting, recorder); err != nil {
		t.Fatalf("duplicate SubscribeInt() error = %v", err)
	}

	m.Initialize(context.Background())
	mc.Set("cluster.pa.threshold", "10")

	if recorder.calls.Load() != 1 {
		t.Errorf("expected 1 delivery for duplicate subscription, got %d", recorder.calls.Load())
	}
}

func TestManager_InitializeImmediate(t *testing.T) {
	mc := NewMemoryCluster()
	mc.Seed(map[string]string{
		"cluster.pa.threshold": "10",
		"cluster.pa.mode":      "manual",
	})
	m := New(mc, testManaged()).SyncMode()

	ints := &intRecorder{}
	strs := &stringRecorder{}
	if err := m.SubscribeInt(thresholdSetting, ints); err != nil {
		t.Fatalf("SubscribeInt() error = %v", err)
	}
	if err := m.SubscribeString(modeSetting, strs); err != nil {
		t.Fatalf("SubscribeString() error = %v", err)
	}

	m.Initialize(context.Background())

	if m.State() != StateSteady {
		t.Errorf("expected steady state, got %s", m.State())
	}
	if got := ints.recorded(); len(got) != 1 || got[0] != 10 {
		t.Errorf("expected snapshot delivery [10], got %v", got)
	}
	if got := strs.recorded(); len(got) != 1 || got[0] != "manual" {
		t.Errorf("expected snapshot delivery [manual], got %v", got)
	}
}

func TestManager_InitializeSkipsAbsentSnapshotKeys(t *testing.T) {
	mc := NewMemoryCluster()
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged()).SyncMode()

	ints := &intRecorder{}
	strs := &stringRecorder{}
	m.SubscribeInt(thresholdSetting, ints)
	m.SubscribeString(modeSetting, strs)

	m.Initialize(context.Background())

	if ints.calls.Load() != 1 {
		t.Errorf("expected present key delivered, got %d calls", ints.calls.Load())
	}
	if strs.calls.Load() != 0 {
		t.Errorf("expected absent key skipped, got %d calls", strs.calls.Load())
	}
}

func TestManager_InitializeDeferred(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetAvailable(false)
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	m.Initialize(context.Background())

	if m.State() != StateAwaitingCluster {
		t.Fatalf("expected awaiting state, got %s", m.State())
	}
	if recorder.calls.Load() != 0 {
		t.Fatalf("expected no delivery before cluster available, got %d", recorder.calls.Load())
	}

	mc.SetAvailable(true)

	if m.State() != StateSteady {
		t.Errorf("expected steady state after availability, got %s", m.State())
	}
	if got := recorder.recorded(); len(got) != 1 || got[0] != 10 {
		t.Errorf("expected snapshot delivery [10], got %v", got)
	}
}

func TestManager_DeferredIgnoresUnavailableSignals(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetAvailable(false)
	m := New(mc, testManaged()).SyncMode()

	m.Initialize(context.Background())

	mc.SetAvailable(false)
	mc.SetAvailable(false)

	if m.State() != StateAwaitingCluster {
		t.Errorf("expected awaiting state after unavailable signals, got %s", m.State())
	}

	mc.SetAvailable(true)

	if m.State() != StateSteady {
		t.Errorf("expected steady state, got %s", m.State())
	}
}

func TestManager_BootstrapRunsOnce(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetAvailable(false)
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	m.Initialize(context.Background())

	mc.SetAvailable(true)
	mc.SetAvailable(true)
	mc.SetAvailable(true)

	if recorder.calls.Load() != 1 {
		t.Errorf("expected exactly one snapshot delivery, got %d", recorder.calls.Load())
	}
}

func TestManager_ConcurrentAvailabilitySignals(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetAvailable(false)
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	m.Initialize(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.SetAvailable(true)
		}()
	}
	wg.Wait()

	if recorder.calls.Load() != 1 {
		t.Errorf("expected exactly one snapshot delivery, got %d", recorder.calls.Load())
	}
	if m.State() != StateSteady {
		t.Errorf("expected steady state, got %s", m.State())
	}
}

func TestManager_InitializeTwiceNoOp(t *testing.T) {
	mc := NewMemoryCluster()
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	ctx := context.Background()
	m.Initialize(ctx)
	m.Initialize(ctx)

	if recorder.calls.Load() != 1 {
		t.Fatalf("expected one snapshot delivery, got %d", recorder.calls.Load())
	}

	// A second Initialize must not have registered duplicate hooks.
	mc.Set("cluster.pa.threshold", "11")

	if recorder.calls.Load() != 2 {
		t.Errorf("expected single hook delivery per change, got %d total calls", recorder.calls.Load())
	}
}

func TestManager_ConcurrentInitialize(t *testing.T) {
	mc := NewMemoryCluster()
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Initialize(context.Background())
		}()
	}
	wg.Wait()

	if recorder.calls.Load() != 1 {
		t.Errorf("expected exactly one snapshot delivery, got %d", recorder.calls.Load())
	}
	if m.State() != StateSteady {
		t.Errorf("expected steady state, got %s", m.State())
	}
}

func TestManager_StateQueryErrorDefersBootstrap(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetStateError(errors.New("probe failed"))
	m := New(mc, testManaged()).SyncMode()

	m.Initialize(context.Background())

	if m.State() != StateAwaitingCluster {
		t.Fatalf("expected awaiting state on query error, got %s", m.State())
	}

	mc.SetStateError(nil)
	mc.SetAvailable(true)

	if m.State() != StateSteady {
		t.Errorf("expected steady state after recovery, got %s", m.State())
	}
}

func TestManager_SnapshotFailureIsTerminal(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetSnapshotError(errors.New("read failed"))
	metrics := newRecordingMetrics()
	m := New(mc, testManaged()).SyncMode().Metrics(metrics)

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	m.Initialize(context.Background())

	if m.State() != StateSteady {
		t.Errorf("expected steady state despite snapshot failure, got %s", m.State())
	}
	if recorder.calls.Load() != 0 {
		t.Errorf("expected no delivery from failed snapshot, got %d", recorder.calls.Load())
	}
	if m.LastError() == nil {
		t.Error("expected LastError after snapshot failure")
	}
	if metrics.snapshotFailures != 1 {
		t.Errorf("expected 1 snapshot failure, got %d", metrics.snapshotFailures)
	}

	// Change hooks were registered before the snapshot request, so live
	// changes still flow.
	mc.Set("cluster.pa.threshold", "7")

	if got := recorder.recorded(); len(got) != 1 || got[0] != 7 {
		t.Errorf("expected live delivery [7], got %v", got)
	}
}

func TestManager_LiveChangeDispatch(t *testing.T) {
	mc := NewMemoryCluster()
	m := New(mc, testManaged()).SyncMode()

	ints := &intRecorder{}
	strs := &stringRecorder{}
	m.SubscribeInt(thresholdSetting, ints)
	m.SubscribeString(modeSetting, strs)

	m.Initialize(context.Background())

	mc.Set("cluster.pa.threshold", "42")
	mc.Set("cluster.pa.mode", "manual")

	if got := ints.recorded(); len(got) != 1 || got[0] != 42 {
		t.Errorf("expected [42], got %v", got)
	}
	if got := strs.recorded(); len(got) != 1 || got[0] != "manual" {
		t.Errorf("expected [manual], got %v", got)
	}
}

func TestManager_UpdateIntRoundTrip(t *testing.T) {
	mc := NewMemoryCluster()
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	ctx := context.Background()
	m.Initialize(ctx)
	m.UpdateInt(ctx, thresholdSetting, 10)

	// The write loops back through the store's change hook.
	if got := recorder.recorded(); len(got) != 1 || got[0] != 10 {
		t.Errorf("expected delivery [10], got %v", got)
	}

	snap, _ := mc.Snapshot(ctx)
	if snap["cluster.pa.threshold"] != "10" {
		t.Errorf("expected persisted raw '10', got %q", snap["cluster.pa.threshold"])
	}
}

func TestManager_UpdateStringRoundTrip(t *testing.T) {
	mc := NewMemoryCluster()
	m := New(mc, testManaged()).SyncMode()

	recorder := &stringRecorder{}
	m.SubscribeString(modeSetting, recorder)

	ctx := context.Background()
	m.Initialize(ctx)
	m.UpdateString(ctx, modeSetting, "manual")

	if got := recorder.recorded(); len(got) != 1 || got[0] != "manual" {
		t.Errorf("expected delivery [manual], got %v", got)
	}
}

// failingWriter wraps a cluster and fails every Persist call.
type failingWriter struct {
	*MemoryCluster
	err error
}

func (w *failingWriter) Persist(_ context.Context, _, _ string) error {
	return w.err
}

func TestManager_UpdateFailureRecorded(t *testing.T) {
	cluster := &failingWriter{
		MemoryCluster: NewMemoryCluster(),
		err:           errors.New("write rejected"),
	}
	m := New(cluster, testManaged()).SyncMode().FailureHistorySize(4)

	ctx := context.Background()
	m.Initialize(ctx)
	m.UpdateInt(ctx, thresholdSetting, 10)

	if m.LastError() == nil {
		t.Fatal("expected LastError after persist failure")
	}

	failures := m.RecentFailures()
	if len(failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(failures))
	}
	if failures[0].Setting != "cluster.pa.threshold" {
		t.Errorf("expected failure on threshold key, got %q", failures[0].Setting)
	}
	if failures[0].At.IsZero() {
		t.Error("expected failure timestamp")
	}
}

func TestManager_SubscribeAfterInitialize(t *testing.T) {
	mc := NewMemoryCluster()
	m := New(mc, testManaged()).SyncMode()

	m.Initialize(context.Background())

	recorder := &intRecorder{}
	if err := m.SubscribeInt(thresholdSetting, recorder); err != nil {
		t.Fatalf("SubscribeInt() error = %v", err)
	}

	mc.Set("cluster.pa.threshold", "3")

	if got := recorder.recorded(); len(got) != 1 || got[0] != 3 {
		t.Errorf("expected late subscriber to receive [3], got %v", got)
	}
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	mc := NewMemoryCluster()
	m := New(mc, testManaged()).SyncMode()

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)
	m.Initialize(context.Background())

	mc.Set("cluster.pa.threshold", "1")
	m.UnsubscribeInt(thresholdSetting, recorder)
	mc.Set("cluster.pa.threshold", "2")

	if got := recorder.recorded(); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected only pre-unsubscribe delivery [1], got %v", got)
	}
}

func TestManager_UnsubscribeUnknownNoOp(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	// Never subscribed; must not panic.
	m.UnsubscribeInt(thresholdSetting, &intRecorder{})
	m.UnsubscribeString(modeSetting, &stringRecorder{})
	m.UnsubscribeInt(thresholdSetting, nil)
}

func TestManager_LastErrorNilInitially(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	if m.LastError() != nil {
		t.Errorf("expected nil LastError, got %v", m.LastError())
	}
	if m.RecentFailures() != nil {
		t.Error("expected nil RecentFailures without FailureHistorySize")
	}
}

func TestManager_StateUninitialized(t *testing.T) {
	m := New(NewMemoryCluster(), testManaged())

	if m.State() != StateUninitialized {
		t.Errorf("expected uninitialized state, got %s", m.State())
	}
}

func TestManager_StateTransitionsRecorded(t *testing.T) {
	mc := NewMemoryCluster()
	mc.SetAvailable(false)
	metrics := newRecordingMetrics()
	m := New(mc, testManaged()).SyncMode().Metrics(metrics)

	m.Initialize(context.Background())
	mc.SetAvailable(true)

	want := []string{
		"uninitialized>awaiting",
		"awaiting>bootstrapping",
		"bootstrapping>steady",
	}
	metrics.mu.Lock()
	got := metrics.transitions
	metrics.mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("transition %d: expected %s, got %s", i, w, got[i])
		}
	}
}

func TestManager_AsyncBootstrapDeliversSnapshot(t *testing.T) {
	mc := NewMemoryCluster()
	mc.Seed(map[string]string{"cluster.pa.threshold": "10"})
	m := New(mc, testManaged())

	recorder := &intRecorder{}
	m.SubscribeInt(thresholdSetting, recorder)

	m.Initialize(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for recorder.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := recorder.recorded(); len(got) != 1 || got[0] != 10 {
		t.Errorf("expected async snapshot delivery [10], got %v", got)
	}
}

func TestManager_ExampleScenario(t *testing.T) {
	// The canonical flow: a node bootstraps against seeded settings, then
	// an operator raises the threshold cluster-wide.
	mc := NewMemoryCluster()
	mc.Seed(map[string]string{
		"cluster.pa.threshold": "7",
		"cluster.pa.mode":      "auto",
	})
	m := New(mc, testManaged()).SyncMode()

	ints := &intRecorder{}
	strs := &stringRecorder{}
	m.SubscribeInt(thresholdSetting, ints)
	m.SubscribeString(modeSetting, strs)

	ctx := context.Background()
	m.Initialize(ctx)

	m.UpdateInt(ctx, thresholdSetting, 10)

	if got := ints.recorded(); len(got) != 2 || got[0] != 7 || got[1] != 10 {
		t.Errorf("expected threshold deliveries [7 10], got %v", got)
	}
	// The mode listener saw only its snapshot value; the threshold update
	// never crossed over.
	if got := strs.recorded(); len(got) != 1 || got[0] != "auto" {
		t.Errorf("expected mode deliveries [auto], got %v", got)
	}
}
