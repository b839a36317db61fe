package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/syncbox/internal/auth"
	"github.com/matheus3301/syncbox/internal/bus"
	"github.com/matheus3301/syncbox/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeRemote records calls and returns configurable results.
type fakeRemote struct {
	mu           sync.Mutex
	pushBatches  [][]store.SyncItem
	deleteCalls  []string
	devicePushes int
	pullCalls    int

	snapshot      map[string]map[string]any
	remoteDevices []store.Device

	pushErr   error
	deleteErr error
	pullErr   error

	block chan struct{} // if non-nil, PushSettings waits until closed
}

func (f *fakeRemote) PushSettings(_ context.Context, _ string, items []store.SyncItem) error {
	f.mu.Lock()
	f.pushBatches = append(f.pushBatches, items)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.pushErr
}

func (f *fakeRemote) DeleteSetting(_ context.Context, _ string, category, key string) error {
	f.mu.Lock()
	f.deleteCalls = append(f.deleteCalls, category+"/"+key)
	f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeRemote) PullSettings(_ context.Context, _ string) (map[string]map[string]any, error) {
	f.mu.Lock()
	f.pullCalls++
	f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return f.snapshot, nil
}

func (f *fakeRemote) PushDevices(_ context.Context, _ string, _ []store.Device) error {
	f.mu.Lock()
	f.devicePushes++
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) PullDevices(_ context.Context, _ string) ([]store.Device, error) {
	return f.remoteDevices, nil
}

func testSession() auth.SessionSource {
	return &auth.StaticSource{S: &auth.Session{UserID: "u1", Token: "tok"}}
}

func testEngine(t *testing.T, db *store.DB, remote RemoteClient) *Engine {
	t.Helper()
	if _, err := db.RegisterDevice("u1", "local-dev", store.DeviceInfo{Name: "test box"}); err != nil {
		t.Fatal(err)
	}
	return NewEngine(db, remote, testSession(), "local-dev", store.DeviceInfo{Name: "test box"}, bus.New(), nil, time.Second, nil)
}

func TestTickPushesAndMarksSynced(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{}
	e := testEngine(t, db, fake)

	if err := db.SetSetting("u1", "preferences", "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting("u1", "preferences", "compact", true); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteSetting("u1", "editor", "font"); err != nil {
		t.Fatal(err)
	}

	e.Tick(context.Background())

	// Upserts go out as one batch, the delete as its own request.
	if len(fake.pushBatches) != 1 {
		t.Fatalf("got %d push batches, want 1", len(fake.pushBatches))
	}
	if len(fake.pushBatches[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(fake.pushBatches[0]))
	}
	if len(fake.deleteCalls) != 1 || fake.deleteCalls[0] != "editor/font" {
		t.Errorf("delete calls = %v, want [editor/font]", fake.deleteCalls)
	}

	pending, err := db.PendingOutbox("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after tick, want 0", len(pending))
	}
	if err := e.LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
}

func TestPushFailureIncrementsRetryEachTick(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{pushErr: fmt.Errorf("network error")}
	e := testEngine(t, db, fake)

	if err := db.SetSetting("u1", "preferences", "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	before, _ := db.PendingOutbox("u1")
	id := before[0].ID

	// Three consecutive failing ticks.
	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}

	it, err := db.GetSyncItem(id)
	if err != nil {
		t.Fatal(err)
	}
	if it.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", it.RetryCount)
	}
	if it.SyncedAt != nil {
		t.Error("failed item must stay pending")
	}
	if e.LastError() == nil {
		t.Error("LastError() = nil, want recorded push failure")
	}
}

func TestDeleteFailureRetriesIndependently(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{deleteErr: fmt.Errorf("boom")}
	e := testEngine(t, db, fake)

	if err := db.SetSetting("u1", "preferences", "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteSetting("u1", "editor", "font"); err != nil {
		t.Fatal(err)
	}

	e.Tick(context.Background())

	// The upsert batch succeeded; only the delete stays pending.
	pending, _ := db.PendingOutbox("u1")
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].Operation != store.OpDelete || pending[0].RetryCount != 1 {
		t.Errorf("pending item = %+v, want delete with retry_count 1", pending[0])
	}
}

func TestNoSessionSkipsRound(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{}
	if _, err := db.RegisterDevice("u1", "local-dev", store.DeviceInfo{Name: "test box"}); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(db, fake, &auth.StaticSource{}, "local-dev", store.DeviceInfo{Name: "test box"}, bus.New(), nil, time.Second, nil)

	if err := db.SetSetting("u1", "preferences", "theme", "dark"); err != nil {
		t.Fatal(err)
	}

	e.Tick(context.Background())

	if len(fake.pushBatches) != 0 || fake.pullCalls != 0 {
		t.Error("tick without session must not touch the network")
	}
	// A skipped round marks nothing as failed.
	pending, _ := db.PendingOutbox("u1")
	if len(pending) != 1 || pending[0].RetryCount != 0 {
		t.Errorf("pending = %+v, want untouched item", pending)
	}
	if err := e.LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
}

func TestPullAppliesWithoutRequeue(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{snapshot: map[string]map[string]any{
		"preferences": {"theme": "light", "compact": true},
	}}
	e := testEngine(t, db, fake)

	e.Tick(context.Background())

	got, err := db.GetSetting("u1", "preferences", "theme")
	if err != nil {
		t.Fatal(err)
	}
	if got != "light" {
		t.Errorf("pulled value = %v, want light", got)
	}

	// Pulled values must not be re-queued for push: a second identical
	// pull leaves both the store and the outbox unchanged.
	e.Tick(context.Background())
	pending, _ := db.PendingOutbox("u1")
	if len(pending) != 0 {
		t.Errorf("pull enqueued %d outbox items, want 0", len(pending))
	}
	if len(fake.pushBatches) != 0 {
		t.Errorf("pull triggered %d push batches, want 0", len(fake.pushBatches))
	}
}

func TestForceSyncEmptyOutboxOnlyPulls(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{snapshot: map[string]map[string]any{}}
	e := testEngine(t, db, fake)

	if err := e.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() error = %v, want nil", err)
	}
	if len(fake.pushBatches) != 0 || len(fake.deleteCalls) != 0 {
		t.Error("empty outbox must not produce settings pushes")
	}
	if fake.pullCalls != 1 {
		t.Errorf("pull calls = %d, want 1", fake.pullCalls)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{block: make(chan struct{})}
	e := testEngine(t, db, fake)

	b := bus.New()
	e.bus = b
	ch, unsub := b.Subscribe("sync.skipped", 10)
	defer unsub()

	if err := db.SetSetting("u1", "preferences", "theme", "dark"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		e.Tick(context.Background())
		close(done)
	}()

	// Wait for the first tick to reach the blocked push.
	deadline := time.After(2 * time.Second)
	for {
		fake.mu.Lock()
		started := len(fake.pushBatches) > 0
		fake.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first tick never reached the remote")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !e.IsSyncing() {
		t.Error("IsSyncing() = false during in-flight round")
	}

	// The overlapping tick must be dropped, not deferred.
	e.Tick(context.Background())
	select {
	case evt := <-ch:
		if evt.Payload != "busy" {
			t.Errorf("skip payload = %v, want busy", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.skipped event")
	}

	close(fake.block)
	<-done

	// Exactly one push batch: the second tick did no work.
	if len(fake.pushBatches) != 1 {
		t.Errorf("got %d push batches, want 1", len(fake.pushBatches))
	}
}

func TestPullDevicesDerivesCurrentFromLocalID(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{remoteDevices: []store.Device{
		{ID: "local-dev", Name: "test box", LastActive: 1000},
		{ID: "other-dev", Name: "phone", Type: "mobile", LastActive: 2000, IsCurrent: true},
	}}
	e := testEngine(t, db, fake)

	e.Tick(context.Background())

	devices, err := db.ListDevices("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	for _, d := range devices {
		if d.IsCurrent != (d.ID == "local-dev") {
			t.Errorf("device %s is_current = %v", d.ID, d.IsCurrent)
		}
	}
}

func TestBackgroundLifecycleIdempotent(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{}
	e := testEngine(t, db, fake)

	ctx := context.Background()
	e.StartBackground(ctx)
	e.StartBackground(ctx) // no-op
	e.StopBackground()
	e.StopBackground() // no-op
}

func TestBackgroundTimerTicks(t *testing.T) {
	db := testDB(t)
	fake := &fakeRemote{}
	if _, err := db.RegisterDevice("u1", "local-dev", store.DeviceInfo{Name: "test box"}); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(db, fake, testSession(), "local-dev", store.DeviceInfo{Name: "test box"}, bus.New(), nil, 20*time.Millisecond, nil)

	e.StartBackground(context.Background())
	defer e.StopBackground()

	deadline := time.After(2 * time.Second)
	for {
		fake.mu.Lock()
		pulls := fake.pullCalls
		fake.mu.Unlock()
		if pulls >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("got %d pulls before deadline, want >= 2", pulls)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
