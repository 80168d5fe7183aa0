package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rvera/gauntlet/go/internal/contest/events"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []*ViewerEvent
}

func (f *fakeNotifier) Broadcast(event *ViewerEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeNotifier) collections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Collection
	}
	return out
}

type fakeVersionSource struct {
	mu       sync.Mutex
	versions map[string]string
	err      error
}

func newFakeVersionSource() *fakeVersionSource {
	return &fakeVersionSource{versions: make(map[string]string)}
}

func (f *fakeVersionSource) set(collection, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[collection] = version
}

func (f *fakeVersionSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeVersionSource) Version(ctx context.Context, collection string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.versions[collection], nil
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHandlePushFansOutCollections(t *testing.T) {
	sink := &fakeNotifier{}
	sc := NewSyncChannel(newFakeVersionSource(), sink, clockwork.NewFakeClock(), nil)

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sc.HandlePush(events.TypeEvaluationRecorded, at)

	got := sink.collections()
	want := []string{CollectionEvaluations, CollectionSubmissions, CollectionStandings}
	if len(got) != len(want) {
		t.Fatalf("collections = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("collections[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	for _, e := range sink.events {
		if e.Type != ViewerEventTypeCollectionChanged {
			t.Errorf("event type = %s, want %s", e.Type, ViewerEventTypeCollectionChanged)
		}
	}
}

func TestUnhealthyPushActivatesPollingAfterDebounce(t *testing.T) {
	sink := &fakeNotifier{}
	src := newFakeVersionSource()
	clock := clockwork.NewFakeClock()
	sc := NewSyncChannel(src, sink, clock, map[string]time.Duration{CollectionQuests: 2 * time.Second})
	defer sc.Stop()

	sc.SetHealthy(context.Background(), false)
	if sc.Polling() {
		t.Fatal("polling started before the debounce elapsed")
	}

	clock.Advance(4 * time.Second)
	if sc.Polling() {
		t.Fatal("polling started inside the debounce window")
	}

	clock.Advance(2 * time.Second)
	if !waitUntil(sc.Polling) {
		t.Fatal("polling did not start after the debounce elapsed")
	}

	// Wait for the poller's ticker to register, then tick past a change.
	clock.BlockUntil(1)
	src.set(CollectionQuests, "v1")
	clock.Advance(2 * time.Second)
	if !waitUntil(func() bool { return sink.count() == 1 }) {
		t.Fatalf("poll emitted %d events, want 1", sink.count())
	}

	// No change, no emission.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("unchanged collection emitted; events = %d, want 1", got)
	}
}

func TestRecoveryInsideDebounceNeverPolls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sc := NewSyncChannel(newFakeVersionSource(), &fakeNotifier{}, clock, map[string]time.Duration{CollectionQuests: 2 * time.Second})
	defer sc.Stop()

	sc.SetHealthy(context.Background(), false)
	clock.Advance(3 * time.Second)
	sc.SetHealthy(context.Background(), true)

	clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if sc.Polling() {
		t.Fatal("polling activated after recovery cancelled the debounce")
	}
}

func TestHealthyPushStopsActivePolling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sc := NewSyncChannel(newFakeVersionSource(), &fakeNotifier{}, clock, map[string]time.Duration{CollectionQuests: 2 * time.Second})
	defer sc.Stop()

	sc.SetHealthy(context.Background(), false)
	clock.Advance(6 * time.Second)
	if !waitUntil(sc.Polling) {
		t.Fatal("polling did not start")
	}

	sc.SetHealthy(context.Background(), true)
	if sc.Polling() {
		t.Fatal("polling still active after push recovered")
	}
}

func TestPollFailuresAreRetriedSilently(t *testing.T) {
	sink := &fakeNotifier{}
	src := newFakeVersionSource()
	clock := clockwork.NewFakeClock()
	sc := NewSyncChannel(src, sink, clock, map[string]time.Duration{CollectionStandings: 5 * time.Second})
	defer sc.Stop()

	src.fail(errors.New("store unavailable"))
	sc.SetHealthy(context.Background(), false)
	clock.Advance(6 * time.Second)
	if !waitUntil(sc.Polling) {
		t.Fatal("polling did not start")
	}

	// Failing ticks emit nothing and keep the poller alive.
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	if got := sink.count(); got != 0 {
		t.Fatalf("failing polls emitted %d events, want 0", got)
	}

	// The store comes back with a new version; the next tick emits.
	src.fail(nil)
	src.set(CollectionStandings, "v2")
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	if !waitUntil(func() bool { return sink.count() == 1 }) {
		t.Fatalf("recovered poll emitted %d events, want 1", sink.count())
	}
}

func TestRepeatedUnhealthySignalsArmOneDebounce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sc := NewSyncChannel(newFakeVersionSource(), &fakeNotifier{}, clock, map[string]time.Duration{CollectionQuests: 2 * time.Second})
	defer sc.Stop()

	ctx := context.Background()
	sc.SetHealthy(ctx, false)
	clock.Advance(2 * time.Second)
	sc.SetHealthy(ctx, false) // must not reset the running debounce

	clock.Advance(3 * time.Second)
	if !waitUntil(sc.Polling) {
		t.Fatal("debounce did not fire 5s after the first unhealthy signal")
	}
}
