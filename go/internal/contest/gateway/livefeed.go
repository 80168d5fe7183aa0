package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// HealthDebounce is how long the push subscription may stay unhealthy
// before polling activates. Brief reconnects inside this window never
// flap the channel into poll mode.
const HealthDebounce = 5 * time.Second

// VersionSource reports an opaque per-collection version; any change in
// the returned string means the collection went stale.
type VersionSource interface {
	Version(ctx context.Context, collection string) (string, error)
}

// Notifier receives viewer events; satisfied by ConnectionManager.
type Notifier interface {
	Broadcast(event *ViewerEvent)
}

// DefaultPollIntervals returns fallback poll cadence per collection.
// Timing-critical collections poll tighter than scoring history.
func DefaultPollIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		CollectionEvent:       2 * time.Second,
		CollectionQuests:      2 * time.Second,
		CollectionPhases:      5 * time.Second,
		CollectionStandings:   5 * time.Second,
		CollectionSubmissions: 10 * time.Second,
		CollectionEvaluations: 10 * time.Second,
	}
}

// SyncChannel keeps dashboard viewers consistent with the store. Push is
// primary: domain events arriving over the bus fan out as CollectionChanged.
// When the push subscription goes unhealthy for longer than the debounce,
// fixed-interval polling takes over until the first healthy signal, which
// cancels any pending debounce and stops polling immediately. Viewers see
// CollectionChanged either way and never see errors.
type SyncChannel struct {
	source    VersionSource
	notifier  Notifier
	clock     clockwork.Clock
	intervals map[string]time.Duration

	mu            sync.Mutex
	healthy       bool
	debounceTimer clockwork.Timer
	pollCancel    context.CancelFunc
	pollWG        sync.WaitGroup
	versions      map[string]string
}

// NewSyncChannel creates a sync channel that starts in healthy push mode.
func NewSyncChannel(source VersionSource, notifier Notifier, clock clockwork.Clock, intervals map[string]time.Duration) *SyncChannel {
	if intervals == nil {
		intervals = DefaultPollIntervals()
	}
	return &SyncChannel{
		source:    source,
		notifier:  notifier,
		clock:     clock,
		intervals: intervals,
		healthy:   true,
		versions:  make(map[string]string),
	}
}

// HandlePush fans a pushed domain event out to viewers as CollectionChanged.
func (s *SyncChannel) HandlePush(eventType string, at time.Time) {
	for _, collection := range CollectionsFor(eventType) {
		s.notifier.Broadcast(NewCollectionChanged(collection, at))
	}
}

// SetHealthy records the push subscription's status. Unhealthy arms the
// debounce; healthy cancels it and stops any active polling.
func (s *SyncChannel) SetHealthy(ctx context.Context, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if healthy {
		s.healthy = true
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
			s.debounceTimer = nil
			log.Debug().Msg("push recovered inside debounce window")
		}
		if s.pollCancel != nil {
			s.pollCancel()
			s.pollCancel = nil
			log.Info().Msg("push recovered, stopping fallback polling")
		}
		return
	}

	if !s.healthy {
		return // already unhealthy, debounce or polling in progress
	}
	s.healthy = false
	log.Warn().Dur("debounce", HealthDebounce).Msg("push subscription unhealthy, debouncing before fallback")

	s.debounceTimer = s.clock.AfterFunc(HealthDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.debounceTimer = nil
		if s.healthy || s.pollCancel != nil {
			return
		}
		s.startPollingLocked(ctx)
	})
}

// Polling reports whether fallback polling is active.
func (s *SyncChannel) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCancel != nil
}

// startPollingLocked spawns one poller per collection. Caller holds s.mu.
func (s *SyncChannel) startPollingLocked(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel

	log.Warn().Int("collections", len(s.intervals)).Msg("push still unhealthy after debounce, starting fallback polling")
	for collection, interval := range s.intervals {
		s.pollWG.Add(1)
		go s.pollCollection(pollCtx, collection, interval)
	}
}

// pollCollection re-checks one collection's version at a fixed interval,
// emitting CollectionChanged on change. Fetch failures keep last-known
// state and retry forever.
func (s *SyncChannel) pollCollection(ctx context.Context, collection string, interval time.Duration) {
	defer s.pollWG.Done()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			version, err := s.source.Version(ctx, collection)
			if err != nil {
				log.Debug().Err(err).Str("collection", collection).Msg("poll fetch failed, retrying next tick")
				continue
			}
			s.mu.Lock()
			changed := version != s.versions[collection]
			if changed {
				s.versions[collection] = version
			}
			s.mu.Unlock()
			if changed {
				s.notifier.Broadcast(NewCollectionChanged(collection, s.clock.Now().UTC()))
			}
		}
	}
}

// Stop tears the channel down: pending debounce is cancelled and pollers
// are drained so no late tick fires after the consumer is gone.
func (s *SyncChannel) Stop() {
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
	s.mu.Unlock()
	s.pollWG.Wait()
}
