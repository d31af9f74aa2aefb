// Package refresh keeps the serving registry current. Artifact update events
// and an optional poll interval both trigger a registry refresh.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/jonboulle/clockwork"
)

// EventSource yields artifact update events.
type EventSource interface {
	Next(ctx context.Context) (domain.ArtifactEvent, error)
}

// Refresher reloads the current artifact set.
type Refresher interface {
	Refresh(ctx context.Context) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	// maxRefreshAttempts bounds retries for one event before it is committed anyway.
	maxRefreshAttempts = 5
)

// Loop triggers registry refreshes until its context is cancelled.
type Loop struct {
	source       EventSource
	registry     Refresher
	pollInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New creates a Loop. source may be nil, and a zero pollInterval disables polling.
func New(source EventSource, registry Refresher, pollInterval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Loop {
	return &Loop{
		source:       source,
		registry:     registry,
		pollInterval: pollInterval,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run consumes events and polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("refresh loop started", "poll_interval", l.pollInterval, "events", l.source != nil)
	l.metrics.RefreshLoopRunning.Set(1)
	defer l.metrics.RefreshLoopRunning.Set(0)

	done := make(chan struct{})
	if l.pollInterval > 0 {
		go func() {
			defer close(done)
			l.poll(ctx)
		}()
	} else {
		close(done)
	}

	if l.source != nil {
		l.consume(ctx)
	} else {
		<-ctx.Done()
	}
	<-done
	l.logger.Info("refresh loop stopping", "reason", context.Cause(ctx))
	return nil
}

func (l *Loop) poll(ctx context.Context) {
	ticker := l.clock.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := l.registry.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("periodic registry refresh failed", "error", err)
			}
		}
	}
}

func (l *Loop) consume(ctx context.Context) {
	backoff := initialBackoff
	for {
		event, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("fetch artifact event failed", "error", err)
			if !l.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff
		l.metrics.ArtifactEventsConsumed.Inc()

		if !l.refreshWithRetry(ctx, event) {
			return
		}
		l.commit(ctx, event)
	}
}

// refreshWithRetry refreshes the registry for one event, backing off between
// failed attempts. Returns false if the loop should stop.
func (l *Loop) refreshWithRetry(ctx context.Context, event domain.ArtifactEvent) bool {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := l.registry.Refresh(ctx)
		if err == nil {
			l.logger.Info("registry refreshed from event", "run_id", event.Update.RunID, "offset", event.Offset)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		l.logger.Error("registry refresh failed", "error", err, "run_id", event.Update.RunID, "attempt", attempt)
		if attempt >= maxRefreshAttempts {
			return true
		}
		if !l.sleep(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// commit acknowledges the event if the source supports it.
func (l *Loop) commit(ctx context.Context, event domain.ArtifactEvent) {
	if event.Commit == nil {
		return
	}
	if err := event.Commit(ctx); err != nil {
		l.logger.Warn("commit offset failed", "error", err,
			"topic", event.Topic, "partition", event.Partition, "offset", event.Offset)
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(d):
		return true
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
