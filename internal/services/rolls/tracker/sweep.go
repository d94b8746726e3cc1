package tracker

import (
	"context"
	"time"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

// Sweep drops sessions whose artifact is older than the stale window and
// marks their unreported actors as timed out. Finished deletion records
// older than the same window are pruned. The artifact itself is left as is.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) []Expired {
	_, span := tracer.Start(ctx, "tracker.sweep")
	defer span.End()

	type staleSession struct {
		groupRollID string
		s           *session
	}
	var stale []staleSession

	t.mu.Lock()
	for groupRollID, s := range t.sessions {
		if now.Sub(s.openedAt) < t.staleAfter {
			continue
		}
		if t.evictLocked(groupRollID, s, evictStale) {
			stale = append(stale, staleSession{groupRollID: groupRollID, s: s})
		}
	}
	for artifactID, d := range t.deletions {
		if d.done && now.Sub(d.reservedAt) >= t.staleAfter {
			delete(t.deletions, artifactID)
		}
	}
	t.mu.Unlock()

	expired := make([]Expired, 0, len(stale))
	for _, entry := range stale {
		entry.s.mu.Lock()
		pending := entry.s.payload.Pending()
		for _, actorID := range pending {
			t.setState(entry.s, actorID, domain.StateTimedOutUnreported)
		}
		entry.s.mu.Unlock()
		actorsTimedOut.Add(float64(len(pending)))

		if len(pending) > 0 {
			t.logger.Warn().
				Str(platformlog.FieldGroupRollID, entry.groupRollID).
				Strs("unreported", pending).
				Msg("group roll went stale")
		}
		expired = append(expired, Expired{
			GroupRollID: entry.groupRollID,
			ArtifactID:  entry.s.artifactID,
			TimedOut:    pending,
		})
	}
	return expired
}

// Run sweeps on the configured interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, expired := range t.Sweep(ctx, now) {
				if t.onExpired != nil {
					t.onExpired(expired)
				}
			}
		}
	}
}
