package store

import (
	"context"
	"sort"

	"github.com/echoes-app/echosync/internal/model"
)

// Reads are served from the in-memory cache, never from SQLite: a
// deliberate latency choice that every write path pays for by reloading
// the cache before returning. Callers always receive defensive copies.

// GetByID returns one echo, or nil if it does not exist.
func (s *Store) GetByID(id string) *model.Echo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.echoes[id].Clone()
}

// GetAll returns every echo, newest first.
func (s *Store) GetAll() []*model.Echo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Echo, 0, len(s.echoes))
	for _, e := range s.echoes {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// GetUserEchoes returns echoes the user owns or collaborates on.
func (s *Store) GetUserEchoes(userID string) []*model.Echo {
	var out []*model.Echo
	for _, e := range s.GetAll() {
		if e.OwnerID == userID || e.HasCollaborator(userID) {
			out = append(out, e)
		}
	}
	return out
}

// GetByStatus returns echoes in the given lifecycle state.
func (s *Store) GetByStatus(status model.EchoStatus) []*model.Echo {
	var out []*model.Echo
	for _, e := range s.GetAll() {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// GetActivities returns an echo's activity feed, newest first.
func (s *Store) GetActivities(echoID string) []*model.EchoActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activities := s.activities[echoID]
	out := make([]*model.EchoActivity, len(activities))
	for i, a := range activities {
		out[i] = a.Clone()
	}
	return out
}

// GetActivity returns one activity by id, or nil. The reconciler
// re-reads activities through here at drain time.
func (s *Store) GetActivity(echoID, activityID string) *model.EchoActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.activities[echoID] {
		if a.ID == activityID {
			return a.Clone()
		}
	}
	return nil
}

// EchoSyncStatus summarizes outstanding sync work for one echo so the
// UI can surface stalled uploads instead of a perpetual "pending".
type EchoSyncStatus struct {
	PendingOps int
	DeadOps    int
}

// Synced reports whether everything for this echo reached the remote.
func (st EchoSyncStatus) Synced() bool {
	return st.PendingOps == 0 && st.DeadOps == 0
}

// SyncStatus returns the queue totals scoped to one echo, or to the
// whole namespace when echoID is "".
func (s *Store) SyncStatus(ctx context.Context, echoID string) (EchoSyncStatus, error) {
	pending, dead, err := s.queue.Counts(ctx, echoID)
	if err != nil {
		return EchoSyncStatus{}, err
	}
	return EchoSyncStatus{PendingOps: pending, DeadOps: dead}, nil
}
