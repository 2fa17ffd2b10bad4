// Package memory provides an in-memory StateStore for development and
// testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// StateStore keeps targets and verdicts in maps guarded by one RWMutex so
// SaveVerdict's history append, current-verdict swap, and target
// bookkeeping happen as a single atomic unit.
type StateStore struct {
	mu      sync.RWMutex
	targets map[string]pipeline.Target
	current map[string]pipeline.Verdict
	history map[string][]pipeline.Verdict
}

// NewStateStore constructs a StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		targets: make(map[string]pipeline.Target),
		current: make(map[string]pipeline.Verdict),
		history: make(map[string][]pipeline.Verdict),
	}
}

// UpsertTarget registers a target. Existing records keep their earliest
// DiscoveredAt and all visit bookkeeping.
func (s *StateStore) UpsertTarget(_ context.Context, target pipeline.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.targets[target.Identifier]
	if !ok {
		if target.Status == "" {
			target.Status = pipeline.StatusPending
		}
		s.targets[target.Identifier] = target
		return nil
	}
	if target.DiscoveredAt.Before(existing.DiscoveredAt) {
		existing.DiscoveredAt = target.DiscoveredAt
		s.targets[target.Identifier] = existing
	}
	return nil
}

// GetTarget fetches a target by identifier.
func (s *StateStore) GetTarget(_ context.Context, identifier string) (pipeline.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.targets[identifier]
	if !ok {
		return pipeline.Target{}, pipeline.ErrNotFound
	}
	return target, nil
}

// SetTargetStatus updates the lifecycle status of a target.
func (s *StateStore) SetTargetStatus(_ context.Context, identifier string, status pipeline.TargetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.targets[identifier]
	if !ok {
		return pipeline.ErrNotFound
	}
	target.Status = status
	s.targets[identifier] = target
	return nil
}

// SaveVerdict appends to history, replaces the current verdict, and bumps
// the target's visit counters in one step.
func (s *StateStore) SaveVerdict(_ context.Context, verdict pipeline.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.targets[verdict.Identifier]
	if !ok {
		return pipeline.ErrNotFound
	}

	s.history[verdict.Identifier] = append(s.history[verdict.Identifier], verdict)
	s.current[verdict.Identifier] = verdict

	visitedAt := verdict.ProducedAt
	target.LastVisitedAt = &visitedAt
	target.VisitCount++
	target.Status = pipeline.StatusDone
	s.targets[verdict.Identifier] = target
	return nil
}

// CurrentVerdict returns the latest verdict for a target.
func (s *StateStore) CurrentVerdict(_ context.Context, identifier string) (pipeline.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	verdict, ok := s.current[identifier]
	if !ok {
		return pipeline.Verdict{}, pipeline.ErrNotFound
	}
	return verdict, nil
}

// VerdictHistory returns past verdicts, newest first.
func (s *StateStore) VerdictHistory(_ context.Context, identifier string, limit int) ([]pipeline.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.history[identifier]
	if len(all) == 0 {
		return nil, pipeline.ErrNotFound
	}

	out := make([]pipeline.Verdict, len(all))
	for i, v := range all {
		out[len(all)-1-i] = v
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListResumable returns every target that has not permanently failed,
// paired with its current verdict when one exists.
func (s *StateStore) ListResumable(_ context.Context) ([]pipeline.ResumeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []pipeline.ResumeEntry
	for id, target := range s.targets {
		if target.Status == pipeline.StatusFailed {
			continue
		}
		entry := pipeline.ResumeEntry{Target: target}
		if verdict, ok := s.current[id]; ok {
			entry.HasVerdict = true
			entry.Label = verdict.Label
			entry.Probability = verdict.Probability
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Target.Identifier < entries[j].Target.Identifier
	})
	return entries, nil
}

// ListByRiskBand returns current verdicts in the given band, newest first.
func (s *StateStore) ListByRiskBand(_ context.Context, band pipeline.RiskBand, limit, offset int) ([]pipeline.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var verdicts []pipeline.Verdict
	for _, v := range s.current {
		if v.Band == band {
			verdicts = append(verdicts, v)
		}
	}
	sort.Slice(verdicts, func(i, j int) bool {
		if verdicts[i].ProducedAt.Equal(verdicts[j].ProducedAt) {
			return verdicts[i].Identifier < verdicts[j].Identifier
		}
		return verdicts[i].ProducedAt.After(verdicts[j].ProducedAt)
	})

	if offset >= len(verdicts) {
		return nil, nil
	}
	verdicts = verdicts[offset:]
	if limit > 0 && len(verdicts) > limit {
		verdicts = verdicts[:limit]
	}
	return verdicts, nil
}

// Stats aggregates target and verdict counts.
func (s *StateStore) Stats(_ context.Context) (pipeline.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := pipeline.Stats{
		TargetsTotal: len(s.targets),
		ByStatus:     make(map[pipeline.TargetStatus]int),
		ByLabel:      make(map[pipeline.Label]int),
	}
	for _, target := range s.targets {
		stats.ByStatus[target.Status]++
	}
	for _, verdict := range s.current {
		stats.ByLabel[verdict.Label]++
	}
	return stats, nil
}
