// Package memory provides the in-memory frontier implementation. The
// frontier holds only scheduling entries; durable target state lives in
// the state store, and the frontier is rebuilt from it on start.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goacyber/scamhound/internal/pipeline"
)

// Priorities assigned on enqueue. Rediscovery of a tracked target never
// lowers its priority.
const (
	PriorityDefault   = 1
	PriorityUncertain = 2
	PriorityHigh      = 5
)

type entry struct {
	pipeline.FrontierEntry
	inProgress bool
}

// Frontier is a mutex-guarded, deduplicated revisit queue.
type Frontier struct {
	mu         sync.Mutex
	clock      pipeline.Clock
	backoff    pipeline.Backoff
	revisit    pipeline.RevisitPolicy
	entries    map[string]*entry
	tombstones map[string]struct{}
}

// New constructs a Frontier with the given scheduling policies.
func New(clock pipeline.Clock, backoff pipeline.Backoff, revisit pipeline.RevisitPolicy) *Frontier {
	return &Frontier{
		clock:      clock,
		backoff:    backoff,
		revisit:    revisit,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]struct{}),
	}
}

// Enqueue registers an identifier for a (re)visit. The call is
// idempotent: an existing entry is untouched except that a higher
// priority sticks. Identifiers retired by permanent failure are never
// re-admitted.
func (f *Frontier) Enqueue(_ context.Context, identifier string, kind pipeline.TargetKind, priority int) (bool, error) {
	if identifier == "" {
		return false, fmt.Errorf("identifier is required")
	}
	if priority <= 0 {
		priority = PriorityDefault
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, retired := f.tombstones[identifier]; retired {
		return false, nil
	}
	if e, ok := f.entries[identifier]; ok {
		if priority > e.Priority {
			e.Priority = priority
		}
		return false, nil
	}

	now := f.clock.Now()
	f.entries[identifier] = &entry{
		FrontierEntry: pipeline.FrontierEntry{
			Identifier:   identifier,
			Kind:         kind,
			Priority:     priority,
			NotBefore:    now,
			DiscoveredAt: now,
		},
	}
	return true, nil
}

// DequeueBatch returns up to n eligible entries, highest priority first
// with oldest discovery breaking ties, and marks them in-progress. A
// dequeued entry is invisible to other callers until Release.
func (f *Frontier) DequeueBatch(_ context.Context, n int) ([]pipeline.FrontierEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	eligible := make([]*entry, 0, n)
	for _, e := range f.entries {
		if e.inProgress || e.NotBefore.After(now) {
			continue
		}
		eligible = append(eligible, e)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].DiscoveredAt.Before(eligible[j].DiscoveredAt)
	})
	if len(eligible) > n {
		eligible = eligible[:n]
	}

	batch := make([]pipeline.FrontierEntry, 0, len(eligible))
	for _, e := range eligible {
		e.inProgress = true
		batch = append(batch, e.FrontierEntry)
	}
	return batch, nil
}

// Release completes an in-progress entry. Success schedules the next
// revisit from the verdict's risk band; transient failures back off until
// the retry cap retires the identifier; permanent failures retire it
// immediately.
func (f *Frontier) Release(
	_ context.Context,
	identifier string,
	outcome pipeline.Outcome,
	label pipeline.Label,
	probability float64,
) (pipeline.Disposition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[identifier]
	if !ok {
		return "", fmt.Errorf("release %q: %w", identifier, pipeline.ErrNotFound)
	}
	if !e.inProgress {
		return "", fmt.Errorf("release %q: entry is not in progress", identifier)
	}

	now := f.clock.Now()
	switch outcome {
	case pipeline.OutcomeSuccess:
		e.inProgress = false
		e.Attempts = 0
		e.NotBefore = now.Add(f.revisit.Interval(label, probability))
		return pipeline.DispositionRescheduled, nil

	case pipeline.OutcomeTransient:
		e.Attempts++
		if f.backoff.Exhausted(e.Attempts) {
			f.retire(identifier)
			return pipeline.DispositionExhausted, nil
		}
		e.inProgress = false
		e.NotBefore = now.Add(f.backoff.Delay(e.Attempts))
		return pipeline.DispositionRetrying, nil

	case pipeline.OutcomePermanent:
		f.retire(identifier)
		return pipeline.DispositionRemoved, nil

	default:
		return "", fmt.Errorf("release %q: unknown outcome %q", identifier, outcome)
	}
}

// Requeue puts a dequeued entry back in the pending set, immediately
// eligible and with its attempt count untouched. Unlike a transient
// Release it carries no penalty; it exists for entries that were
// dequeued but never processed.
func (f *Frontier) Requeue(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[identifier]
	if !ok {
		return fmt.Errorf("requeue %q: %w", identifier, pipeline.ErrNotFound)
	}
	e.inProgress = false
	return nil
}

// Len reports tracked entries, pending plus in-progress.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Rebuild reconstructs scheduling state from the state store. Targets
// still pending or in-progress become eligible immediately; done targets
// get a revisit slot computed from their current verdict.
func (f *Frontier) Rebuild(ctx context.Context, resumable []pipeline.ResumeEntry) (int, error) {
	added := 0
	for _, r := range resumable {
		t := r.Target
		if t.Status == pipeline.StatusFailed {
			f.mu.Lock()
			f.tombstones[t.Identifier] = struct{}{}
			f.mu.Unlock()
			continue
		}

		priority := PriorityDefault
		if r.HasVerdict {
			switch f.revisit.Band(r.Label, r.Probability) {
			case pipeline.BandHigh:
				priority = PriorityHigh
			case pipeline.BandUncertain:
				priority = PriorityUncertain
			}
		}

		created, err := f.Enqueue(ctx, t.Identifier, t.Kind, priority)
		if err != nil {
			return added, fmt.Errorf("rebuild enqueue %s: %w", t.Identifier, err)
		}
		if !created {
			continue
		}
		added++

		if t.Status == pipeline.StatusDone && r.HasVerdict && t.LastVisitedAt != nil {
			f.mu.Lock()
			if e, ok := f.entries[t.Identifier]; ok {
				e.NotBefore = t.LastVisitedAt.Add(f.revisit.Interval(r.Label, r.Probability))
				e.DiscoveredAt = t.DiscoveredAt
			}
			f.mu.Unlock()
		}
	}
	return added, nil
}

// retire drops the entry and blocks future enqueues. Callers hold f.mu.
func (f *Frontier) retire(identifier string) {
	delete(f.entries, identifier)
	f.tombstones[identifier] = struct{}{}
}
