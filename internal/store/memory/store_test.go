package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goacyber/scamhound/internal/pipeline"
)

var baseTime = time.Unix(1_700_000_000, 0).UTC()

func seedTarget(t *testing.T, s *StateStore, identifier string) {
	t.Helper()
	require.NoError(t, s.UpsertTarget(context.Background(), pipeline.Target{
		Identifier:   identifier,
		Kind:         pipeline.KindPage,
		DiscoveredAt: baseTime,
		Status:       pipeline.StatusPending,
	}))
}

func verdictFor(identifier string, label pipeline.Label, prob float64, band pipeline.RiskBand, at time.Time) pipeline.Verdict {
	return pipeline.Verdict{
		ID:          identifier + "-v",
		Identifier:  identifier,
		Kind:        pipeline.KindPage,
		Label:       label,
		Probability: prob,
		Band:        band,
		SourceHash:  "hash",
		ProducedAt:  at,
	}
}

func TestUpsertTarget_KeepsEarliestDiscovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStateStore()

	seedTarget(t, s, "http://example.com")
	require.NoError(t, s.UpsertTarget(ctx, pipeline.Target{
		Identifier:   "http://example.com",
		Kind:         pipeline.KindPage,
		DiscoveredAt: baseTime.Add(time.Hour),
	}))

	got, err := s.GetTarget(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, baseTime, got.DiscoveredAt)
	require.Equal(t, pipeline.StatusPending, got.Status)

	require.NoError(t, s.UpsertTarget(ctx, pipeline.Target{
		Identifier:   "http://example.com",
		Kind:         pipeline.KindPage,
		DiscoveredAt: baseTime.Add(-time.Hour),
	}))
	got, err = s.GetTarget(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(-time.Hour), got.DiscoveredAt)
}

func TestGetTarget_UnknownIsNotFound(t *testing.T) {
	t.Parallel()
	s := NewStateStore()

	_, err := s.GetTarget(context.Background(), "http://nowhere.example.com")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestSaveVerdict_UpdatesTargetBookkeeping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStateStore()
	seedTarget(t, s, "http://example.com")

	v := verdictFor("http://example.com", pipeline.LabelFraud, 0.8, pipeline.BandHigh, baseTime.Add(time.Minute))
	require.NoError(t, s.SaveVerdict(ctx, v))

	target, err := s.GetTarget(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, 1, target.VisitCount)
	require.Equal(t, pipeline.StatusDone, target.Status)
	require.NotNil(t, target.LastVisitedAt)
	require.Equal(t, v.ProducedAt, *target.LastVisitedAt)

	current, err := s.CurrentVerdict(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, v, current)
}

func TestSaveVerdict_UnknownTargetIsNotFound(t *testing.T) {
	t.Parallel()
	s := NewStateStore()

	err := s.SaveVerdict(context.Background(), verdictFor("http://ghost.example.com", pipeline.LabelBenign, 0.1, pipeline.BandLow, baseTime))
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestVerdictHistory_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStateStore()
	seedTarget(t, s, "http://example.com")

	for i := 0; i < 3; i++ {
		v := verdictFor("http://example.com", pipeline.LabelFraud, 0.5+float64(i)/10, pipeline.BandHigh, baseTime.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.SaveVerdict(ctx, v))
	}

	history, err := s.VerdictHistory(ctx, "http://example.com", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, baseTime.Add(2*time.Hour), history[0].ProducedAt)
	require.Equal(t, baseTime.Add(time.Hour), history[1].ProducedAt)

	target, err := s.GetTarget(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, 3, target.VisitCount)

	_, err = s.VerdictHistory(ctx, "http://unseen.example.com", 10)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestListResumable_SkipsPermanentFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStateStore()

	seedTarget(t, s, "http://a.example.com")
	seedTarget(t, s, "http://b.example.com")
	seedTarget(t, s, "http://dead.example.com")

	require.NoError(t, s.SaveVerdict(ctx, verdictFor("http://b.example.com", pipeline.LabelGambling, 0.9, pipeline.BandHigh, baseTime)))
	require.NoError(t, s.SetTargetStatus(ctx, "http://dead.example.com", pipeline.StatusFailed))

	entries, err := s.ListResumable(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "http://a.example.com", entries[0].Target.Identifier)
	require.False(t, entries[0].HasVerdict)

	require.Equal(t, "http://b.example.com", entries[1].Target.Identifier)
	require.True(t, entries[1].HasVerdict)
	require.Equal(t, pipeline.LabelGambling, entries[1].Label)
	require.InDelta(t, 0.9, entries[1].Probability, 1e-9)
}

func TestListByRiskBand_FiltersAndPaginates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStateStore()

	for i, id := range []string{"http://h1.example.com", "http://h2.example.com", "http://h3.example.com"} {
		seedTarget(t, s, id)
		require.NoError(t, s.SaveVerdict(ctx, verdictFor(id, pipeline.LabelFraud, 0.9, pipeline.BandHigh, baseTime.Add(time.Duration(i)*time.Minute))))
	}
	seedTarget(t, s, "http://low.example.com")
	require.NoError(t, s.SaveVerdict(ctx, verdictFor("http://low.example.com", pipeline.LabelBenign, 0.1, pipeline.BandLow, baseTime)))

	got, err := s.ListByRiskBand(ctx, pipeline.BandHigh, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "http://h3.example.com", got[0].Identifier)
	require.Equal(t, "http://h2.example.com", got[1].Identifier)

	got, err = s.ListByRiskBand(ctx, pipeline.BandHigh, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "http://h1.example.com", got[0].Identifier)

	got, err = s.ListByRiskBand(ctx, pipeline.BandHigh, 10, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStats_CountsStatusAndLabels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStateStore()

	seedTarget(t, s, "http://a.example.com")
	seedTarget(t, s, "http://b.example.com")
	seedTarget(t, s, "http://dead.example.com")

	require.NoError(t, s.SaveVerdict(ctx, verdictFor("http://a.example.com", pipeline.LabelPhishing, 0.85, pipeline.BandHigh, baseTime)))
	require.NoError(t, s.SetTargetStatus(ctx, "http://dead.example.com", pipeline.StatusFailed))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TargetsTotal)
	require.Equal(t, 1, stats.ByStatus[pipeline.StatusPending])
	require.Equal(t, 1, stats.ByStatus[pipeline.StatusDone])
	require.Equal(t, 1, stats.ByStatus[pipeline.StatusFailed])
	require.Equal(t, 1, stats.ByLabel[pipeline.LabelPhishing])
}
