package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/goacyber/scamhound/internal/pipeline"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish_KeysVerdictEventsByIdentifier(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	p := NewPublisherWithWriter(writer)

	event := pipeline.VerdictEvent{
		Identifier:  "http://example.com",
		Kind:        pipeline.KindPage,
		Label:       pipeline.LabelFraud,
		Probability: 0.75,
		SourceHash:  "abc123",
		ProducedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}

	id, err := p.Publish(context.Background(), "verdicts", event)
	require.NoError(t, err)
	require.Equal(t, "http://example.com", id)
	require.Len(t, writer.messages, 1)
	require.Equal(t, []byte("http://example.com"), writer.messages[0].Key)

	var decoded pipeline.VerdictEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	require.Equal(t, event, decoded)
}

func TestPublish_PropagatesWriterError(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisherWithWriter(writer)

	_, err := p.Publish(context.Background(), "verdicts", pipeline.VerdictEvent{Identifier: "x"})
	require.Error(t, err)
}

func TestClose_ClosesWriter(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	p := NewPublisherWithWriter(writer)
	require.NoError(t, p.Close())
	require.True(t, writer.closed)
}
