// AngelaMos | 2026
// events_test.go

package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaPublisher_KeysByUserID(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, logger: discardLogger()}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := p.Publish(context.Background(),
		Event{Type: UserRegistered, UserID: "u-1", Email: "a@x.com", At: at},
		Event{Type: UserVerified, UserID: "u-1", At: at},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, []byte("u-1"), w.msgs[0].Key)
	assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte(UserRegistered), w.msgs[0].Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, UserVerified, decoded.Type)
	assert.True(t, at.Equal(decoded.At))
}

func TestKafkaPublisher_WriteFailure(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker unreachable")}
	p := &KafkaPublisher{writer: w, logger: discardLogger()}

	err := p.Publish(context.Background(), Event{Type: UserDeleted, UserID: "u-2"})
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestKafkaPublisher_EmptyBatchIsNoop(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, logger: discardLogger()}

	require.NoError(t, p.Publish(context.Background()))
	assert.Empty(t, w.msgs)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNew_DisabledReturnsNoop(t *testing.T) {
	p := New(config.EventsConfig{Enabled: false}, discardLogger())
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{Type: UserSwept}))
}
