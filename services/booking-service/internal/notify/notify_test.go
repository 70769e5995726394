package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotdesk/libs/kafkax"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

type mail struct{ to, subject, body string }

type fakeSender struct {
	sent []mail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, mail{to, subject, body})
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(topic, eventID, payload string) kafka.Message {
	return kafka.Message{
		Topic:   topic,
		Value:   []byte(payload),
		Headers: kafkax.EventMeta{EventID: eventID, EventType: topic}.Headers(),
	}
}

const confirmed = `{"appointment_id":"a1","date":"2026-03-04","start":"09:00","end":"09:30","status":"confirmed","name":"Ada","email":"ada@example.com"}`

func TestNotifier_Compose(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, quietLogger())

	require.NoError(t, n.Handle(t.Context(), message(topicStatusChanged, "e1", confirmed)))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].to)
	assert.Equal(t, "Your appointment is confirmed", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "2026-03-04 09:00-09:30")

	blocked := strings.Replace(confirmed, `"confirmed"`, `"blocked"`, 1)
	require.NoError(t, n.Handle(t.Context(), message(topicStatusChanged, "e2", blocked)))
	require.NoError(t, n.Handle(t.Context(), message(topicStatusChanged, "e3", "not json")))
	assert.Len(t, sender.sent, 1)

	sender.err = errors.New("relay down")
	require.Error(t, n.Handle(t.Context(), message(topicRequested, "e4", confirmed)))
}

func TestConsumer_DedupesThroughInbox(t *testing.T) {
	store, err := storage.OpenSQLite(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sender := &fakeSender{}
	c := &Consumer{logger: quietLogger(), inbox: store, handler: NewNotifier(sender, quietLogger()).Handle}

	msg := message(topicStatusChanged, "evt-1", confirmed)
	c.process(t.Context(), msg)
	c.process(t.Context(), msg)
	assert.Len(t, sender.sent, 1)

	c.process(t.Context(), message(topicStatusChanged, "evt-2", confirmed))
	assert.Len(t, sender.sent, 2)
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("from@x.io", "to@x.io", "Hi", "body")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "From: from@x.io\r\nTo: to@x.io\r\nSubject: Hi\r\n"))

	_, err = buildMessage("from@x.io", "to@x.io\r\nBcc: evil@x.io", "Hi", "body")
	require.Error(t, err)
}

func TestNotifier_TextsPhone(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := &fakeSender{}
	n := NewNotifier(sender, quietLogger()).WithTexter(NewWebhookTexter(srv.URL, "tok"))
	withPhone := strings.Replace(confirmed, `"email"`, `"phone":"+4915100000","email"`, 1)

	require.NoError(t, n.Handle(t.Context(), message(topicStatusChanged, "e1", withPhone)))
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, "+4915100000", got["to"])
	assert.Contains(t, got["body"], "Ref a1")
}

func TestWebhookTexter_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookTexter(srv.URL, "").Send(t.Context(), "+1", "hi")
	require.ErrorContains(t, err, "502")
}
