package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
)

// testutil imports storage, which imports this package.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu  sync.Mutex
	got []model.Notification
	err error
}

func (r *recordingSink) Notify(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

type fakePublisher struct {
	channel, payload string
}

func (f *fakePublisher) Notify(_ context.Context, channel, payload string) error {
	f.channel, f.payload = channel, payload
	return nil
}

func sample() model.Notification {
	to := uuid.New()
	return model.Notification{
		Kind: model.NotifyTicketDerived, Title: "Ticket derived", Body: "Ticket #12 is yours",
		TicketID: uuid.New(), RecipientID: &to,
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	t.Parallel()
	var received model.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := sample()
	require.NoError(t, NewWebhookSink(srv.URL).Notify(context.Background(), n))
	assert.Equal(t, n.TicketID, received.TicketID)
	assert.Equal(t, n.Kind, received.Kind)
}

func TestWebhookSinkNon2xxIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Notify(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPGSinkPublishesOnChannel(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	n := sample()
	require.NoError(t, NewPGSink(pub).Notify(context.Background(), n))
	assert.Equal(t, ChannelNotifications, pub.channel)
	assert.Contains(t, pub.payload, n.TicketID.String())
}

func TestMultiJoinsErrorsAndDeliversToAll(t *testing.T) {
	t.Parallel()
	a := &recordingSink{err: errors.New("a down")}
	b := &recordingSink{}
	err := Multi{a, b}.Notify(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestBestEffortSuppressesFailures(t *testing.T) {
	t.Parallel()
	failing := &recordingSink{err: errors.New("boom")}
	be := NewBestEffort(failing, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // a cancelled caller still gets delivery attempted
	be.Send(ctx, sample())

	require.Len(t, failing.got, 1)
	assert.False(t, failing.got[0].At.IsZero(), "timestamp filled in")

	NewBestEffort(nil, quietLogger()).Send(context.Background(), sample())
}
