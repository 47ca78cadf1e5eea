package bruteforce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_PostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var event Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	until := time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC)

	err := n.NotifyBlocked(context.Background(), Event{Key: "jdoe@a.com", Attempts: 3, BlockedUntil: until})
	require.NoError(t, err)

	event := <-received
	assert.Equal(t, EventBlocked, event.Type)
	assert.Equal(t, "jdoe@a.com", event.Key)
	assert.Equal(t, 3, event.Attempts)
	assert.True(t, until.Equal(event.BlockedUntil))
}

func TestWebhookNotifier_ClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	err := n.NotifyBlockedAttempt(context.Background(), Event{Key: "jdoe@a.com"})
	assert.ErrorContains(t, err, "400")
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	ok := new(MockNotifier)
	ok.On("NotifyBlocked", mock.Anything, mock.Anything).Return(nil)
	failing := new(MockNotifier)
	failing.On("NotifyBlocked", mock.Anything, mock.Anything).Return(errors.New("boom"))

	err := MultiNotifier{ok, failing}.NotifyBlocked(context.Background(), Event{Key: "k"})
	assert.ErrorContains(t, err, "boom")
	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
}
