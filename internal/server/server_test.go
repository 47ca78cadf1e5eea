package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/auth"
	"github.com/isometry/adbridge/internal/dirsync"
	"github.com/isometry/adbridge/internal/ldap"
	"github.com/isometry/adbridge/internal/metrics"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, login, password string) auth.Result {
	return m.Called(ctx, login, password).Get(0).(auth.Result)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context) (dirsync.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(dirsync.Summary), args.Error(1)
}

func newTestServer(t *testing.T, config Config, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(config, deps, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name         string
		result       auth.Result
		expectStatus int
	}{
		{
			name:         "authenticated",
			result:       auth.Result{Authenticated: true, Reason: auth.ReasonAuthenticated, Account: &account.Account{ID: 42}},
			expectStatus: http.StatusOK,
		},
		{
			name:         "invalid credentials",
			result:       auth.Result{Reason: auth.ReasonInvalidCredentials},
			expectStatus: http.StatusUnauthorized,
		},
		{
			name:         "blocked",
			result:       auth.Result{Reason: auth.ReasonBlocked},
			expectStatus: http.StatusUnauthorized,
		},
		{
			name:         "directory unreachable",
			result:       auth.Result{Reason: auth.ReasonDirectoryUnreachable},
			expectStatus: http.StatusServiceUnavailable,
		},
		{
			name:         "not in authorization group",
			result:       auth.Result{Reason: auth.ReasonUnauthorized},
			expectStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authenticator := &MockAuthenticator{}
			authenticator.On("Authenticate", mock.Anything, "jdoe@example.com", "pw").Return(tt.result).Once()
			reg := prometheus.NewRegistry()
			srv := newTestServer(t, Config{}, Deps{Authenticator: authenticator, Metrics: metrics.NewCollector(reg)})

			resp, body := post(t, srv.URL+"/api/v1/authenticate", `{"login":"jdoe@example.com","password":"pw"}`)

			assert.Equal(t, tt.expectStatus, resp.StatusCode)
			assert.Equal(t, tt.result.Authenticated, body["authenticated"])
			assert.Equal(t, string(tt.result.Reason), body["reason"])
			if tt.result.Account != nil {
				assert.Equal(t, float64(42), body["account_id"])
			} else {
				assert.NotContains(t, body, "account_id")
			}
			authenticator.AssertExpectations(t)
		})
	}
}

func TestAuthenticate_BadRequest(t *testing.T) {
	authenticator := &MockAuthenticator{}
	srv := newTestServer(t, Config{}, Deps{Authenticator: authenticator})

	for _, body := range []string{`not json`, `{"login":"x","password":"y","extra":1}`} {
		resp, decoded := post(t, srv.URL+"/api/v1/authenticate", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid request body", decoded["error"])
	}
	authenticator.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthenticate_RateLimited(t *testing.T) {
	authenticator := &MockAuthenticator{}
	authenticator.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).
		Return(auth.Result{Reason: auth.ReasonInvalidCredentials}).Once()
	srv := newTestServer(t, Config{AuthRateLimit: 0.01, AuthBurst: 1}, Deps{Authenticator: authenticator})

	resp, _ := post(t, srv.URL+"/api/v1/authenticate", `{"login":"a","password":"b"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := post(t, srv.URL+"/api/v1/authenticate", `{"login":"a","password":"b"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["error"])
	authenticator.AssertExpectations(t)
}

func TestSync(t *testing.T) {
	toLocal := &MockRunner{}
	toLocal.On("Run", mock.Anything).Return(dirsync.Summary{Created: 2, Skipped: 1, Elapsed: time.Second}, nil).Once()
	toDirectory := &MockRunner{}
	toDirectory.On("Run", mock.Anything).Return(dirsync.Summary{}, fmt.Errorf("sync to directory: %w", ldap.ErrUnreachable)).Once()

	srv := newTestServer(t, Config{}, Deps{ToLocal: toLocal, ToDirectory: toDirectory})

	resp, body := post(t, srv.URL+"/api/v1/sync/to-local", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["created"])
	assert.Equal(t, "1s", body["elapsed"])

	resp, body = post(t, srv.URL+"/api/v1/sync/to-directory", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body["error"], "unreachable")
	assert.Contains(t, body, "summary")

	toLocal.AssertExpectations(t)
	toDirectory.AssertExpectations(t)
}

func TestSync_RejectsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	runner := &MockRunner{}
	runner.On("Run", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(dirsync.Summary{Updated: 1}, nil).Once()

	srv := newTestServer(t, Config{}, Deps{ToLocal: runner})

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/sync/to-local", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-started
	resp, body := post(t, srv.URL+"/api/v1/sync/to-local", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "synchronization already running", body["error"])

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
	runner.AssertExpectations(t)
}

func TestSyncStatus(t *testing.T) {
	assert.Equal(t, http.StatusPreconditionFailed, syncStatus(ldap.ErrNoServiceCredentials))
	assert.Equal(t, http.StatusGatewayTimeout, syncStatus(fmt.Errorf("interrupted: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, syncStatus(assert.AnError))
}

func TestHealthAndReadiness(t *testing.T) {
	ready := fmt.Errorf("no server answered: %w", ldap.ErrUnreachable)
	srv := newTestServer(t, Config{}, Deps{
		Ready:    func(context.Context) error { return ready },
		Gatherer: prometheus.NewRegistry(),
	})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/sync/to-local", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "routes without a runner are not mounted")
}

func TestIPRateLimiter_PrunesIdleClients(t *testing.T) {
	l := newIPRateLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := range limiterPruneSize {
		l.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	require.Len(t, l.clients, limiterPruneSize)

	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, l.allow("192.0.2.1"))
	assert.Len(t, l.clients, 1)
}
