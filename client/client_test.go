package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAPI fakes just enough of the server: a bearer-checked /v1/me, a login
// that hands out the current token and a refresh endpoint that rotates it.
type stubAPI struct {
	mu          sync.Mutex
	validToken  string
	refreshHits int64
	refreshFail bool
	refreshLag  time.Duration
}

func (s *stubAPI) session() Session {
	return Session{
		Token:     s.validToken,
		ExpiresAt: time.Now().Add(10 * time.Minute),
		User:      User{ID: "u1", Name: "Jane", Email: "jane@test.cd"},
	}
}

func (s *stubAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.validToken = "tok-login"
		_ = json.NewEncoder(w).Encode(s.session())
	})

	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.refreshHits, 1)
		s.mu.Lock()
		lag, fail := s.refreshLag, s.refreshFail
		s.mu.Unlock()
		if lag > 0 {
			time.Sleep(lag)
		}
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.validToken = "tok-refreshed"
		sess := s.session()
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(sess)
	})

	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		valid := "Bearer " + s.validToken
		s.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "authentication required"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u1", Name: "Jane", Email: "jane@test.cd"})
	})

	mux.HandleFunc("/v1/courses/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "not found"}`))
	})

	return mux
}

func newStub(t *testing.T) (*stubAPI, *Client) {
	t.Helper()
	stub := &stubAPI{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	require.NoError(t, err)
	return stub, c
}

func Test_Client_loginAndMe(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()

	sess, err := c.Login(ctx, "jane@test.cd", "Str0ngPwd!")
	require.NoError(t, err)
	assert.Equal(t, "tok-login", sess.Token)

	usr, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jane@test.cd", usr.Email)
	assert.Zero(t, atomic.LoadInt64(&stub.refreshHits))
}

func Test_Client_refreshAndReplay(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "jane@test.cd", "Str0ngPwd!")
	require.NoError(t, err)

	// server-side rotation leaves the client with a stale access token
	stub.mu.Lock()
	stub.validToken = "tok-elsewhere"
	stub.mu.Unlock()

	usr, err := c.Me(ctx)
	require.NoError(t, err, "the caller must never see the 401")
	assert.Equal(t, "u1", usr.ID)
	assert.Equal(t, int64(1), atomic.LoadInt64(&stub.refreshHits))
	assert.Equal(t, "tok-refreshed", c.getToken())
}

func Test_Client_refreshIsShared(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "jane@test.cd", "Str0ngPwd!")
	require.NoError(t, err)

	stub.mu.Lock()
	stub.validToken = "tok-elsewhere"
	stub.refreshLag = 100 * time.Millisecond // let the 401 burst pile up
	stub.mu.Unlock()

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Me(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&stub.refreshHits))
}

func Test_Client_sessionExpired(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "jane@test.cd", "Str0ngPwd!")
	require.NoError(t, err)

	stub.mu.Lock()
	stub.validToken = "tok-elsewhere"
	stub.refreshFail = true
	stub.mu.Unlock()

	_, err = c.Me(ctx)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Empty(t, c.getToken())
}

func Test_Client_logoutClearsLocalState(t *testing.T) {
	_, c := newStub(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "jane@test.cd", "Str0ngPwd!")
	require.NoError(t, err)
	require.NotEmpty(t, c.getToken())

	// the stub always fails logout; local state goes anyway
	err = c.Logout(ctx)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Empty(t, c.getToken())
}

func Test_Client_apiError(t *testing.T) {
	_, c := newStub(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "jane@test.cd", "Str0ngPwd!")
	require.NoError(t, err)

	err = c.GetJSON(ctx, "/v1/courses/missing", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not found")
}
