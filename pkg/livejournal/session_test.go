package livejournal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, 5*time.Second, "yalje-test", nil)
	return server, client
}

func loginHandler(t *testing.T, acceptPassword string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "luid", Value: "12345:67890"})
			w.WriteHeader(http.StatusOK)
		case "/login.bml":
			require.NoError(t, r.ParseForm())
			if r.PostFormValue("password") == acceptPassword {
				http.SetCookie(w, &http.Cookie{Name: "ljloggedin", Value: "u100:s200"})
				http.SetCookie(w, &http.Cookie{Name: "ljmastersession", Value: "v1:u100:s200:abcdef"})
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestLoginSuccess(t *testing.T) {
	_, client := newTestServer(t, loginHandler(t, "hunter2"))
	session := NewSessionManager(client, nil)

	err := session.Login(context.Background(), "testuser", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, session.State())
	cookies := session.Cookies()
	assert.Equal(t, "12345:67890", cookies["luid"])
	assert.Contains(t, cookies, "ljloggedin")
	assert.Contains(t, cookies, "ljmastersession")
}

func TestLoginWrongPassword(t *testing.T) {
	_, client := newTestServer(t, loginHandler(t, "hunter2"))
	session := NewSessionManager(client, nil)

	err := session.Login(context.Background(), "testuser", "wrong")
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeAuth))
	assert.Equal(t, StateUnauthenticated, session.State())
}

func TestLoginMissingPreLoginCookie(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	session := NewSessionManager(client, nil)

	err := session.Login(context.Background(), "testuser", "hunter2")
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeAuth))
}

func TestRefreshCollapsesConcurrentCallers(t *testing.T) {
	var mu sync.Mutex
	loginPosts := 0

	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "luid", Value: "1:2"})
		case "/login.bml":
			mu.Lock()
			loginPosts++
			mu.Unlock()
			http.SetCookie(w, &http.Cookie{Name: "ljloggedin", Value: "x"})
			http.SetCookie(w, &http.Cookie{Name: "ljmastersession", Value: "y"})
		}
		w.WriteHeader(http.StatusOK)
	})

	session := NewSessionManager(client, nil)
	require.NoError(t, session.Login(context.Background(), "testuser", "pw"))

	mu.Lock()
	loginPosts = 0
	mu.Unlock()

	session.Invalidate()
	assert.Equal(t, StateExpired, session.State())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, session.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateAuthenticated, session.State())
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, loginPosts, 2)
}

func TestRefreshWithoutCredentials(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	session := NewSessionManager(client, nil)

	err := session.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeAuth))
}

func TestRestoreCookies(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	session := NewSessionManager(client, nil)

	session.RestoreCookies("testuser", map[string]string{
		"ljloggedin":      "u:s",
		"ljmastersession": "v1:u:s:tok",
	})

	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, "testuser", session.Username())
	assert.Equal(t, "u:s", session.Cookies()["ljloggedin"])
}

func TestValidateInvalidatesOnRedirect(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/login.bml")
		w.WriteHeader(http.StatusFound)
	})
	session := NewSessionManager(client, nil)
	session.RestoreCookies("testuser", map[string]string{"ljloggedin": "stale"})

	err := session.Validate(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeSessionExpired))
	assert.Equal(t, StateExpired, session.State())
}
