package livejournal

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/logger"
)

// SessionState tracks where a session is in its lifecycle
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// SessionManager owns the login handshake and the session cookies. It is the
// only component that writes cookies into the Client. Concurrent refresh
// attempts are collapsed so that when several pipelines hit an expired
// session at once, only one re-login round-trip happens.
type SessionManager struct {
	client *Client
	logger logger.Logger

	mu       sync.RWMutex
	state    SessionState
	username string
	password string

	refreshGroup singleflight.Group
}

// NewSessionManager creates a session manager over the given client
func NewSessionManager(client *Client, log logger.Logger) *SessionManager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &SessionManager{
		client: client,
		logger: log,
		state:  StateUnauthenticated,
	}
}

// State returns the current session state
func (s *SessionManager) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Username returns the account the session belongs to
func (s *SessionManager) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Login performs the two-step handshake: fetch the front page to obtain the
// pre-login luid cookie, then post the credentials to login.bml. Success is
// determined solely by the presence of the ljloggedin and ljmastersession
// cookies on the login response.
func (s *SessionManager) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	s.state = StateAuthenticating
	s.username = username
	s.password = password
	s.mu.Unlock()

	s.logger.InfoWithFields("logging in", map[string]interface{}{
		"username": username,
	})

	if err := s.fetchPreLoginCookie(ctx); err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	if err := s.postLogin(ctx, username, password); err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	s.setState(StateAuthenticated)
	s.logger.InfoWithFields("login successful", map[string]interface{}{
		"username": username,
	})
	return nil
}

func (s *SessionManager) fetchPreLoginCookie(ctx context.Context) error {
	resp, err := s.client.Get(ctx, s.client.BaseURL()+"/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "luid" {
			s.client.SetCookie("luid", cookie.Value)
			return nil
		}
	}

	s.logger.Warn("front page did not set the luid cookie")
	return errs.New(errs.ErrorTypeAuth, "login handshake failed: no luid cookie from front page")
}

func (s *SessionManager) postLogin(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("user", username)
	form.Set("password", password)

	resp, err := s.client.PostForm(ctx, s.client.BaseURL()+loginPath, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var loggedIn, masterSession bool
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case "ljloggedin":
			loggedIn = true
		case "ljmastersession":
			masterSession = true
		}
		s.client.SetCookie(cookie.Name, cookie.Value)
	}

	if !loggedIn || !masterSession {
		return errs.New(errs.ErrorTypeAuth, "login failed: check username and password")
	}
	return nil
}

// SetCredentials stores credentials for later Refresh calls without logging
// in. Used when a session is restored from saved cookies.
func (s *SessionManager) SetCredentials(username, password string) {
	s.mu.Lock()
	s.username = username
	s.password = password
	s.mu.Unlock()
}

// Invalidate marks the session expired. The next Refresh call re-logs in.
func (s *SessionManager) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated {
		s.logger.Warn("session invalidated")
		s.state = StateExpired
	}
}

// Refresh re-establishes an expired session. Concurrent callers share one
// login attempt; a caller arriving after another goroutine already refreshed
// returns immediately.
func (s *SessionManager) Refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		s.mu.RLock()
		state := s.state
		username := s.username
		password := s.password
		s.mu.RUnlock()

		if state == StateAuthenticated {
			return nil, nil
		}
		if username == "" || password == "" {
			return nil, errs.New(errs.ErrorTypeAuth, "cannot refresh session: no stored credentials")
		}

		s.logger.Info("refreshing expired session")
		return nil, s.Login(ctx, username, password)
	})
	return err
}

// Validate checks the session by requesting an authenticated page
func (s *SessionManager) Validate(ctx context.Context) error {
	_, err := s.client.FetchInboxPage(ctx, "all", 1)
	if err != nil {
		if errs.IsType(err, errs.ErrorTypeSessionExpired) {
			s.Invalidate()
		}
		return err
	}
	return nil
}

// Cookies returns the session cookies for persistence
func (s *SessionManager) Cookies() map[string]string {
	return s.client.Cookies()
}

// RestoreCookies installs previously persisted session cookies. The session
// is considered authenticated until an endpoint says otherwise.
func (s *SessionManager) RestoreCookies(username string, cookies map[string]string) {
	s.client.SetCookies(cookies)
	s.mu.Lock()
	s.username = username
	s.state = StateAuthenticated
	s.mu.Unlock()
}

func (s *SessionManager) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
