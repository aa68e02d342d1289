package livejournal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/logger"
)

// Client is an HTTP client for the LiveJournal endpoints. It carries the
// session cookies (mutated only through SetCookie/SetCookies, which the
// SessionManager owns) and maps response statuses onto the error taxonomy.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	logger     logger.Logger

	cookieMu sync.RWMutex
	cookies  map[string]string
}

// NewClient creates a LiveJournal client
func NewClient(baseURL string, timeout time.Duration, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			// Redirects are not followed: the login handshake reads
			// Set-Cookie off the immediate response, and authenticated
			// endpoints bounce expired sessions to the login page.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
		baseURL: baseURL,
		cookies: make(map[string]string),
		logger:  log,
	}
}

// BaseURL returns the configured endpoint
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetCookie sets a single session cookie
func (c *Client) SetCookie(name, value string) {
	c.cookieMu.Lock()
	defer c.cookieMu.Unlock()
	c.cookies[name] = value
}

// SetCookies replaces the whole cookie set
func (c *Client) SetCookies(cookies map[string]string) {
	c.cookieMu.Lock()
	defer c.cookieMu.Unlock()
	c.cookies = make(map[string]string, len(cookies))
	for k, v := range cookies {
		c.cookies[k] = v
	}
}

// Cookies returns a copy of the current cookie set
func (c *Client) Cookies() map[string]string {
	c.cookieMu.RLock()
	defer c.cookieMu.RUnlock()
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

// cookieHeader renders the cookie set deterministically
func (c *Client) cookieHeader() string {
	c.cookieMu.RLock()
	defer c.cookieMu.RUnlock()
	if len(c.cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(c.cookies))
	for name := range c.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, c.cookies[name]))
	}
	return strings.Join(pairs, "; ")
}

// do performs an HTTP request with the configured headers and cookies
func (c *Client) do(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if cookie := c.cookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, fmt.Sprintf("request to %s failed", req.URL.Path), err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// Get performs a raw GET; the caller owns the response and the status check
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, "failed to create request", err)
	}
	return c.do(req)
}

// PostForm performs a raw POST with form-encoded data
func (c *Client) PostForm(ctx context.Context, rawURL string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// GetBody performs a GET, checks the status and returns the response body
func (c *Client) GetBody(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return c.readBody(resp)
}

// PostFormBody performs a form POST, checks the status and returns the body
func (c *Client) PostFormBody(ctx context.Context, rawURL string, data url.Values) (string, error) {
	resp, err := c.PostForm(ctx, rawURL, data)
	if err != nil {
		return "", err
	}
	return c.readBody(resp)
}

func (c *Client) readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.WithCode(errs.ErrorTypeNetwork, "failed to read response body", resp.StatusCode)
	}
	return string(body), nil
}

// checkResponseStatus maps HTTP statuses onto the error taxonomy
func (c *Client) checkResponseStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code >= 300 && code < 400:
		// Authenticated endpoints redirect expired sessions to the login page
		c.logger.WarnWithFields("redirected, session likely expired", map[string]interface{}{
			"status":   code,
			"url":      resp.Request.URL.String(),
			"location": resp.Header.Get("Location"),
		})
		return errs.WithCode(errs.ErrorTypeSessionExpired, "redirected to login", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		c.logger.WarnWithFields("session rejected", map[string]interface{}{
			"status": code,
			"url":    resp.Request.URL.String(),
		})
		return errs.WithCode(errs.ErrorTypeSessionExpired, "session rejected by server", code)
	case code == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status": code,
			"url":    resp.Request.URL.String(),
		})
		return errs.WithCode(errs.ErrorTypeRateLimit, "rate limit exceeded", code)
	case code >= 500:
		c.logger.ErrorWithFields("server error", map[string]interface{}{
			"status": code,
			"url":    resp.Request.URL.String(),
		})
		return errs.WithCode(errs.ErrorTypeServerError, "server error", code)
	default:
		c.logger.ErrorWithFields("unexpected response status", map[string]interface{}{
			"status": code,
			"url":    resp.Request.URL.String(),
		})
		return errs.WithCode(errs.ErrorTypeUnknown, fmt.Sprintf("unexpected status code: %d", code), code)
	}
}

// FetchMonth fetches the post export XML for one calendar month
func (c *Client) FetchMonth(ctx context.Context, year, month int) (string, error) {
	c.logger.DebugWithFields("fetching post month", map[string]interface{}{
		"year":  year,
		"month": month,
	})
	return c.PostFormBody(ctx, c.baseURL+exportPostsPath, exportPostsForm(year, month))
}

// FetchCommentMeta fetches the comment metadata XML (maxid + usermap)
func (c *Client) FetchCommentMeta(ctx context.Context, startID int) (string, error) {
	return c.GetBody(ctx, commentMetaURL(c.baseURL, startID))
}

// FetchCommentBodies fetches a batch of comment bodies after the cursor
func (c *Client) FetchCommentBodies(ctx context.Context, startID int) (string, error) {
	c.logger.DebugWithFields("fetching comment batch", map[string]interface{}{
		"startid": startID,
	})
	return c.GetBody(ctx, commentBodyURL(c.baseURL, startID))
}

// FetchInboxPage fetches one page of an inbox folder view
func (c *Client) FetchInboxPage(ctx context.Context, view string, page int) (string, error) {
	c.logger.DebugWithFields("fetching inbox page", map[string]interface{}{
		"view": view,
		"page": page,
	})
	return c.GetBody(ctx, inboxURL(c.baseURL, view, page))
}

// FetchProfile fetches the profile page HTML for a journal
func (c *Client) FetchProfile(ctx context.Context, username string) (string, error) {
	return c.GetBody(ctx, profileURL(c.baseURL, username))
}
