package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/sitesync/internal/model"
)

// DefaultTimeout bounds each HTTP request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Credentials identify the site to central.
type Credentials struct {
	Username string
	Password string
}

// passwordHash is the form in which the password is sent to central.
func (c Credentials) passwordHash() string {
	sum := sha256.Sum256([]byte(c.Password))
	return hex.EncodeToString(sum[:])
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	Retry       RetryPolicy
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Now         func() time.Time
}

// Client talks to central's sync API. It is safe for concurrent use,
// though the synchroniser only ever issues one call at a time.
type Client struct {
	base    *url.URL
	creds   Credentials
	timeout time.Duration
	retry   RetryPolicy
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	token SiteToken
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: base URL scheme must be http or https, got %q", base.Scheme)
	}

	c := &Client{
		base:    base,
		creds:   cfg.Credentials,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = DefaultRetryPolicy()
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Login exchanges the site credentials for a bearer token. Subsequent calls
// use the token until it expires, then fall back to basic auth.
func (c *Client) Login(ctx context.Context) (SiteToken, error) {
	var resp loginResponse
	err := c.call(ctx, "login", http.MethodPost, pathLogin, nil, loginRequest{
		Username:       c.creds.Username,
		PasswordSha256: c.creds.passwordHash(),
	}, &resp, false)
	if err != nil {
		return SiteToken{}, err
	}
	if resp.Token == "" {
		return SiteToken{}, &Error{Kind: KindProtocol, Op: "login", Message: "response has no token"}
	}

	tok := SiteToken{Token: resp.Token, ExpiresAt: tokenExpiry(resp.Token)}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	c.logger.Debug("logged in to central", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// tokenExpiry reads the exp claim without verifying the signature: the
// site cannot verify central's key and only needs to know when to stop
// presenting the token. Opaque tokens yield a zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// SiteInfo returns the identity of the authenticated site.
func (c *Client) SiteInfo(ctx context.Context) (SiteInfo, error) {
	var info SiteInfo
	err := c.call(ctx, "site info", http.MethodGet, pathSite, nil, nil, &info, true)
	return info, err
}

// Initialise performs the first-ever handshake. Central rebuilds this site's
// queue from scratch and returns its length; pulling restarts at cursor 0.
func (c *Client) Initialise(ctx context.Context) (int64, error) {
	var resp initialiseResponse
	if err := c.call(ctx, "initialise", http.MethodPost, pathInitialise, nil, struct{}{}, &resp, true); err != nil {
		return 0, err
	}
	return resp.QueueLength, nil
}

// Pull fetches up to limit records with a central cursor greater than cursor.
func (c *Client) Pull(ctx context.Context, cursor int64, limit int) (PullBatch, error) {
	query := url.Values{}
	query.Set("cursor", strconv.FormatInt(cursor, 10))
	query.Set("limit", strconv.Itoa(limit))

	var resp pullResponse
	if err := c.call(ctx, "pull", http.MethodGet, pathPull, query, nil, &resp, true); err != nil {
		return PullBatch{}, err
	}

	batch := PullBatch{Records: resp.Data, MaxCursor: resp.MaxCursor}
	if batch.Records == nil {
		batch.Records = []model.WireRecord{}
	}
	prev := cursor
	for i := range batch.Records {
		rec := &batch.Records[i]
		if rec.Cursor <= prev {
			return PullBatch{}, &Error{
				Kind:    KindProtocol,
				Op:      "pull",
				Message: fmt.Sprintf("record cursor %d not after %d", rec.Cursor, prev),
			}
		}
		prev = rec.Cursor
		rec.Action = rec.Action.OrUpsert()
	}
	batch.HasMore = len(batch.Records) > 0 && batch.LastCursor() < batch.MaxCursor
	return batch, nil
}

// Push sends a batch of local changes. Central either integrates the whole
// batch or rejects it.
func (c *Client) Push(ctx context.Context, records []model.WireRecord) (PushAck, error) {
	var ack PushAck
	err := c.call(ctx, "push", http.MethodPost, pathPush, nil, pushRequest{Data: records}, &ack, true)
	return ack, err
}

// call issues one logical request through the retry policy.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any, auth bool) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindProtocol, Op: op, Message: "encode request", Err: err}
		}
		payload = b
	}

	return c.retry.Do(ctx, op, func(ctx context.Context) error {
		return c.once(ctx, op, method, path, query, payload, out, auth)
	})
}

func (c *Client) once(ctx context.Context, op, method, path string, query url.Values, payload []byte, out any, auth bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &Error{Kind: KindProtocol, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		c.authorize(req)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	c.logger.Debug("central request", "op", op, "status", resp.StatusCode, "bytes", len(data), "duration", c.now().Sub(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Kind: kindForStatus(resp.StatusCode), Op: op, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			e.Code = eb.Code
			e.Message = eb.Message
		}
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return e
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindProtocol, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// authorize attaches the bearer token when one is valid, and basic auth
// otherwise.
func (c *Client) authorize(req *http.Request) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok.Valid(c.now()) {
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		return
	}
	req.SetBasicAuth(c.creds.Username, c.creds.passwordHash())
}
