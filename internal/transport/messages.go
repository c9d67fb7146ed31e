package transport

import (
	"time"

	"github.com/roach88/sitesync/internal/model"
)

// Paths of the v5 sync API, relative to the configured base URL.
const (
	pathLogin      = "/sync/v5/login"
	pathSite       = "/sync/v5/site"
	pathInitialise = "/sync/v5/initialise"
	pathPull       = "/sync/v5/pull"
	pathPush       = "/sync/v5/push"
)

type loginRequest struct {
	Username       string `json:"username"`
	PasswordSha256 string `json:"passwordSha256"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// SiteToken is the bearer token issued by central on login.
type SiteToken struct {
	Token     string
	ExpiresAt time.Time // zero if the token carries no expiry
}

// Valid reports whether the token is present and not about to expire.
func (t SiteToken) Valid(now time.Time) bool {
	if t.Token == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Add(tokenExpirySkew).Before(t.ExpiresAt)
}

const tokenExpirySkew = 30 * time.Second

// SiteInfo describes the authenticated site as known to central.
type SiteInfo struct {
	SiteID int64  `json:"siteId"`
	Name   string `json:"name,omitempty"`
}

type initialiseResponse struct {
	QueueLength int64 `json:"queueLength"`
}

type pullResponse struct {
	MaxCursor int64              `json:"maxCursor"`
	Data      []model.WireRecord `json:"data"`
}

// PullBatch is one page of central's queue for this site.
type PullBatch struct {
	Records   []model.WireRecord
	MaxCursor int64
	HasMore   bool
}

// LastCursor returns the cursor of the final record, or 0 for an empty batch.
func (b PullBatch) LastCursor() int64 {
	if len(b.Records) == 0 {
		return 0
	}
	return b.Records[len(b.Records)-1].Cursor
}

type pushRequest struct {
	Data []model.WireRecord `json:"data"`
}

// PushAck is central's acknowledgement of a push batch.
type PushAck struct {
	Integrated int `json:"integrated"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
