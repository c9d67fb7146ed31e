package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/sitesync/internal/model"
)

// Central API operations, used to address call counts and injected failures.
const (
	OpLogin      = "login"
	OpSite       = "site"
	OpInitialise = "initialise"
	OpPull       = "pull"
	OpPush       = "push"
)

// FakeCentral is an in-process central server speaking the v5 sync API.
//
// It keeps one queue of records for a single site, counts calls per
// operation, and can be told to fail or block specific operations.
// Thread-safety: all methods are safe for concurrent use.
type FakeCentral struct {
	Username string
	Password string
	SiteID   int64

	server *httptest.Server

	mu          sync.Mutex
	queue       []model.WireRecord
	nextCursor  int64
	pushed      []model.WireRecord
	calls       map[string]int
	failures    map[string][]int
	blocks      map[string]*Block
	allBlocks   []*Block
	token       string
	logins      int
	authorised  bool
	initialised int
}

// Block holds requests for one operation until released.
type Block struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed when the first blocked request arrives.
func (b *Block) Entered() <-chan struct{} {
	return b.entered
}

// Release lets blocked requests proceed. It is safe to call more than once.
func (b *Block) Release() {
	b.once.Do(func() { close(b.release) })
}

// NewFakeCentral starts a fake central for site 1 with credentials
// site1/secret. The server is closed when the test ends.
func NewFakeCentral(t testing.TB) *FakeCentral {
	t.Helper()
	fc := &FakeCentral{
		Username:   "site1",
		Password:   "secret",
		SiteID:     1,
		calls:      make(map[string]int),
		failures:   make(map[string][]int),
		blocks:     make(map[string]*Block),
		authorised: true,
	}
	fc.server = httptest.NewServer(fc.routes())
	t.Cleanup(func() {
		fc.mu.Lock()
		for _, b := range fc.allBlocks {
			b.Release()
		}
		fc.mu.Unlock()
		fc.server.Close()
	})
	return fc
}

// URL returns the base URL of the server.
func (fc *FakeCentral) URL() string {
	return fc.server.URL
}

func (fc *FakeCentral) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/sync/v5", func(r chi.Router) {
		r.Post("/login", fc.track(OpLogin, fc.handleLogin))
		r.Group(func(r chi.Router) {
			r.Use(fc.authenticate)
			r.Get("/site", fc.track(OpSite, fc.handleSite))
			r.Post("/initialise", fc.track(OpInitialise, fc.handleInitialise))
			r.Get("/pull", fc.track(OpPull, fc.handlePull))
			r.Post("/push", fc.track(OpPush, fc.handlePush))
		})
	})
	return r
}

// Enqueue appends a record to the site's queue and returns its cursor.
// An empty action means upsert; data may be empty for deletes.
func (fc *FakeCentral) Enqueue(table model.Table, id string, action model.RowAction, data string) int64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.nextCursor++
	if data == "" {
		data = "null"
	}
	fc.queue = append(fc.queue, model.WireRecord{
		Cursor:   fc.nextCursor,
		Table:    table,
		RecordID: id,
		Action:   action.OrUpsert(),
		Data:     json.RawMessage(data),
	})
	return fc.nextCursor
}

// ResetQueue empties the site's queue and restarts its cursors, as central
// does when it rebuilds a site's queue.
func (fc *FakeCentral) ResetQueue() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.queue = nil
	fc.nextCursor = 0
}

// Pushed returns every record central accepted, in arrival order.
func (fc *FakeCentral) Pushed() []model.WireRecord {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]model.WireRecord, len(fc.pushed))
	copy(out, fc.pushed)
	return out
}

// Calls returns how many requests reached op's handler, including ones
// failed by FailNext.
func (fc *FakeCentral) Calls(op string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.calls[op]
}

// Initialisations returns how many times the site initialised.
func (fc *FakeCentral) Initialisations() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.initialised
}

// FailNext makes the next len(statuses) requests to op fail with the given
// HTTP statuses, in order.
func (fc *FakeCentral) FailNext(op string, statuses ...int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.failures[op] = append(fc.failures[op], statuses...)
}

// SetAuthorised controls whether central lets the site sync. An
// unauthorised site can log in but gets 403 on every other call.
func (fc *FakeCentral) SetAuthorised(ok bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.authorised = ok
}

// BlockNext holds requests to op until the returned Block is released.
func (fc *FakeCentral) BlockNext(op string) *Block {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	b := &Block{entered: make(chan struct{}), release: make(chan struct{})}
	fc.blocks[op] = b
	fc.allBlocks = append(fc.allBlocks, b)
	return b
}

// track counts the call, applies any block or injected failure for op, and
// then runs h.
func (fc *FakeCentral) track(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fc.calls[op]++
		block := fc.blocks[op]
		delete(fc.blocks, op)
		var status int
		if pending := fc.failures[op]; len(pending) > 0 {
			status = pending[0]
			fc.failures[op] = pending[1:]
		}
		fc.mu.Unlock()

		if block != nil {
			close(block.entered)
			select {
			case <-block.release:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeError(w, status, "INJECTED", fmt.Sprintf("injected %s failure", op))
			return
		}
		h(w, r)
	}
}

func (fc *FakeCentral) passwordHash() string {
	sum := sha256.Sum256([]byte(fc.Password))
	return hex.EncodeToString(sum[:])
}

func (fc *FakeCentral) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		token, authorised := fc.token, fc.authorised
		fc.mu.Unlock()

		ok := false
		if bearer, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
			ok = token != "" && bearer == token
		} else if user, pass, found := r.BasicAuth(); found {
			ok = user == fc.Username && pass == fc.passwordHash()
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials")
			return
		}
		if !authorised {
			writeError(w, http.StatusForbidden, "SITE_NOT_AUTHORISED", "site is not authorised to sync")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fc *FakeCentral) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username       string `json:"username"`
		PasswordSha256 string `json:"passwordSha256"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if body.Username != fc.Username || body.PasswordSha256 != fc.passwordHash() {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	fc.mu.Lock()
	fc.logins++
	fc.token = fmt.Sprintf("token-%d", fc.logins)
	token := fc.token
	fc.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (fc *FakeCentral) handleSite(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"siteId": fc.SiteID, "name": fc.Username})
}

func (fc *FakeCentral) handleInitialise(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	fc.initialised++
	n := len(fc.queue)
	fc.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int{"queueLength": n})
}

func (fc *FakeCentral) handlePull(w http.ResponseWriter, r *http.Request) {
	cursor, err := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "cursor must be an integer")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer")
		return
	}

	fc.mu.Lock()
	data := []model.WireRecord{}
	for _, rec := range fc.queue {
		if rec.Cursor > cursor && len(data) < limit {
			data = append(data, rec)
		}
	}
	maxCursor := fc.nextCursor
	fc.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"maxCursor": maxCursor, "data": data})
}

func (fc *FakeCentral) handlePush(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data []model.WireRecord `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	for _, rec := range body.Data {
		if rec.Table == "" || rec.RecordID == "" {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_RECORD", "tableName and recordId are required")
			return
		}
	}

	fc.mu.Lock()
	fc.pushed = append(fc.pushed, body.Data...)
	fc.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int{"integrated": len(body.Data)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
