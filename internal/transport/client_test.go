package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sitesync/internal/model"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, r http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:     srv.URL,
		Credentials: Credentials{Username: "site1", Password: "secret"},
		Timeout:     2 * time.Second,
		Retry:       NoRetry(),
		Now:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "site1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("central-key"))
	require.NoError(t, err)
	return s
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "ftp://central"})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "https://central.example/"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, 3, c.retry.MaxAttempts)
}

func TestLogin_StoresTokenAndExpiry(t *testing.T) {
	exp := testNow.Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, exp)

	var gotAuth string
	r := chi.NewRouter()
	r.Post(pathLogin, func(w http.ResponseWriter, req *http.Request) {
		var body loginRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "site1", body.Username)
		assert.Equal(t, Credentials{Password: "secret"}.passwordHash(), body.PasswordSha256)
		assert.Len(t, body.PasswordSha256, 64)
		writeJSON(w, http.StatusOK, loginResponse{Token: token})
	})
	r.Get(pathSite, func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, SiteInfo{SiteID: 7, Name: "Clinic"})
	})

	c := newTestClient(t, r)
	tok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, tok.Token)
	assert.True(t, tok.ExpiresAt.Equal(exp))

	info, err := c.SiteInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.SiteID)
	assert.Equal(t, "Bearer "+token, gotAuth)
}

func TestAuthorize_FallsBackToBasicWhenExpired(t *testing.T) {
	token := signedToken(t, testNow.Add(-time.Minute))

	var user, pass string
	var ok bool
	r := chi.NewRouter()
	r.Post(pathLogin, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, loginResponse{Token: token})
	})
	r.Post(pathInitialise, func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok = req.BasicAuth()
		writeJSON(w, http.StatusOK, initialiseResponse{QueueLength: 12})
	})

	c := newTestClient(t, r)
	_, err := c.Login(context.Background())
	require.NoError(t, err)

	n, err := c.Initialise(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	require.True(t, ok)
	assert.Equal(t, "site1", user)
	assert.Equal(t, Credentials{Password: "secret"}.passwordHash(), pass)
}

func TestLogin_OpaqueTokenHasNoExpiry(t *testing.T) {
	r := chi.NewRouter()
	r.Post(pathLogin, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, loginResponse{Token: "opaque"})
	})

	c := newTestClient(t, r)
	tok, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.True(t, tok.ExpiresAt.IsZero())
	assert.True(t, tok.Valid(testNow))
}

func TestLogin_EmptyTokenIsProtocolError(t *testing.T) {
	r := chi.NewRouter()
	r.Post(pathLogin, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, loginResponse{})
	})

	c := newTestClient(t, r)
	_, err := c.Login(context.Background())
	assert.Equal(t, KindProtocol, KindOf(err))
}

func TestPull_ParsesBatch(t *testing.T) {
	r := chi.NewRouter()
	r.Get(pathPull, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "10", req.URL.Query().Get("cursor"))
		assert.Equal(t, "2", req.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"maxCursor": 15,
			"data": []map[string]any{
				{"id": 11, "tableName": "unit", "recordId": "u1", "data": map[string]any{"name": "Tab"}},
				{"id": 12, "tableName": "location", "recordId": "l1", "action": "delete", "data": nil},
			},
		})
	})

	c := newTestClient(t, r)
	batch, err := c.Pull(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, model.ActionUpsert, batch.Records[0].Action)
	assert.Equal(t, model.ActionDelete, batch.Records[1].Action)
	assert.Equal(t, int64(12), batch.LastCursor())
	assert.Equal(t, int64(15), batch.MaxCursor)
	assert.True(t, batch.HasMore)
	assert.JSONEq(t, `{"name":"Tab"}`, string(batch.Records[0].Data))
}

func TestPull_EmptyBatch(t *testing.T) {
	r := chi.NewRouter()
	r.Get(pathPull, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"maxCursor": 10, "data": []any{}})
	})

	c := newTestClient(t, r)
	batch, err := c.Pull(context.Background(), 10, 100)
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	assert.False(t, batch.HasMore)
	assert.Equal(t, int64(0), batch.LastCursor())
}

func TestPull_NonIncreasingCursorIsProtocolError(t *testing.T) {
	r := chi.NewRouter()
	r.Get(pathPull, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"maxCursor": 20,
			"data": []map[string]any{
				{"id": 5, "tableName": "unit", "recordId": "u1", "data": map[string]any{}},
			},
		})
	})

	c := newTestClient(t, r)
	_, err := c.Pull(context.Background(), 10, 100)
	assert.Equal(t, KindProtocol, KindOf(err))
}

func TestPush_SendsRecords(t *testing.T) {
	var got pushRequest
	r := chi.NewRouter()
	r.Post(pathPush, func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		writeJSON(w, http.StatusOK, PushAck{Integrated: len(got.Data)})
	})

	c := newTestClient(t, r)
	ack, err := c.Push(context.Background(), []model.WireRecord{
		{Cursor: 1, Table: model.TableUnit, RecordID: "u1", Action: model.ActionUpsert, Data: json.RawMessage(`{"name":"Tab"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Integrated)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "u1", got.Data[0].RecordID)
}

func TestErrors_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindSiteNotAuthorised},
		{http.StatusBadRequest, KindRejected},
		{http.StatusConflict, KindRejected},
		{http.StatusUnprocessableEntity, KindRejected},
		{http.StatusTooManyRequests, KindTransport},
		{http.StatusInternalServerError, KindTransport},
		{http.StatusBadGateway, KindTransport},
		{http.StatusNotFound, KindProtocol},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			r := chi.NewRouter()
			r.Post(pathPush, func(w http.ResponseWriter, req *http.Request) {
				writeJSON(w, tt.status, errorBody{Code: "E_TEST", Message: "nope"})
			})

			c := newTestClient(t, r)
			_, err := c.Push(context.Background(), nil)
			require.Error(t, err)

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.want, te.Kind)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, "E_TEST", te.Code)
			assert.Equal(t, "nope", te.Message)
			assert.Equal(t, tt.want == KindTransport, IsRetryable(err))
		})
	}
}

func TestErrors_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, Retry: NoRetry()})
	require.NoError(t, err)

	_, err = c.SiteInfo(context.Background())
	assert.Equal(t, KindTransport, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get(pathSite, func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "busy"})
			return
		}
		writeJSON(w, http.StatusOK, SiteInfo{SiteID: 3})
	})

	c := newTestClient(t, r)
	c.retry = RetryPolicy{MaxAttempts: 3, sleep: func(context.Context, time.Duration) error { return nil }}

	info, err := c.SiteInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.SiteID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryAuth(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get(pathSite, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "INVALID_CREDENTIALS"})
	})

	c := newTestClient(t, r)
	c.retry = RetryPolicy{MaxAttempts: 5, sleep: func(context.Context, time.Duration) error { return nil }}

	_, err := c.SiteInfo(context.Background())
	assert.True(t, IsAuth(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Get(pathSite, func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-release:
		case <-req.Context().Done():
		}
	})

	c := newTestClient(t, r)
	defer close(release)
	c.timeout = 50 * time.Millisecond

	_, err := c.SiteInfo(context.Background())
	assert.Equal(t, KindTransport, KindOf(err))
}
