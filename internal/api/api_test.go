package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/data/store"
	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/service/session"
	"fleetbot/internal/transport"
	"fleetbot/internal/transport/transporttest"
)

const number = "255612491554"

type fixture struct {
	srv    *Server
	reg    *session.Registry
	dialer *transporttest.Dialer
	stores *store.Container
}

func newFixture(t *testing.T, pairTimeout time.Duration) *fixture {
	t.Helper()
	s, err := store.New(context.Background(), filepath.Join(t.TempDir(), "fleet.db"), waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		dialer: transporttest.NewDialer(),
		stores: store.NewContainer(s),
	}
	opts := session.Options{
		ConnectTimeout:      2 * time.Second,
		PairingCodeExpiry:   time.Minute,
		PairingAttempts:     2,
		PairingRetryWait:    time.Millisecond,
		PairingAttemptLimit: time.Second,
		RestartDelay:        5 * time.Millisecond,
		ReconnectDelay:      5 * time.Millisecond,
	}
	m := metrics.New()
	f.reg = session.NewRegistry(f.dialer, f.stores.Credentials, opts, session.Hooks{}, m, waLog.Noop)
	f.srv = New(f.reg, m, pairTimeout, waLog.Noop)
	t.Cleanup(func() { f.reg.StopAll(context.Background()) })
	return f
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func (f *fixture) storeCreds(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.stores.Credentials.Put(context.Background(), transport.Credentials{
		AccountID: id,
		JID:       id + ":1@s.whatsapp.net",
		LinkedAt:  time.Now(),
	}))
}

func TestCodeIssuesPairingCode(t *testing.T) {
	f := newFixture(t, time.Second)

	rec := f.do(http.MethodGet, "/code?number="+url.QueryEscape("+255 612-491-554"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "code", body["status"])
	assert.Equal(t, "CODE-1554", body["code"])
	assert.Equal(t, number, body["number"])
	assert.True(t, f.reg.IsActive(number))
}

func TestCodeValidatesNumber(t *testing.T) {
	f := newFixture(t, time.Second)

	rec := f.do(http.MethodGet, "/code")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_NUMBER", decode(t, rec)["code"])

	rec = f.do(http.MethodGet, "/code?number=12345")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_NUMBER", decode(t, rec)["code"])
	assert.Zero(t, f.dialer.Dials("12345"))
}

func TestCodeWhilePairingConflicts(t *testing.T) {
	f := newFixture(t, time.Second)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)

	rec := f.do(http.MethodGet, "/code?number="+number)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_ACTIVE", decode(t, rec)["code"])
	assert.Equal(t, 1, f.dialer.Dials(number))
}

func TestCodeAlreadyConnected(t *testing.T) {
	f := newFixture(t, time.Second)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)

	sess := f.dialer.Last(number)
	sess.Link()
	sess.Open()
	require.Eventually(t, func() bool {
		st, _ := f.reg.Status(number)
		return st.Connected
	}, time.Second, time.Millisecond)

	rec := f.do(http.MethodGet, "/code?number="+number)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_connected", decode(t, rec)["status"])
}

func TestCodeRestoresStoredSession(t *testing.T) {
	f := newFixture(t, time.Second)
	f.storeCreds(t, number)
	f.dialer.Configure = func(s *transporttest.Session) { s.AutoOpen = true }

	rec := f.do(http.MethodGet, "/code?number="+number)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "connected", body["status"])
	assert.Nil(t, body["code"])
}

func TestCodePairingFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.dialer.Configure = func(s *transporttest.Session) { s.PairingFailures = 10 }

	rec := f.do(http.MethodGet, "/code?number="+number)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PAIRING_FAILED", decode(t, rec)["code"])
}

func TestCodeTimeout(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	// registered but the connection never opens
	f.storeCreds(t, number)

	rec := f.do(http.MethodGet, "/code?number="+number)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "TIMEOUT", decode(t, rec)["code"])
}

func TestFailSessionMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{session.ErrBanned, http.StatusForbidden},
		{session.ErrReplaced, http.StatusForbidden},
		{session.ErrLoggedOut, http.StatusUnauthorized},
		{session.ErrTimeout, http.StatusGatewayTimeout},
		{session.ErrPairingExpired, http.StatusBadGateway},
		{session.ErrClosed, http.StatusBadGateway},
		{session.ErrInvalidAccount, http.StatusBadRequest},
		{session.ErrAlreadyConnected, http.StatusConflict},
		{assert.AnError, http.StatusInternalServerError},
	}
	f := newFixture(t, time.Second)
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c := f.srv.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		require.NoError(t, failSession(c, tc.err))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, time.Second)

	rec := f.do(http.MethodGet, "/status/"+number)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, number, body["number"])
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, "idle", body["state"])

	f.storeCreds(t, number)
	f.dialer.Configure = func(s *transporttest.Session) { s.AutoOpen = true }
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)

	body = decode(t, f.do(http.MethodGet, "/status/"+number))
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "connected", body["state"])
	assert.NotEmpty(t, body["since"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/status/123").Code)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, time.Second)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/session/"+number).Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)
	rec := f.do(http.MethodDelete, "/session/"+number)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["stopped"])
	assert.False(t, f.reg.IsActive(number))
	assert.True(t, f.dialer.Last(number).IsClosed())
}

func TestDeleteSessionWithLogoutPurges(t *testing.T) {
	f := newFixture(t, time.Second)
	f.storeCreds(t, number)

	rec := f.do(http.MethodDelete, "/session/"+number+"?logout=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["logged_out"])
	assert.Equal(t, false, body["stopped"])

	_, err := f.stores.Credentials.Get(context.Background(), number)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{number}, f.dialer.Forgotten())
}

func TestSessionsAndHealth(t *testing.T) {
	f := newFixture(t, time.Second)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number=255789661031").Code)

	body := decode(t, f.do(http.MethodGet, "/sessions"))
	assert.EqualValues(t, 2, body["count"])
	list, ok := body["sessions"].([]interface{})
	require.True(t, ok)
	first, ok := list[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, number, first["number"])
	assert.Equal(t, "pairing", first["state"])

	body = decode(t, f.do(http.MethodGet, "/health"))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["sessions"])
}

func TestQR(t *testing.T) {
	f := newFixture(t, time.Second)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/qr/"+number).Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)
	rec := f.do(http.MethodGet, "/qr/"+number)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_QR", decode(t, rec)["code"])

	f.dialer.Last(number).Update(transport.ConnectionUpdate{State: transport.StateConnecting, QR: "2@payload,key,id"})

	rec = f.do(http.MethodGet, "/qr/"+number+"?size=128")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = f.do(http.MethodGet, "/qr/"+number+"?format=text")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, strings.TrimSpace(rec.Body.String()))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, time.Second)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/code?number="+number).Code)

	rec := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleetbot_active_sessions 1")
	assert.Contains(t, rec.Body.String(), `fleetbot_pairing_codes_total{result="issued"} 1`)
}
