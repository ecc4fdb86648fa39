package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/identitytest"
	"github.com/skygenesisenterprise/aethergate/internal/appconfig"
	otelexport "github.com/skygenesisenterprise/aethergate/metrics/export/otel"
)

type upstreamSeen struct {
	Path    string      `json:"path"`
	Headers http.Header `json:"headers"`
}

type fixture struct {
	t        *testing.T
	idp      *identitytest.Server
	rt       *Runtime
	handler  http.Handler
	upstream *httptest.Server
	hits     atomic.Int32
}

func newFixture(t *testing.T, mutate func(*appconfig.Settings)) *fixture {
	t.Helper()
	f := &fixture{t: t, idp: identitytest.New()}
	t.Cleanup(f.idp.Close)

	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(upstreamSeen{Path: r.URL.Path, Headers: r.Header})
	}))
	t.Cleanup(f.upstream.Close)

	s := &appconfig.Settings{
		Listen:    "127.0.0.1:0",
		Upstream:  f.upstream.URL,
		BaseURL:   f.idp.URL(),
		ClientID:  f.idp.ClientID(),
		SystemKey: f.idp.SystemKey(),
		Retry:     appconfig.RetrySettings{MaxRetries: -1},
		Metrics:   appconfig.MetricsSettings{Enabled: true},
		Gateway:   appconfig.GatewaySettings{AdminRoles: []string{"admin"}},
	}
	if mutate != nil {
		mutate(s)
	}

	rt, err := Assemble(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	f.rt = rt
	f.handler = rt.Gateway.Handler()
	return f
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "198.51.100.4:5000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestLoginReturnsTokensAndSetsCookie(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com", Password: "pw", Roles: []string{"user"}})

	rec := f.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[aethergate.TokenResponse](t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), aethergate.DefaultCookieName+"="+resp.AccessToken)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "HttpOnly")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestLoginErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com", Password: "pw"})
	f.idp.AddUser(identitytest.User{Email: "bob@example.com", Password: "pw", TOTPCode: "123456"})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing fields", `{"email":"alice@example.com"}`, http.StatusBadRequest, ""},
		{"wrong password", `{"email":"alice@example.com","password":"nope"}`, http.StatusUnauthorized, "AUTHENTICATION_FAILED"},
		{"totp required", `{"email":"bob@example.com","password":"pw"}`, http.StatusUnauthorized, "TOTP_REQUIRED"},
		{"unknown context", `{"email":"alice@example.com","password":"pw","context":"kiosk"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/auth/login", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode[map[string]any](t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestIdentityMessagesAreNotForwarded(t *testing.T) {
	f := newFixture(t, nil)

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest} {
		f.idp.FailNext(identitytest.PathLogin, status)
		rec := f.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"pw"}`, nil)
		assert.Equal(t, status, rec.Code)
		assert.NotContains(t, rec.Body.String(), "scripted failure")
	}

	f.idp.FailNext(identitytest.PathLogin, http.StatusForbidden)
	rec := f.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"pw"}`, nil)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Authorization failed", body["message"])
	assert.Equal(t, "AUTHORIZATION_FAILED", body["code"])
}

func TestLoginIsRateLimited(t *testing.T) {
	f := newFixture(t, func(s *appconfig.Settings) {
		s.RateLimit = appconfig.RateLimitSettings{Window: time.Minute, MaxAttempts: 2}
	})

	for range 2 {
		rec := f.do(http.MethodPost, "/auth/login", `{"email":"x@example.com","password":"bad"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(http.MethodPost, "/auth/login", `{"email":"x@example.com","password":"bad"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, f.idp.Calls(identitytest.PathLogin))
}

func TestLoginRateLimitUsesRedisWhenConfigured(t *testing.T) {
	f := newFixture(t, func(s *appconfig.Settings) {
		s.RateLimit = appconfig.RateLimitSettings{Window: time.Minute, MaxAttempts: 1}
		s.Redis.Embedded = true
		s.SharedCache.Enabled = true
	})

	f.do(http.MethodPost, "/auth/login", `{"email":"x@example.com","password":"bad"}`, nil)
	rec := f.do(http.MethodPost, "/auth/login", `{"email":"x@example.com","password":"bad"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAPIProxyForwardsIdentity(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{ID: "u-1", Email: "alice@example.com", Roles: []string{"user", "ops"}, SessionID: "s-9"})
	token := f.idp.IssueToken("alice@example.com")

	h := bearer(token)
	h.Set(HeaderRoles, "admin")
	h.Set(RequestIDHeader, "req-42")
	rec := f.do(http.MethodGet, "/api/reports?year=2026", "", h)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	seen := decode[upstreamSeen](t, rec)
	assert.Equal(t, "/api/reports", seen.Path)
	assert.Equal(t, "u-1", seen.Headers.Get(HeaderUserID))
	assert.Equal(t, "alice@example.com", seen.Headers.Get(HeaderEmail))
	assert.Equal(t, "user,ops", seen.Headers.Get(HeaderRoles))
	assert.Equal(t, "user", seen.Headers.Get(HeaderContext))
	assert.Equal(t, "s-9", seen.Headers.Get(HeaderSessionID))
	assert.Equal(t, "false", seen.Headers.Get(HeaderMFA))
	assert.Equal(t, "req-42", seen.Headers.Get(RequestIDHeader))
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestAPIRejectsWithoutToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/reports", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int32(0), f.hits.Load())

	body := decode[map[string]any](t, rec)
	assert.Equal(t, aethergate.ReasonNoToken, body["message"])
}

func TestAPIAcceptsCookie(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com"})
	token := f.idp.IssueToken("alice@example.com")

	rec := f.do(http.MethodGet, "/api/items", "", http.Header{"Cookie": {aethergate.DefaultCookieName + "=" + token}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRoles(t *testing.T) {
	f := newFixture(t, func(s *appconfig.Settings) { s.Gateway.Roles = []string{"ops"} })
	f.idp.AddUser(identitytest.User{Email: "alice@example.com", Roles: []string{"user"}})
	f.idp.AddUser(identitytest.User{Email: "olga@example.com", Roles: []string{"ops"}})

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/x", "", bearer(f.idp.IssueToken("alice@example.com"))).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/x", "", bearer(f.idp.IssueToken("olga@example.com"))).Code)
}

func TestAPIRequireMFA(t *testing.T) {
	f := newFixture(t, func(s *appconfig.Settings) {
		s.Gateway.RequireMFA = true
		s.MFA.All = true
	})
	f.idp.AddUser(identitytest.User{Email: "alice@example.com"})
	f.idp.AddUser(identitytest.User{Email: "mia@example.com", MFAVerified: true})

	rec := f.do(http.MethodGet, "/api/x", "", bearer(f.idp.IssueToken("alice@example.com")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "MFA_REQUIRED", decode[map[string]any](t, rec)["code"])

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/x", "", bearer(f.idp.IssueToken("mia@example.com"))).Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "user-admin@example.com", Roles: []string{"admin"}})
	f.idp.AddUser(identitytest.User{Email: "root@example.com", Roles: []string{"admin"}, Context: "admin"})
	f.idp.AddUser(identitytest.User{Email: "viewer@example.com", Roles: []string{"user"}, Context: "admin"})

	rec := f.do(http.MethodGet, "/admin/users", "", bearer(f.idp.IssueToken("user-admin@example.com")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "This endpoint requires admin context", decode[map[string]any](t, rec)["message"])

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/admin/users", "", bearer(f.idp.IssueToken("viewer@example.com"))).Code)

	rec = f.do(http.MethodDelete, "/admin/users/7", "", bearer(f.idp.IssueToken("root@example.com")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/admin/users/7", decode[upstreamSeen](t, rec).Path)
}

func TestMeReturnsUser(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{ID: "u-1", Email: "alice@example.com"})

	rec := f.do(http.MethodGet, "/auth/me", "", bearer(f.idp.IssueToken("alice@example.com")))
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode[aethergate.UserContext](t, rec)
	assert.Equal(t, "u-1", user.ID)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/auth/me", "", nil).Code)
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com"})
	token := f.idp.IssueToken("alice@example.com")

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/x", "", bearer(token)).Code)

	rec := f.do(http.MethodPost, "/auth/logout", "", bearer(token))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/x", "", bearer(token)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/auth/logout", "", nil).Code)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com", Password: "pw"})

	login := decode[aethergate.TokenResponse](t, f.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"pw"}`, nil))

	rec := f.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+login.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, login.AccessToken, decode[aethergate.TokenResponse](t, rec).AccessToken)

	rec = f.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+login.RefreshToken+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "SESSION_EXPIRED", decode[map[string]any](t, rec)["code"])
}

func TestIdentityServiceOutageIsBadGateway(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.FailNext(identitytest.PathLogin, http.StatusServiceUnavailable)

	rec := f.do(http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"pw"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "SERVER_ERROR", decode[map[string]any](t, rec)["code"])
}

func TestUpstreamDownIsBadGateway(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com"})
	f.upstream.Close()

	rec := f.do(http.MethodGet, "/api/x", "", bearer(f.idp.IssueToken("alice@example.com")))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com"})
	f.do(http.MethodGet, "/api/x", "", bearer(f.idp.IssueToken("alice@example.com")))

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["cacheSize"])

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aethergate_validate_success_total 1")
}

func TestAssembleRejectsBadSettings(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := Assemble(&appconfig.Settings{Listen: ":0"}, log)
	assert.ErrorIs(t, err, aethergate.ErrConfigInvalid)

	_, err = Assemble(&appconfig.Settings{Listen: ":0", Upstream: "not-a-url"}, log)
	assert.ErrorIs(t, err, aethergate.ErrConfigInvalid)

	_, err = Assemble(&appconfig.Settings{Listen: ":0", Upstream: "http://app"}, log)
	assert.ErrorIs(t, err, aethergate.ErrConfigInvalid)
}

func TestOpenRedis(t *testing.T) {
	client, closeFn, err := OpenRedis(appconfig.RedisSettings{})
	require.NoError(t, err)
	assert.Nil(t, client)
	closeFn()

	client, closeFn, err = OpenRedis(appconfig.RedisSettings{Embedded: true})
	require.NoError(t, err)
	t.Cleanup(closeFn)
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rt.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestOpenMeterProviderIsOffByDefault(t *testing.T) {
	mp, err := OpenMeterProvider(context.Background(), appconfig.OTelSettings{}, io.Discard)
	require.NoError(t, err)
	assert.Nil(t, mp)

	_, err = OpenMeterProvider(context.Background(), appconfig.OTelSettings{Exporter: "zipkin"}, io.Discard)
	assert.Error(t, err)
}

func TestStdoutExporterPushesGatewayMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.idp.AddUser(identitytest.User{Email: "alice@example.com", Password: "pw"})
	rec := f.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out bytes.Buffer
	mp, err := OpenMeterProvider(context.Background(), appconfig.OTelSettings{
		Exporter:    appconfig.OTelExporterStdout,
		Interval:    time.Hour,
		ServiceName: "aethergate-test",
	}, &out)
	require.NoError(t, err)
	require.NotNil(t, mp)

	exp, err := instrument(mp, f.rt.Auth)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Close() })

	require.NoError(t, mp.ForceFlush(context.Background()))
	require.NoError(t, mp.Shutdown(context.Background()))

	got := out.String()
	assert.Contains(t, got, otelexport.OperationsName)
	assert.Contains(t, got, "login")
	assert.Contains(t, got, "aethergate-test")
}

func TestAssembleWiresOTelExporter(t *testing.T) {
	f := newFixture(t, func(s *appconfig.Settings) {
		s.Metrics.OTel = appconfig.OTelSettings{
			Exporter:    appconfig.OTelExporterStdout,
			Interval:    time.Hour,
			ServiceName: "aethergate",
		}
	})
	assert.NotNil(t, f.rt.Meters)

	plain := newFixture(t, nil)
	assert.Nil(t, plain.rt.Meters)
}
