package ginmw_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/identitytest"
	"github.com/skygenesisenterprise/aethergate/middleware"
	"github.com/skygenesisenterprise/aethergate/middleware/ginmw"
)

func newRouter(t *testing.T) (*gin.Engine, *identitytest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	idp := identitytest.New()
	t.Cleanup(idp.Close)

	s, err := aethergate.NewServer(aethergate.Config{
		BaseURL:   idp.URL(),
		ClientID:  idp.ClientID(),
		SystemKey: idp.SystemKey(),
		Retry:     aethergate.RetryConfig{RetryDelay: time.Millisecond},
	}, aethergate.Hooks{})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	r := gin.New()
	admin := r.Group("/admin",
		ginmw.Wrap(middleware.Authenticate(s)),
		ginmw.Wrap(middleware.RequireRoles(s, "admin")),
	)
	admin.GET("/me", func(c *gin.Context) {
		p, ok := ginmw.Principal(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": p.User.ID})
	})
	return r, idp
}

func do(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestWrapPassesPrincipalThrough(t *testing.T) {
	r, idp := newRouter(t)
	idp.AddUser(identitytest.User{ID: "u1", Email: "admin@example.com", Roles: []string{"admin"}})

	rr := do(r, idp.IssueToken("admin@example.com"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"u1"}`, rr.Body.String())
}

func TestWrapAbortsOnRejection(t *testing.T) {
	r, idp := newRouter(t)
	idp.AddUser(identitytest.User{Email: "user@example.com", Roles: []string{"user"}})

	rr := do(r, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Unauthorized","message":"No token provided"}`, rr.Body.String())

	rr = do(r, idp.IssueToken("user@example.com"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.JSONEq(t, `{"error":"Forbidden","message":"Insufficient permissions"}`, rr.Body.String())
}

func TestPrincipalWithoutGate(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ginmw.Principal(c)
	assert.False(t, ok)
}
