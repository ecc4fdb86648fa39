package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
)

// Identity headers set on every proxied request. Inbound copies are
// stripped so a client cannot forge them.
const (
	HeaderUserID    = "X-Aether-User-Id"
	HeaderEmail     = "X-Aether-User-Email"
	HeaderRoles     = "X-Aether-Roles"
	HeaderContext   = "X-Aether-Context"
	HeaderSessionID = "X-Aether-Session-Id"
	HeaderMFA       = "X-Aether-Mfa-Verified"
)

var identityHeaders = []string{HeaderUserID, HeaderEmail, HeaderRoles, HeaderContext, HeaderSessionID, HeaderMFA}

func newProxy(upstream *url.URL, log *zap.Logger) gin.HandlerFunc {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Header.Set(RequestIDHeader, pr.In.Header.Get(RequestIDHeader))
			setIdentity(pr.Out.Header, pr.In)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "Bad Gateway",
				"message": "Upstream unavailable",
			})
		},
	}
	return func(c *gin.Context) {
		rp.ServeHTTP(c.Writer, c.Request)
	}
}

func setIdentity(h http.Header, in *http.Request) {
	for _, name := range identityHeaders {
		h.Del(name)
	}
	p, ok := aethergate.PrincipalFromContext(in.Context())
	if !ok || p.User == nil {
		return
	}
	h.Set(HeaderUserID, p.User.ID)
	h.Set(HeaderEmail, p.User.Email)
	h.Set(HeaderRoles, strings.Join(p.User.Roles, ","))
	h.Set(HeaderContext, string(p.User.Context))
	h.Set(HeaderMFA, strconv.FormatBool(p.User.MFAVerified))
	if p.User.SessionID != "" {
		h.Set(HeaderSessionID, p.User.SessionID)
	}
}
