// Package ginmw adapts the net/http gates in middleware to gin handlers.
package ginmw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skygenesisenterprise/aethergate"
)

// Wrap turns a net/http gate into a gin handler. When the gate admits the
// request, the request it forwarded (with any attached principal) replaces
// c.Request and the chain continues; otherwise the chain is aborted after the
// gate has written its response.
func Wrap(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		}))
		h.ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// Principal returns the principal a gate attached to the request.
func Principal(c *gin.Context) (*aethergate.Principal, bool) {
	if c == nil || c.Request == nil {
		return nil, false
	}
	return aethergate.PrincipalFromContext(c.Request.Context())
}
