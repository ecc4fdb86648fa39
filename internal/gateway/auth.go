package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/middleware/ginmw"
)

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totpCode"`
	Context  string `json:"context"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (g *Gateway) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	resp, err := g.auth.Login(c.Request.Context(), aethergate.LoginCredentials{
		Email:    body.Email,
		Password: body.Password,
		TOTPCode: body.TOTPCode,
		Context:  aethergate.ContextType(body.Context),
	}, meta(c))
	if err != nil {
		g.fail(c, "login", err)
		return
	}

	g.setTokenCookie(c, resp)
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) logout(c *gin.Context) {
	token := g.requestToken(c)
	if token == "" {
		badRequest(c, aethergate.ReasonNoToken)
		return
	}
	if err := g.auth.Logout(c.Request.Context(), token, meta(c)); err != nil {
		g.fail(c, "logout", err)
		return
	}
	g.clearTokenCookie(c)
	c.Status(http.StatusNoContent)
}

func (g *Gateway) refresh(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "refreshToken is required")
		return
	}

	resp, err := g.auth.RefreshToken(c.Request.Context(), body.RefreshToken, meta(c))
	if err != nil {
		g.fail(c, "refresh", err)
		return
	}

	g.setTokenCookie(c, resp)
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) me(c *gin.Context) {
	p, ok := ginmw.Principal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("Unauthorized", aethergate.ReasonNotAuthenticated, ""))
		return
	}
	c.JSON(http.StatusOK, p.User)
}

// requestToken reads the configured header, then the configured cookie. A
// malformed header yields no token.
func (g *Gateway) requestToken(c *gin.Context) string {
	cfg := g.auth.Config()
	if v := c.GetHeader(cfg.TokenHeader()); v != "" {
		token, _ := g.auth.ExtractTokenFromHeader(v)
		return token
	}
	if v, err := c.Cookie(cfg.CookieName()); err == nil {
		return v
	}
	return ""
}

func (g *Gateway) setTokenCookie(c *gin.Context, resp *aethergate.TokenResponse) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(g.auth.Config().CookieName(), resp.AccessToken, resp.ExpiresIn, "/", "", c.Request.TLS != nil, true)
}

func (g *Gateway) clearTokenCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(g.auth.Config().CookieName(), "", -1, "/", "", c.Request.TLS != nil, true)
}

// fail maps a helper error onto a response. Identity service messages are
// passed through; anything else is reported generically.
func (g *Gateway) fail(c *gin.Context, op string, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		g.log.Warn(op+" failed", zap.Error(err))
	} else {
		g.log.Debug(op+" rejected", zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	if errors.Is(err, aethergate.ErrContextInvalid) {
		return http.StatusBadRequest, errorBody("Bad Request", "Unknown context", "")
	}

	code, ok := aethergate.ErrorCodeOf(err)
	if !ok {
		return http.StatusInternalServerError, errorBody("Internal Server Error", "Unexpected failure", "")
	}

	// Identity service messages are never forwarded to clients.
	switch code {
	case aethergate.CodeAuthenticationFailed:
		return http.StatusUnauthorized, errorBody("Unauthorized", "Authentication failed", string(code))
	case aethergate.CodeSessionExpired:
		return http.StatusUnauthorized, errorBody("Unauthorized", "Session expired", string(code))
	case aethergate.CodeTOTPRequired:
		return http.StatusUnauthorized, errorBody("Unauthorized", "TOTP verification required", string(code))
	case aethergate.CodeAuthorizationFailed:
		return http.StatusForbidden, errorBody("Forbidden", "Authorization failed", string(code))
	case aethergate.CodeDeviceNotAvailable:
		return http.StatusBadRequest, errorBody("Bad Request", "Device not available", string(code))
	case aethergate.CodeInvalidInput:
		return http.StatusBadRequest, errorBody("Bad Request", "Invalid request", string(code))
	default:
		return http.StatusBadGateway, errorBody("Bad Gateway", "Identity service unavailable", string(code))
	}
}

func errorBody(title, message, code string) gin.H {
	h := gin.H{"error": title, "message": message}
	if code != "" {
		h["code"] = code
	}
	return h
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("Bad Request", message, ""))
}

func meta(c *gin.Context) aethergate.RequestMeta {
	ua := c.Request.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	return aethergate.RequestMeta{IP: c.ClientIP(), UserAgent: ua, Path: c.Request.URL.Path}
}
