package gateway

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/metrics/export/prometheus"
	"github.com/skygenesisenterprise/aethergate/middleware"
	"github.com/skygenesisenterprise/aethergate/middleware/ginmw"
	"github.com/skygenesisenterprise/aethergate/ratelimit"
)

// RequestIDHeader is echoed back and forwarded upstream.
const RequestIDHeader = "X-Request-ID"

// Options shape the routes. Auth is required.
type Options struct {
	Auth     *aethergate.Server
	Upstream *url.URL
	// Limiter guards /auth/login; nil disables limiting.
	Limiter ratelimit.Limiter
	Logger  *zap.Logger

	Roles      []string
	AdminRoles []string
	RequireMFA bool
}

// Gateway holds the assembled router.
type Gateway struct {
	opts   Options
	auth   *aethergate.Server
	log    *zap.Logger
	engine *gin.Engine
}

// New assembles the router.
func New(opts Options) (*Gateway, error) {
	if opts.Auth == nil {
		return nil, errors.New("gateway: auth server is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("gateway: upstream is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Roles = slices.Clone(opts.Roles)
	opts.AdminRoles = slices.Clone(opts.AdminRoles)

	g := &Gateway{opts: opts, auth: opts.Auth, log: opts.Logger}
	if err := g.routes(); err != nil {
		return nil, err
	}
	return g, nil
}

// Handler returns the router.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

func (g *Gateway) routes() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		return err
	}
	r.Use(requestID(), accessLog(g.log), gin.CustomRecovery(g.recover))

	metrics, err := prometheus.Handler(g.auth)
	if err != nil {
		return err
	}
	r.GET("/metrics", gin.WrapH(metrics))
	r.GET("/healthz", g.healthz)

	auth := r.Group("/auth")
	auth.POST("/login",
		ginmw.Wrap(ratelimit.Middleware(g.opts.Limiter, ratelimit.ByIP, ratelimit.WithLogger(g.log))),
		g.login,
	)
	auth.POST("/logout", g.logout)
	auth.POST("/refresh", g.refresh)
	auth.GET("/me", ginmw.Wrap(middleware.Authenticate(g.auth)), g.me)

	proxy := newProxy(g.opts.Upstream, g.log)

	api := r.Group("/api", ginmw.Wrap(middleware.Protect(g.auth, g.opts.Roles...)))
	if g.opts.RequireMFA {
		api.Use(ginmw.Wrap(middleware.RequireMFA(g.auth)))
	}
	api.Any("/*path", proxy)

	admin := r.Group("/admin",
		ginmw.Wrap(middleware.Protect(g.auth, g.opts.AdminRoles...)),
		ginmw.Wrap(middleware.RequireContext(g.auth, aethergate.ContextAdmin)),
		ginmw.Wrap(middleware.RequireMFA(g.auth)),
	)
	admin.Any("/*path", proxy)

	g.engine = r
	return nil
}

func (g *Gateway) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"cacheSize": g.auth.CacheSize(),
	})
}

func (g *Gateway) recover(c *gin.Context, v any) {
	g.log.Error("handler panic", zap.Any("panic", v), zap.String("path", c.Request.URL.Path))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal Server Error",
		"message": "Unexpected failure",
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			c.Request.Header.Set(RequestIDHeader, id)
		}
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.Writer.Header().Get(RequestIDHeader)),
		)
	}
}
