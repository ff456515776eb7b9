package handler

import (
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	sharedMiddleware "novel-workflow/shared/middleware"
	"novel-workflow/shared/models"
)

// RouterOptions - внешние зависимости HTTP роутера.
type RouterOptions struct {
	Debug          bool
	AllowedOrigins []string
	Verifier       sharedMiddleware.TokenVerifier

	// Грубый лимит по IP на запросы, запускающие генерацию. Limit == 0 отключает его.
	// Без RedisClient счетчики живут в памяти процесса.
	IPRateWindow time.Duration
	IPRateLimit  uint
	RedisClient  *redis.Client

	// ContentRoot - каталог FileStore, раздается по /content. Пусто - не раздается.
	ContentRoot string
	// EnableMetrics подключает gin метрики и /metrics.
	EnableMetrics bool
}

// NewRouter собирает gin.Engine: middleware, служебные маршруты и маршруты API.
func NewRouter(h *Handler, opts RouterOptions, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(sharedMiddleware.RequestIDMiddleware())
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger.Named("GinAccess")))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 0 || (len(opts.AllowedOrigins) == 1 && opts.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", sharedMiddleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{sharedMiddleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	if opts.ContentRoot != "" {
		router.Static("/content", opts.ContentRoot)
	}

	authMiddleware := sharedMiddleware.GinAuthMiddleware(opts.Verifier, logger)
	h.RegisterRoutes(router, authMiddleware, ipRateLimiter(opts, logger))

	// Метрики подключаются после регистрации маршрутов.
	if opts.EnableMetrics {
		p := ginprometheus.NewPrometheus("gin")
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			// Путь с параметрами, а не фактический URL: иначе каждый requestId - отдельная серия.
			if route := c.FullPath(); route != "" {
				return route
			}
			return "unmatched"
		}
		p.Use(router)
	}
	return router
}

func ipRateLimiter(opts RouterOptions, logger *zap.Logger) gin.HandlerFunc {
	if opts.IPRateLimit == 0 {
		return nil
	}
	window := opts.IPRateWindow
	if window <= 0 {
		window = time.Second
	}

	var store ratelimit.Store
	if opts.RedisClient != nil {
		store = ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: opts.RedisClient,
			Rate:        window,
			Limit:       opts.IPRateLimit,
		})
	} else {
		store = ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
			Rate:  window,
			Limit: opts.IPRateLimit,
		})
	}

	log := logger.Named("IPRateLimit")
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			log.Warn("Rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.Time("reset_time", info.ResetTime),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.NewErrorResponse(
				models.ErrCodeRateLimited,
				"Too many requests. Try again in "+time.Until(info.ResetTime).Round(time.Second).String(),
				sharedMiddleware.RequestID(c),
			))
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
