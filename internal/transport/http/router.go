// Package http exposes the relay over HTTP: session tokens, profiles,
// ranking, question generation, room lookups and the channel websocket.
package http

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"quiz-squad/internal/app"
	"quiz-squad/internal/identity"
)

// Deps are the use cases the router serves.
type Deps struct {
	Relay     *app.RelayService
	Profiles  *app.ProfileService
	Questions *app.QuestionService
	Accounts  identity.ProfileStore
	Tokens    *identity.TokenIssuer
	Logger    *slog.Logger
	// PublicURL is the client address encoded into room QR codes.
	PublicURL      string
	AllowedOrigins []string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestLogger(d.Logger))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(d.AllowedOrigins)))

	api := &apiHandler{deps: d}
	ws := NewWSHandler(d.Relay, d.Tokens, d.Logger)
	auth := requireIdentity(d.Tokens)

	router.GET("/healthz", api.health)
	router.GET("/ws", ws.ServeWS)

	g := router.Group("/api")
	g.POST("/session/guest", api.guestSession)
	g.POST("/session/account", api.accountSession)
	g.GET("/profiles/:id", api.profile)
	g.PUT("/profiles/me", auth, api.updateProfile)
	g.GET("/ranking", api.ranking)
	g.GET("/friends", auth, api.friends)
	g.POST("/friends", auth, api.addFriend)
	g.POST("/results", auth, api.recordResult)
	g.POST("/questions", auth, api.question)
	g.GET("/rooms/:code", api.room)
	g.GET("/rooms/:code/qr", api.roomQR)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders("Authorization")
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
