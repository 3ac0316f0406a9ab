package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/auth"
	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/core"
)

// NewServer builds the HTTP server: health, the websocket endpoint and the
// REST API. authService may be nil; the identity endpoints are then not
// mounted and tokens are checked against cfg's JWT settings alone.
func NewServer(hub core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	var validator TokenValidator
	switch {
	case authService != nil:
		validator = authService
	case cfg.JWTSecret != "":
		validator = auth.NewService(nil, &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
	}

	router.GET("/health", healthHandler)

	api := router.Group("/api")
	if authService != nil {
		handlers := NewAPIHandlers(authService, logger)
		api.POST("/register", handlers.Register)
		api.POST("/login", handlers.Login)
		api.POST("/guest", handlers.GuestLogin)

		users := NewUserHandlers(authService, logger)
		api.GET("/me", AuthMiddleware(authService, logger), users.Me)
	}
	if validator != nil {
		rooms := NewRoomHandlers(hub, logger)
		documents := api.Group("/documents", AuthMiddleware(validator, logger))
		documents.GET("/:documentId/participants", rooms.Participants)
	}

	// The websocket endpoint bypasses gin: its writer refuses the hijack
	// once the router has touched the response.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, validator, cfg, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
