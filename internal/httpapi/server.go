// Package httpapi is the JSON API in front of the game, persona and
// credential services.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
	"github.com/kiliankoe/ai-against-humanity/internal/credentials"
	"github.com/kiliankoe/ai-against-humanity/internal/game"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
)

type Deps struct {
	Games    *game.Manager
	Personas *persona.Registry
	Keys     *credentials.Store
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

type Config struct {
	// RatePerSecond and Burst size the per-IP token bucket; zero disables it.
	RatePerSecond float64
	Burst         int
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type Server struct {
	Deps
}

// New builds the gin engine with every route registered.
func New(d Deps, cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		api.Use(NewIPRateLimiter(rate.Limit(cfg.RatePerSecond), burst).Middleware())
	}
	(&Server{Deps: d}).register(api)
	return r
}

func (s *Server) register(api *gin.RouterGroup) {
	api.POST("/users", s.createUser)
	api.GET("/users/:id", s.getUser)

	api.GET("/games", s.listGames)
	api.POST("/games", s.createGame)
	api.POST("/games/join", s.joinByCode)
	api.GET("/games/code/:code", s.getGameByCode)
	api.GET("/games/:id", s.getGame)
	api.POST("/games/:id/join", s.joinGame)
	api.POST("/games/:id/ai-players", s.addAIPlayer)
	api.POST("/games/:id/start", s.startGame)
	api.POST("/games/:id/next-round", s.nextRound)

	api.GET("/players/:id/hand", s.getHand)

	api.GET("/rounds/:id", s.getRound)
	api.GET("/rounds/:id/submissions", s.listSubmissions)
	api.POST("/rounds/:id/submissions", s.submitCard)
	api.POST("/rounds/:id/judging", s.moveToJudging)
	api.POST("/rounds/:id/winner", s.selectWinner)

	api.GET("/personas", s.listPersonas)
	api.GET("/users/:id/personas", s.listMyPersonas)
	api.POST("/users/:id/personas", s.createPersona)
	api.PATCH("/users/:id/personas/:personaId", s.updatePersona)
	api.DELETE("/users/:id/personas/:personaId", s.deletePersona)

	api.GET("/users/:id/keys", s.listKeys)
	api.POST("/users/:id/keys", s.saveKey)
	api.DELETE("/users/:id/keys/:keyId", s.deleteKey)
}

// fail writes err with the status its kind maps to.
func fail(c *gin.Context, err error) {
	var kce *credentials.KeyCheckError
	if errors.As(err, &kce) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: kce.Failure.Reason, Kind: string(kce.Failure.Kind)})
		return
	}
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Kind: apperr.KindValidation.String()})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}
