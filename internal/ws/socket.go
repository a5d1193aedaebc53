// Package ws pushes game state to browsers over Socket.IO.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
	"github.com/kiliankoe/ai-against-humanity/internal/game"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

const (
	EventState = "game:state"
	namespace  = "/"
	opTimeout  = 10 * time.Second
)

// ConnCtx is what a connection is watching.
type ConnCtx struct {
	GameID uuid.UUID
}

// Games is the part of game.Manager the socket layer uses.
type Games interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*game.State, error)
	GetHand(ctx context.Context, playerID uuid.UUID) ([]store.Card, error)
	SubmitCard(ctx context.Context, roundID, playerID, cardID uuid.UUID) (*store.Submission, error)
}

type broadcaster interface {
	BroadcastToRoom(namespace string, room, event string, args ...interface{}) bool
}

type Server struct {
	Games Games

	mu      sync.Mutex
	io      broadcaster
	members map[uuid.UUID]map[string]socketio.Conn
}

func New(g Games) *Server {
	return &Server{Games: g, members: make(map[uuid.UUID]map[string]socketio.Conn)}
}

// Watchers reports how many connections watch the game.
func (srv *Server) Watchers(gameID uuid.UUID) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.members[gameID])
}

// GameChanged pushes the game's current state to its room. It does nothing
// until the server is mounted.
func (srv *Server) GameChanged(ctx context.Context, gameID uuid.UUID) {
	srv.mu.Lock()
	io := srv.io
	srv.mu.Unlock()
	if io == nil {
		return
	}
	st, err := srv.Games.GetGame(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("gameId", gameID.String()).Msg("failed to load game state")
		return
	}
	io.BroadcastToRoom(namespace, gameID.String(), EventState, st)
}

type watchPayload struct {
	GameID string `json:"gameId"`
}

type handPayload struct {
	PlayerID string `json:"playerId"`
}

type submitPayload struct {
	RoundID  string `json:"roundId"`
	PlayerID string `json:"playerId"`
	CardID   string `json:"cardId"`
}

// Mount attaches the Socket.IO server with its handlers to the gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect(namespace, func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Debug().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent(namespace, "game:watch", func(s socketio.Conn, p watchPayload) map[string]any {
		gameID, err := uuid.Parse(p.GameID)
		if err != nil {
			return srv.err(s, "bad_request", "invalid game id")
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		st, err := srv.Games.GetGame(ctx, gameID)
		if err != nil {
			return srv.fail(s, err)
		}
		if prev, ok := s.Context().(*ConnCtx); ok && prev.GameID != uuid.Nil && prev.GameID != gameID {
			s.Leave(prev.GameID.String())
			srv.removeMember(prev.GameID, s)
		}
		s.SetContext(&ConnCtx{GameID: gameID})
		s.Join(gameID.String())
		srv.addMember(gameID, s)
		log.Info().Str("sid", s.ID()).Str("gameId", gameID.String()).Msg("game:watch")
		s.Emit(EventState, st)
		return map[string]any{"ok": true}
	})

	io.OnEvent(namespace, "game:unwatch", func(s socketio.Conn) map[string]any {
		if c, ok := s.Context().(*ConnCtx); ok && c.GameID != uuid.Nil {
			s.Leave(c.GameID.String())
			srv.removeMember(c.GameID, s)
			s.SetContext(&ConnCtx{})
		}
		return map[string]any{"ok": true}
	})

	// Hands are answered to the asking connection only.
	io.OnEvent(namespace, "game:hand", func(s socketio.Conn, p handPayload) map[string]any {
		playerID, err := uuid.Parse(p.PlayerID)
		if err != nil {
			return srv.err(s, "bad_request", "invalid player id")
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		hand, err := srv.Games.GetHand(ctx, playerID)
		if err != nil {
			return srv.fail(s, err)
		}
		return map[string]any{"cards": hand}
	})

	io.OnEvent(namespace, "game:submit", func(s socketio.Conn, p submitPayload) map[string]any {
		roundID, err1 := uuid.Parse(p.RoundID)
		playerID, err2 := uuid.Parse(p.PlayerID)
		cardID, err3 := uuid.Parse(p.CardID)
		if err1 != nil || err2 != nil || err3 != nil {
			return srv.err(s, "bad_request", "invalid id")
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		sub, err := srv.Games.SubmitCard(ctx, roundID, playerID, cardID)
		if err != nil {
			return srv.fail(s, err)
		}
		log.Info().Str("roundId", p.RoundID).Str("playerId", p.PlayerID).Msg("game:submit")
		return map[string]any{"submissionId": sub.ID}
	})

	io.OnError(namespace, func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		if c, ok := s.Context().(*ConnCtx); ok && c.GameID != uuid.Nil {
			srv.removeMember(c.GameID, s)
		}
		log.Debug().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	srv.mu.Lock()
	srv.io = io
	srv.mu.Unlock()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) addMember(gameID uuid.UUID, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[gameID] == nil {
		srv.members[gameID] = make(map[string]socketio.Conn)
	}
	srv.members[gameID][c.ID()] = c
}

func (srv *Server) removeMember(gameID uuid.UUID, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[gameID]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, gameID)
		}
	}
}

func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return srv.err(s, "bad_request", err.Error())
	case apperr.KindNotFound:
		return srv.err(s, "not_found", err.Error())
	case apperr.KindConflict:
		return srv.err(s, "conflict", err.Error())
	case apperr.KindForbidden:
		return srv.err(s, "forbidden", err.Error())
	}
	log.Error().Err(err).Str("sid", s.ID()).Msg("socket request failed")
	return srv.err(s, "internal", "internal error")
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}
