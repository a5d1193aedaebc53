package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/game"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
}

type createGameRequest struct {
	HostID uuid.UUID `json:"hostId" binding:"required"`
	game.Settings
}

type joinRequest struct {
	UserID uuid.UUID `json:"userId" binding:"required"`
}

type joinByCodeRequest struct {
	Code   string    `json:"code" binding:"required"`
	UserID uuid.UUID `json:"userId" binding:"required"`
}

type addAIRequest struct {
	PersonaID persona.ID `json:"personaId"`
}

type submitRequest struct {
	PlayerID uuid.UUID `json:"playerId" binding:"required"`
	CardID   uuid.UUID `json:"cardId" binding:"required"`
}

type winnerRequest struct {
	PlayerID uuid.UUID `json:"playerId" binding:"required"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if !bind(c, &req) {
		return
	}
	u, err := s.Games.RegisterGuest(c.Request.Context(), req.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	u, err := s.Games.GetUser(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) createGame(c *gin.Context) {
	var req createGameRequest
	if !bind(c, &req) {
		return
	}
	g, err := s.Games.CreateGame(c.Request.Context(), req.HostID, req.Settings)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

// listGames lists open lobbies; no other status can be browsed.
func (s *Server) listGames(c *gin.Context) {
	if st := c.DefaultQuery("status", string(store.GameLobby)); st != string(store.GameLobby) {
		badRequest(c, "only status=lobby can be listed")
		return
	}
	lobbies, err := s.Games.ListLobbies(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lobbies)
}

func (s *Server) getGame(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	st, err := s.Games.GetGame(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getGameByCode(c *gin.Context) {
	st, err := s.Games.GetGameByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) joinGame(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req joinRequest
	if !bind(c, &req) {
		return
	}
	p, err := s.Games.JoinGame(c.Request.Context(), id, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) joinByCode(c *gin.Context) {
	var req joinByCodeRequest
	if !bind(c, &req) {
		return
	}
	p, err := s.Games.JoinByCode(c.Request.Context(), req.Code, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) addAIPlayer(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req addAIRequest
	if !bind(c, &req) {
		return
	}
	if req.PersonaID.IsZero() {
		badRequest(c, "personaId is required")
		return
	}
	p, err := s.Games.AddAIPlayer(c.Request.Context(), id, req.PersonaID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) startGame(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	r, err := s.Games.StartGame(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) nextRound(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	r, err := s.Games.StartNextRound(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) getHand(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	hand, err := s.Games.GetHand(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hand)
}

func (s *Server) getRound(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	r, err := s.Games.GetRound(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) listSubmissions(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	subs, err := s.Games.ListSubmissions(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (s *Server) submitCard(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req submitRequest
	if !bind(c, &req) {
		return
	}
	sub, err := s.Games.SubmitCard(c.Request.Context(), id, req.PlayerID, req.CardID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) moveToJudging(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	r, err := s.Games.MoveToJudging(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) selectWinner(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req winnerRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.Games.SelectWinner(c.Request.Context(), id, req.PlayerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"round":        res.Round,
		"winner":       res.Winner,
		"gameFinished": res.GameFinished,
	})
}
