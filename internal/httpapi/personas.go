package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/ai-against-humanity/internal/persona"
)

type saveKeyRequest struct {
	Provider string `json:"provider" binding:"required"`
	APIKey   string `json:"apiKey" binding:"required"`
}

// listPersonas returns the built-ins followed by every public custom persona.
func (s *Server) listPersonas(c *gin.Context) {
	public, err := s.Personas.ListPublic(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, append(persona.BuiltIns(), public...))
}

func (s *Server) listMyPersonas(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	mine, err := s.Personas.ListMine(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mine)
}

func (s *Server) createPersona(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var in persona.Input
	if !bind(c, &in) {
		return
	}
	p, err := s.Personas.Create(c.Request.Context(), userID, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) personaParam(c *gin.Context) (persona.ID, bool) {
	id, err := persona.ParseID(c.Param("personaId"))
	if err != nil {
		badRequest(c, "invalid personaId")
		return persona.ID{}, false
	}
	return id, true
}

func (s *Server) updatePersona(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	id, ok := s.personaParam(c)
	if !ok {
		return
	}
	var patch persona.Patch
	if !bind(c, &patch) {
		return
	}
	p, err := s.Personas.Update(c.Request.Context(), id, userID, patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) deletePersona(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	id, ok := s.personaParam(c)
	if !ok {
		return
	}
	if err := s.Personas.Delete(c.Request.Context(), id, userID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listKeys(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	keys, err := s.Keys.ListKeys(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (s *Server) saveKey(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req saveKeyRequest
	if !bind(c, &req) {
		return
	}
	hint, err := s.Keys.SaveKey(c.Request.Context(), userID, req.Provider, req.APIKey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"provider": req.Provider, "hint": hint})
}

func (s *Server) deleteKey(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	keyID, ok := uuidParam(c, "keyId")
	if !ok {
		return
	}
	if err := s.Keys.DeleteKey(c.Request.Context(), userID, keyID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
