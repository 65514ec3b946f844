package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req createChannelRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.channels.Create(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListChannels(c *gin.Context) {
	list, err := s.channels.List(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": list})
}

func (s *Server) handleGetChannel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ch, err := s.channels.Get(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}
