package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay/pkg/models"
)

func (s *Server) handleSendMessage(c *gin.Context) {
	topicID, ok := pathID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.messages.Send(c.Request.Context(), topicID, req.Sender, req.Content)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListMessages(c *gin.Context) {
	topicID, ok := pathID(c)
	if !ok {
		return
	}
	afterID, ok := queryInt(c, "after_id", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	list, err := s.messages.List(c.Request.Context(), topicID, afterID, int(limit))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

func (s *Server) handleGetMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msg, err := s.messages.Get(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleEditMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req editMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.messages.Edit(c.Request.Context(), id, req.Content, req.ExpectedVersion)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req deleteMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.messages.Delete(c.Request.Context(), id, req.Actor, req.ExpectedVersion)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRetopicMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req retopicMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.messages.Retopic(c.Request.Context(), id, req.ToTopicID,
		models.RetopicMode(req.Mode), req.ExpectedVersion)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
