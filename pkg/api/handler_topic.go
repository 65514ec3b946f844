package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleCreateTopic(c *gin.Context) {
	channelID, ok := pathID(c)
	if !ok {
		return
	}
	var req createTopicRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.topics.Create(c.Request.Context(), channelID, req.Title)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListTopics(c *gin.Context) {
	channelID, ok := pathID(c)
	if !ok {
		return
	}
	list, err := s.topics.List(c.Request.Context(), channelID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": list})
}

func (s *Server) handleGetTopic(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	topic, err := s.topics.Get(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, topic)
}

func (s *Server) handleRenameTopic(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req renameTopicRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.topics.Rename(c.Request.Context(), id, req.Title)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
