package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay/pkg/services"
)

func (s *Server) handleAddAttachment(c *gin.Context) {
	topicID, ok := pathID(c)
	if !ok {
		return
	}
	var req addAttachmentRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.attach.Add(c.Request.Context(), services.AddParams{
		TopicID:         topicID,
		Kind:            req.Kind,
		Key:             req.Key,
		Value:           req.Value,
		DedupeKey:       req.DedupeKey,
		SourceMessageID: req.SourceMessageID,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) handleListAttachments(c *gin.Context) {
	topicID, ok := pathID(c)
	if !ok {
		return
	}
	list, err := s.attach.List(c.Request.Context(), topicID, c.Query("kind"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachments": list})
}
