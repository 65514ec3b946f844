package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Request bodies for the /api/v1 mutation endpoints.

type createChannelRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type createTopicRequest struct {
	Title string `json:"title"`
}

type renameTopicRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type editMessageRequest struct {
	Content         string `json:"content"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type deleteMessageRequest struct {
	Actor           string `json:"actor"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type retopicMessageRequest struct {
	ToTopicID       int64  `json:"to_topic_id"`
	Mode            string `json:"mode"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type addAttachmentRequest struct {
	Kind            string          `json:"kind"`
	Key             *string         `json:"key,omitempty"`
	Value           json.RawMessage `json:"value"`
	DedupeKey       string          `json:"dedupe_key"`
	SourceMessageID *int64          `json:"source_message_id,omitempty"`
}

// bindJSON decodes the request body, distinguishing a body over the
// server-wide cap (413) from plain malformed JSON (400). Returns false after
// writing the error response.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
				"request body too large", map[string]any{"limit": maxErr.Limit})
			return false
		}
		writeError(c, http.StatusBadRequest, codeInvalidInput,
			"malformed JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

// pathID parses the :id path segment. Returns false after writing the error
// response.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, codeInvalidInput,
			"path id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter, falling back to def.
func queryInt(c *gin.Context, name string, def int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeError(c, http.StatusBadRequest, codeInvalidInput,
			name+" must be a non-negative integer", nil)
		return 0, false
	}
	return v, true
}
