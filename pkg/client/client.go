// Package client is the hub's consumer-side library: a typed HTTP client for
// the mutation and read endpoints, and a reconnecting event stream with
// cursor resume and duplicate suppression.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/relaykit/relay/pkg/models"
	"github.com/relaykit/relay/pkg/services"
)

// Client issues authenticated HTTP calls against one hub.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the hub at baseURL, e.g. "http://127.0.0.1:7421".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health probes GET /health without auth.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateChannel creates a channel.
func (c *Client) CreateChannel(ctx context.Context, name string, description *string) (*services.ChannelResult, error) {
	body := map[string]any{"name": name}
	if description != nil {
		body["description"] = *description
	}
	var out services.ChannelResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/channels", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChannels returns all channels.
func (c *Client) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var out struct {
		Channels []models.Channel `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/channels", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// GetChannel returns one channel.
func (c *Client) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	var out models.Channel
	if err := c.do(ctx, http.MethodGet, "/api/v1/channels/"+itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTopic creates a topic in a channel.
func (c *Client) CreateTopic(ctx context.Context, channelID int64, title string) (*services.TopicResult, error) {
	var out services.TopicResult
	path := "/api/v1/channels/" + itoa(channelID) + "/topics"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTopics returns the topics of a channel.
func (c *Client) ListTopics(ctx context.Context, channelID int64) ([]models.Topic, error) {
	var out struct {
		Topics []models.Topic `json:"topics"`
	}
	path := "/api/v1/channels/" + itoa(channelID) + "/topics"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Topics, nil
}

// RenameTopic changes a topic's title.
func (c *Client) RenameTopic(ctx context.Context, topicID int64, newTitle string) (*services.TopicResult, error) {
	var out services.TopicResult
	path := "/api/v1/topics/" + itoa(topicID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]any{"title": newTitle}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage appends a message to a topic.
func (c *Client) SendMessage(ctx context.Context, topicID int64, sender, content string) (*services.MessageResult, error) {
	var out services.MessageResult
	path := "/api/v1/topics/" + itoa(topicID) + "/messages"
	body := map[string]any{"sender": sender, "content": content}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages pages through a topic's messages, tombstones included.
func (c *Client) ListMessages(ctx context.Context, topicID, afterID int64, limit int) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	q := url.Values{}
	if afterID > 0 {
		q.Set("after_id", itoa(afterID))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/topics/" + itoa(topicID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// EditMessage replaces a message's content. expectedVersion enables
// optimistic concurrency; nil skips the check.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string, expectedVersion *int64) (*services.MessageResult, error) {
	var out services.MessageResult
	body := map[string]any{"content": content}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/messages/"+itoa(messageID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage tombstones a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64, actor string, expectedVersion *int64) (*services.DeleteResult, error) {
	var out services.DeleteResult
	body := map[string]any{"actor": actor}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/messages/"+itoa(messageID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetopicMessage moves messages to another topic in the same channel.
func (c *Client) RetopicMessage(ctx context.Context, messageID, toTopicID int64, mode models.RetopicMode, expectedVersion *int64) (*services.RetopicResult, error) {
	var out services.RetopicResult
	body := map[string]any{"to_topic_id": toTopicID, "mode": string(mode)}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	path := "/api/v1/messages/" + itoa(messageID) + "/retopic"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddAttachment appends a structured artifact to a topic.
func (c *Client) AddAttachment(ctx context.Context, topicID int64, kind string, key *string, value json.RawMessage, dedupeKey string, sourceMessageID *int64) (*services.AttachmentResult, error) {
	var out services.AttachmentResult
	body := map[string]any{"kind": kind, "value": value, "dedupe_key": dedupeKey}
	if key != nil {
		body["key"] = *key
	}
	if sourceMessageID != nil {
		body["source_message_id"] = *sourceMessageID
	}
	path := "/api/v1/topics/" + itoa(topicID) + "/attachments"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAttachments returns a topic's attachments, optionally filtered by kind.
func (c *Client) ListAttachments(ctx context.Context, topicID int64, kind string) ([]models.TopicAttachment, error) {
	var out struct {
		Attachments []models.TopicAttachment `json:"attachments"`
	}
	path := "/api/v1/topics/" + itoa(topicID) + "/attachments"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Attachments, nil
}

// do issues one request and decodes either the success body into out or the
// error envelope into a MutationError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error   string         `json:"error"`
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Code == "" {
			return &MutationError{
				StatusCode: resp.StatusCode,
				Code:       "internal-error",
				Message:    string(data),
			}
		}
		return &MutationError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Code,
			Message:    envelope.Error,
			Details:    envelope.Details,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
