package models

import "time"

// Channel is the top-level routing bucket for topics and messages.
type Channel struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Topic groups messages within a channel. (channel_id, title) is unique.
type Topic struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channel_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
