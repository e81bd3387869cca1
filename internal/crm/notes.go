package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Note is a text note attached to a deal.
type Note struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	DealID  int64  `json:"deal_id"`
	AddTime string `json:"add_time"`
}

// CreateNote adds a note with the given content under a deal.
func (c *Client) CreateNote(ctx context.Context, dealID, content string) (*Note, error) {
	id, err := parseDealID(dealID)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"deal_id": id,
		"content": content,
	}
	var note Note
	if err := c.doJSON(ctx, http.MethodPost, "/notes", nil, body, &note); err != nil {
		return nil, fmt.Errorf("creating note on deal %s: %w", dealID, err)
	}
	return &note, nil
}

// ListNotes returns up to limit notes of a deal starting at offset start,
// newest first.
func (c *Client) ListNotes(ctx context.Context, dealID string, limit, start int) ([]Note, error) {
	if _, err := parseDealID(dealID); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("deal_id", dealID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("start", strconv.Itoa(start))
	q.Set("sort", "add_time DESC")

	var notes []Note
	if err := c.doJSON(ctx, http.MethodGet, "/notes", q, nil, &notes); err != nil {
		return nil, fmt.Errorf("listing notes for deal %s: %w", dealID, err)
	}
	return notes, nil
}
