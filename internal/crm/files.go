package crm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// File is the CRM receipt for an uploaded file.
type File struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	DealID   int64  `json:"deal_id"`
	FileSize int64  `json:"file_size"`
	URL      string `json:"url"`
}

// CreateFile uploads content as a file named name under a deal.
func (c *Client) CreateFile(ctx context.Context, dealID, name string, content io.Reader) (*File, error) {
	id, err := parseDealID(dealID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("deal_id", strconv.FormatInt(id, 10)); err != nil {
		return nil, fmt.Errorf("writing deal_id field: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copying file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var file File
	if err := c.do(ctx, http.MethodPost, c.endpoint("/files", nil), mw.FormDataContentType(), &buf, &file); err != nil {
		return nil, fmt.Errorf("uploading %q to deal %s: %w", name, dealID, err)
	}
	return &file, nil
}
