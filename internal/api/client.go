// Package api is a small client for the platform's REST surface: bulk file
// listing, project metadata and contributors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/byteforge/forgelive/internal/ws"
)

var ErrUnauthorized = errors.New("unauthorized")

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client rooted at baseURL (for example
// https://host/api/v1). token is sent as a bearer credential when set.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type Project struct {
	ID          ws.ID  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     ws.ID  `json:"ownerId"`
	IsPublic    bool   `json:"isPublic"`
	FileCount   int    `json:"fileCount"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type Contributor struct {
	ID        ws.ID  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Online    bool   `json:"online"`
	ProjectID ws.ID  `json:"projectId"`
}

// ListFiles returns the flat file listing of a project.
func (c *Client) ListFiles(ctx context.Context, projectID string) ([]ws.File, error) {
	var files []ws.File
	if err := c.getJSON(ctx, "/project/"+url.PathEscape(projectID)+"/files", &files); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	if err := c.getJSON(ctx, "/project/"+url.PathEscape(projectID), &p); err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (c *Client) Contributors(ctx context.Context, projectID string) ([]Contributor, error) {
	var out []Contributor
	if err := c.getJSON(ctx, "/project/"+url.PathEscape(projectID)+"/contributors", &out); err != nil {
		return nil, fmt.Errorf("contributors: %w", err)
	}
	return out, nil
}

// HTTP helpers

// Do sends a request against the API root with auth applied. The caller
// owns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CheckStatus turns a non-2xx response into an error carrying the server's
// message. 401 maps to ErrUnauthorized.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Message != "":
			msg = errResp.Message
		case errResp.Error != "":
			msg = errResp.Error
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if msg == "" {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
}
