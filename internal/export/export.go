// Package export drives the server-side project export job: start it, poll
// its status until it settles, then download the archive.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/byteforge/forgelive/internal/api"
)

var ErrExportFailed = errors.New("export failed")

type Format string

const (
	FormatZIP Format = "ZIP"
	FormatRAR Format = "RAR"
)

// ParseFormat accepts zip or rar in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToUpper(s)); f {
	case FormatZIP, FormatRAR:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

type Request struct {
	IncludeGit bool   `json:"includeGit"`
	Format     Format `json:"format"`
}

type Status struct {
	ExportID  string `json:"exportId"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Archive is a downloaded export.
type Archive struct {
	Name string
	Data []byte
}

type Client struct {
	api *api.Client
}

func NewClient(c *api.Client) *Client {
	return &Client{api: c}
}

func exportPath(projectID string) string {
	return "/project/" + url.PathEscape(projectID) + "/export"
}

func (c *Client) Start(ctx context.Context, projectID string, req Request) (*Status, error) {
	var st Status
	if err := c.doJSON(ctx, http.MethodPost, exportPath(projectID), req, &st); err != nil {
		return nil, fmt.Errorf("start export: %w", err)
	}
	if st.ExportID == "" {
		return nil, fmt.Errorf("start export: server returned no export id")
	}
	return &st, nil
}

func (c *Client) Status(ctx context.Context, projectID, exportID string) (*Status, error) {
	var st Status
	p := exportPath(projectID) + "/" + url.PathEscape(exportID) + "/status"
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &st); err != nil {
		return nil, fmt.Errorf("export status: %w", err)
	}
	return &st, nil
}

// Download fetches a finished archive. The name comes from the server's
// Content-Disposition header, falling back to project_<id>_export.<format>.
func (c *Client) Download(ctx context.Context, projectID, exportID string, format Format) (*Archive, error) {
	p := exportPath(projectID) + "/" + url.PathEscape(exportID) + "/download"
	resp, err := c.api.Do(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	defer resp.Body.Close()
	if err := api.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	return &Archive{Name: archiveName(resp.Header.Get("Content-Disposition"), projectID, format), Data: data}, nil
}

func archiveName(disposition, projectID string, format Format) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if format == "" {
		format = FormatZIP
	}
	return fmt.Sprintf("project_%s_export.%s", projectID, strings.ToLower(string(format)))
}

func (c *Client) doJSON(ctx context.Context, method, p string, body, out any) error {
	resp, err := c.api.Do(ctx, method, p, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := api.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// DefaultPollInterval matches the web client's status polling cadence.
const DefaultPollInterval = time.Second

// Poller runs a whole export job to completion.
type Poller struct {
	Client   *Client
	Interval time.Duration
	// OnProgress is called with every status the server reports.
	OnProgress func(Status)

	Log *slog.Logger
}

// Run starts an export and polls at a fixed interval until it completes or
// fails. A completed export is downloaded. A FAILED status or a failed status
// request ends the job; there is no retry.
func (p *Poller) Run(ctx context.Context, projectID string, req Request) (*Archive, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)

	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	st, err := p.Client.Start(ctx, projectID, req)
	if err != nil {
		return nil, err
	}
	log.Info("export started", "project", projectID, "export_id", st.ExportID, "format", req.Format)
	p.progress(*st)

	for st.Status != StatusCompleted {
		if st.Status == StatusFailed {
			msg := st.Message
			if msg == "" {
				msg = "no reason given"
			}
			return nil, fmt.Errorf("%w: %s", ErrExportFailed, msg)
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
		next, err := p.Client.Status(ctx, projectID, st.ExportID)
		if err != nil {
			return nil, err
		}
		if next.ExportID == "" {
			next.ExportID = st.ExportID
		}
		st = next
		log.Debug("export status", "export_id", st.ExportID, "status", st.Status, "progress", st.Progress)
		p.progress(*st)
	}

	return p.Client.Download(ctx, projectID, st.ExportID, req.Format)
}

func (p *Poller) progress(st Status) {
	if p.OnProgress != nil {
		p.OnProgress(st)
	}
}
