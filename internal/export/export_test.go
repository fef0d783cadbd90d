package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/byteforge/forgelive/internal/api"
)

type fakeServer struct {
	statuses []Status
	polls    atomic.Int32
	started  Request
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /project/5/export", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.started); err != nil {
			t.Errorf("decode start: %v", err)
		}
		json.NewEncoder(w).Encode(Status{ExportID: "exp-1", Status: StatusProcessing})
	})
	mux.HandleFunc("GET /project/5/export/exp-1/status", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		if n >= len(f.statuses) {
			n = len(f.statuses) - 1
		}
		json.NewEncoder(w).Encode(f.statuses[n])
	})
	mux.HandleFunc("GET /project/5/export/exp-1/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="demo_export.zip"`)
		w.Write([]byte("PK\x03\x04archive"))
	})
	return mux
}

func TestPollerCompletes(t *testing.T) {
	f := &fakeServer{statuses: []Status{
		{Status: StatusProcessing, Progress: 40},
		{Status: StatusProcessing, Progress: 80},
		{ExportID: "exp-1", Status: StatusCompleted, Progress: 100},
	}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	var seen []int
	p := &Poller{
		Client:     NewClient(api.NewClient(srv.URL, "tok")),
		Interval:   5 * time.Millisecond,
		OnProgress: func(s Status) { seen = append(seen, s.Progress) },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ar, err := p.Run(ctx, "5", Request{Format: FormatZIP, IncludeGit: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ar.Name != "demo_export.zip" || string(ar.Data) != "PK\x03\x04archive" {
		t.Errorf("archive = %q (%d bytes)", ar.Name, len(ar.Data))
	}
	if !f.started.IncludeGit || f.started.Format != FormatZIP {
		t.Errorf("start request = %+v", f.started)
	}
	want := []int{0, 40, 80, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
	if got := f.polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestPollerFailed(t *testing.T) {
	f := &fakeServer{statuses: []Status{
		{Status: StatusProcessing, Progress: 10},
		{Status: StatusFailed, Message: "disk full"},
	}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p := &Poller{Client: NewClient(api.NewClient(srv.URL, "")), Interval: 5 * time.Millisecond}
	_, err := p.Run(context.Background(), "5", Request{Format: FormatRAR})
	if !errors.Is(err, ErrExportFailed) {
		t.Fatalf("err = %v, want ErrExportFailed", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %q, want server message", err)
	}
	if got := f.polls.Load(); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}
}

func TestPollerStopsOnStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(Status{ExportID: "x", Status: StatusProcessing})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"export not found"}`))
	}))
	defer srv.Close()

	p := &Poller{Client: NewClient(api.NewClient(srv.URL, "")), Interval: time.Millisecond}
	_, err := p.Run(context.Background(), "5", Request{Format: FormatZIP})
	if err == nil || !strings.Contains(err.Error(), "export not found") {
		t.Errorf("err = %v", err)
	}
}

func TestPollerContextCancel(t *testing.T) {
	f := &fakeServer{statuses: []Status{{Status: StatusProcessing}}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := &Poller{Client: NewClient(api.NewClient(srv.URL, "")), Interval: 10 * time.Millisecond}
	if _, err := p.Run(ctx, "5", Request{Format: FormatZIP}); err == nil {
		t.Fatal("expected error after context expiry")
	}
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		disposition string
		format      Format
		want        string
	}{
		{`attachment; filename="p.rar"`, FormatRAR, "p.rar"},
		{`attachment; filename="../../etc/passwd"`, FormatZIP, "passwd"},
		{"", FormatRAR, "project_9_export.rar"},
		{"", "", "project_9_export.zip"},
		{"attachment", FormatZIP, "project_9_export.zip"},
	}
	for _, tt := range tests {
		if got := archiveName(tt.disposition, "9", tt.format); got != tt.want {
			t.Errorf("archiveName(%q, %q) = %q, want %q", tt.disposition, tt.format, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("zip"); err != nil || f != FormatZIP {
		t.Errorf("zip: %v %v", f, err)
	}
	if f, err := ParseFormat("RaR"); err != nil || f != FormatRAR {
		t.Errorf("rar: %v %v", f, err)
	}
	if _, err := ParseFormat("tar"); err == nil {
		t.Error("tar accepted")
	}
}
