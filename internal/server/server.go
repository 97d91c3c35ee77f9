package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenPrinting/go-mfp/util/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mzyy94/pkpgcounter/internal/analyzer"
	"github.com/mzyy94/pkpgcounter/internal/config"
	"github.com/mzyy94/pkpgcounter/internal/extern"
	"github.com/mzyy94/pkpgcounter/internal/inkcoverage"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

// Options configures the HTTP API.
type Options struct {
	Name       string
	Version    string
	UUID       uuid.UUID
	ListenPort int
	Settings   *config.Store
}

type handler struct {
	opts    Options
	started time.Time

	mu      sync.Mutex
	sem     *semaphore.Weighted
	semSize int

	documents atomic.Int64
	pages     atomic.Int64
	failures  atomic.Int64
	jobID     atomic.Int32
}

// NewHandler creates the HTTP handler serving the counting API and the IPP
// accounting endpoint.
func NewHandler(opts Options) http.Handler {
	if opts.Settings == nil {
		opts.Settings = config.NewMemoryStore()
	}
	h := &handler{opts: opts, started: time.Now()}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/count", h.handleCount)
	mux.HandleFunc("POST /api/coverage", h.handleCoverage)
	mux.HandleFunc("POST /ipp/print", h.handleIPP)
	mux.HandleFunc("GET /api/formats", h.handleFormats)
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	return mux
}

// acquire waits for one of the analysis slots allowed by the current
// settings.
func (h *handler) acquire(ctx context.Context, limit int) (func(), error) {
	h.mu.Lock()
	if h.sem == nil || h.semSize != limit {
		h.sem = semaphore.NewWeighted(int64(limit))
		h.semSize = limit
	}
	sem := h.sem
	h.mu.Unlock()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// analyze runs one analysis under the concurrency limit and records it in
// the status counters.
func (h *handler) analyze(ctx context.Context, r io.Reader, name string, s config.Settings, coverage *inkcoverage.Options) analyzer.FileReport {
	release, err := h.acquire(ctx, s.Concurrency)
	if err != nil {
		return analyzer.FileReport{Name: name, Err: err}
	}
	defer release()

	tools := &extern.Runner{Timeout: s.ToolTimeout()}
	opts := analyzer.Options{
		Count:    pdl.Options{LinesPerPage: s.LinesPerPage, Tools: tools},
		Coverage: coverage,
	}
	if coverage != nil {
		coverage.Tools = tools
	}
	report := analyzer.AnalyzeReader(ctx, r, name, opts)
	h.documents.Add(1)
	if report.Err != nil {
		h.failures.Add(1)
	} else {
		h.pages.Add(int64(report.Pages()))
	}
	return report
}

// upload returns the job carried by the request: the "file" part of a
// multipart form, or the raw body.
func upload(r *http.Request) (io.Reader, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return r.Body, "upload", nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", errors.New("multipart form has no file part")
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() == "file" {
			name := part.FileName()
			if name == "" {
				name = "upload"
			}
			return part, name, nil
		}
		part.Close()
	}
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps an analysis failure to an HTTP status.
func errorStatus(err error) int {
	var maxErr *http.MaxBytesError
	var parseErr *pdl.FormatParseError
	var toolErr *extern.Error
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pdl.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, pdl.ErrUnsupportedFormat), errors.Is(err, inkcoverage.ErrNoConverter):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &toolErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= 500 {
		slog.Warn("analysis failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// localIP returns the address used to reach the local network.
func localIP() string {
	conn, err := net.Dial("udp4", "224.0.0.1:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func (h *handler) printerURI(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = net.JoinHostPort(localIP(), fmt.Sprint(h.opts.ListenPort))
	}
	return "ipp://" + host + "/ipp/print"
}
