package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mzyy94/pkpgcounter/internal/inkcoverage"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

func (h *handler) handleCount(w http.ResponseWriter, r *http.Request) {
	s := h.opts.Settings.Get()
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	body, name, err := upload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report := h.analyze(r.Context(), body, name, s, nil)
	if report.Err != nil {
		writeError(w, report.Err)
		return
	}
	writeJSON(w, http.StatusOK, report.Result)
}

type coverageResponse struct {
	Format     string             `json:"format"`
	Colorspace string             `json:"colorspace"`
	Resolution int                `json:"resolution"`
	Pages      []inkcoverage.Page `json:"pages"`
	Lines      []string           `json:"lines"`
}

func (h *handler) handleCoverage(w http.ResponseWriter, r *http.Request) {
	s := h.opts.Settings.Get()
	q := r.URL.Query()

	name := q.Get("colorspace")
	if name == "" {
		name = s.Colorspace
	}
	cs, err := inkcoverage.ParseColorspace(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	dpi := s.Resolution
	if v := q.Get("resolution"); v != "" {
		dpi, err = strconv.Atoi(v)
		if err != nil || dpi < inkcoverage.MinResolution || dpi > inkcoverage.MaxResolution {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: fmt.Sprintf("resolution must be an integer in [%d, %d]", inkcoverage.MinResolution, inkcoverage.MaxResolution),
			})
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	body, fileName, err := upload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report := h.analyze(r.Context(), body, fileName, s, &inkcoverage.Options{Colorspace: cs, Resolution: dpi})
	if report.Err != nil {
		writeError(w, report.Err)
		return
	}
	resp := coverageResponse{
		Format:     report.Result.Name,
		Colorspace: cs.String(),
		Resolution: dpi,
		Pages:      report.Coverage,
		Lines:      make([]string, len(report.Coverage)),
	}
	for i, p := range report.Coverage {
		resp.Lines[i] = p.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pdl.Formats())
}

type statusResponse struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Documents int64  `json:"documents"`
	Pages     int64  `json:"pages"`
	Failures  int64  `json:"failures"`
	IPPURL    string `json:"ippUrl"`
	UpdatedAt string `json:"updatedAt"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Name:      h.opts.Name,
		UUID:      h.opts.UUID.String(),
		Version:   h.opts.Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Documents: h.documents.Load(),
		Pages:     h.pages.Load(),
		Failures:  h.failures.Load(),
		IPPURL:    h.printerURI(r),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s := h.opts.Settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.opts.Settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
