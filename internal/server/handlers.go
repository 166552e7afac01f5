package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/takuphilchan/offgrid-t2i/internal/apperr"
	"github.com/takuphilchan/offgrid-t2i/internal/cache"
	"github.com/takuphilchan/offgrid-t2i/internal/catalog"
	"github.com/takuphilchan/offgrid-t2i/internal/history"
	"github.com/takuphilchan/offgrid-t2i/internal/hub"
	"github.com/takuphilchan/offgrid-t2i/internal/imagegen"
	"github.com/takuphilchan/offgrid-t2i/internal/lister"
	"github.com/takuphilchan/offgrid-t2i/internal/resource"
	"github.com/takuphilchan/offgrid-t2i/internal/validation"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxHubLimit         = 1000
)

type errorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

type generateResponse struct {
	RequestID      string `json:"requestId"`
	Image          string `json:"image"`
	Model          string `json:"model"`
	GenerationTime int64  `json:"generationTime"` // milliseconds
}

type cancelResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

type modelsResponse struct {
	Models []catalog.ImageModel `json:"models"`
}

type hubModelsResponse struct {
	Filter string   `json:"filter"`
	Models []string `json:"models"`
	Count  int      `json:"count"`
}

type historyResponse struct {
	History []history.Entry `json:"history"`
	Count   int             `json:"count"`
	Total   int             `json:"total,omitempty"`
}

type healthResponse struct {
	Status            string          `json:"status"`
	Version           string          `json:"version"`
	UptimeSeconds     int64           `json:"uptimeSeconds"`
	ActiveGenerations int             `json:"activeGenerations"`
	Resources         *resource.Stats `json:"resources,omitempty"`
	HubCache          *cache.Stats    `json:"hubCache,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "OffGrid T2I",
		"version": Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:            "healthy",
		Version:           Version,
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		ActiveGenerations: s.generator.Active(),
	}
	if s.monitor != nil {
		stats := s.monitor.GetStats()
		resp.Resources = &stats
	}
	if c, ok := s.lister.(interface{ Stats() cache.Stats }); ok {
		stats := c.Stats()
		resp.HubCache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleImageModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{Models: s.generator.AvailableModels()})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body validation.ImageRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	input, result := s.validator.ValidateImage(body)
	if !result.Valid {
		s.writeError(w, r, apperr.Validation("Validation failed", result.Messages()...))
		return
	}
	if input.RequestID == "" {
		input.RequestID = validation.NewRequestID()
	} else if !validation.IsRequestID(input.RequestID) {
		s.writeError(w, r, apperr.Validation("Validation failed", "Invalid request ID format"))
		return
	}

	s.metrics.ActiveGenerations.Inc()
	res, err := s.generator.Generate(r.Context(), imagegen.Request{
		Prompt:    input.Prompt,
		Width:     input.Width,
		Height:    input.Height,
		Model:     input.Model,
		RequestID: input.RequestID,
	})
	s.metrics.ActiveGenerations.Dec()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		RequestID:      res.RequestID,
		Image:          res.Image,
		Model:          res.Model,
		GenerationTime: res.GenerationTime.Milliseconds(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body validation.CancelRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, result := s.validator.ValidateCancel(body)
	if !result.Valid {
		s.writeError(w, r, apperr.Validation("Validation failed", result.Messages()...))
		return
	}
	if !s.generator.Cancel(id) {
		s.writeError(w, r, apperr.NotFound("Request not found"))
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Message: "Request cancelled successfully", RequestID: id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, apperr.NotFound("Generation history is disabled"))
		return
	}

	limit, err := queryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, apperr.Internal("Failed to read generation history", err))
		return
	}
	resp := historyResponse{History: entries, Count: len(entries)}
	if c, ok := s.history.(interface {
		Count(ctx context.Context) (int, error)
	}); ok {
		if total, err := c.Count(r.Context()); err == nil {
			resp.Total = total
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHubModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := hub.ListOptions{
		Filter: q.Get("filter"),
		Search: q.Get("search"),
		Author: q.Get("author"),
		Sort:   q.Get("sort"),
	}
	if opts.Filter == "" {
		opts.Filter = lister.DefaultFilter
	}
	limit, err := queryInt(r, "limit", 0, 0, maxHubLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts.Limit = limit

	ids, err := s.lister.IDs(r.Context(), opts)
	s.metrics.ObserveHubList(err)
	if err != nil {
		s.writeError(w, r, hubError(err))
		return
	}
	writeJSON(w, http.StatusOK, hubModelsResponse{Filter: opts.Filter, Models: ids, Count: len(ids)})
}

// hubError maps a hub listing failure to an API error.
func hubError(err error) error {
	var apiErr *hub.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return apperr.RateLimit("The model hub is rate limiting requests. Please try again later.")
	}
	return apperr.Resource("Failed to list models from the hub", err)
}

// writeError writes the {error, details, timestamp} body for err.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)

	resp := errorResponse{
		Error:     appErr.Message,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	switch {
	case len(appErr.Details) > 0:
		resp.Details = appErr.Details
	case appErr.Err != nil && appErr.Kind != apperr.KindCancelled:
		resp.Details = appErr.Err.Error()
	}
	if appErr.Kind == apperr.KindInternal && s.config.IsProduction() {
		resp.Error = "Something went wrong!"
		resp.Details = nil
	}

	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"kind":   string(appErr.Kind),
		"status": appErr.Status,
		"error":  appErr.Error(),
	}
	if appErr.Status >= http.StatusInternalServerError {
		s.log.Error("request failed", fields)
	} else {
		s.log.Debug("request rejected", fields)
	}

	writeJSON(w, appErr.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body, reporting malformed input as a syntax error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Syntax(err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, apperr.Validation("Validation failed", fmt.Sprintf("%s must be an integer between %d and %d", name, min, max))
	}
	return n, nil
}
