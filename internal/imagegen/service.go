// Package imagegen generates images through the HuggingFace Inference API
// and lets callers cancel generations that are still running.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/takuphilchan/offgrid-t2i/internal/apperr"
	"github.com/takuphilchan/offgrid-t2i/internal/catalog"
	"github.com/takuphilchan/offgrid-t2i/internal/history"
	"github.com/takuphilchan/offgrid-t2i/internal/logging"
)

const (
	// DefaultBaseURL is the hosted inference endpoint.
	DefaultBaseURL = "https://api-inference.huggingface.co"

	defaultTimeout = 2 * time.Minute
	maxImageBytes  = 32 << 20

	// Answers smaller than this are checked for a JSON error payload.
	suspiciousSize = 1000

	gpuMemoryMessage = "The model server is currently out of GPU memory. Please try:\n1. Using a smaller image size\n2. Waiting a few minutes\n3. Trying a different model"
)

// ErrMissingAPIKey is returned by NewService when no key is configured.
var ErrMissingAPIKey = errors.New("HUGGINGFACE_API_KEY is not set in environment variables")

// errCancelledByUser is the cancel cause set by Cancel.
var errCancelledByUser = errors.New("cancelled by request")

// HTTPClient is the subset of *http.Client used by the service.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder stores finished generations.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Observer receives one call per finished generation.
type Observer interface {
	ObserveGeneration(model, outcome string, d time.Duration)
}

// Options configures a Service.
type Options struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	GuidanceScale  float64
	InferenceSteps int
	DefaultWidth   int
	DefaultHeight  int
	Timeout        time.Duration
	HTTPClient     HTTPClient
	Recorder       Recorder
	Observer       Observer
	Logger         *logging.Logger
}

// Request is one generation request.
type Request struct {
	Prompt    string
	Width     int
	Height    int
	Model     string // catalog key; empty selects the default model
	RequestID string // empty assigns a fresh id
}

// Result is a generated image.
type Result struct {
	RequestID      string        `json:"requestId"`
	Model          string        `json:"model"`
	ModelName      string        `json:"modelName"`
	Image          string        `json:"image"` // data URL
	ContentType    string        `json:"contentType"`
	Data           []byte        `json:"-"`
	GenerationTime time.Duration `json:"-"`
}

// Service generates images and tracks in-flight requests.
type Service struct {
	opts    Options
	catalog *catalog.Catalog
	log     *logging.Logger

	mu     sync.Mutex
	active map[string]*inflight
}

// NewService creates a generation service
func NewService(opts Options, cat *catalog.Catalog) (*Service, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.DefaultModel == "" && len(cat.Models) > 0 {
		opts.DefaultModel = cat.Models[0].Key
	}
	if opts.GuidanceScale == 0 {
		opts.GuidanceScale = 7.5
	}
	if opts.InferenceSteps == 0 {
		opts.InferenceSteps = 50
	}
	if opts.DefaultWidth == 0 {
		opts.DefaultWidth = 1024
	}
	if opts.DefaultHeight == 0 {
		opts.DefaultHeight = 1024
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		// Per-request deadlines come from the context.
		opts.HTTPClient = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	return &Service{
		opts:    opts,
		catalog: cat,
		log:     log.With(map[string]any{"component": "imagegen"}),
		active:  make(map[string]*inflight),
	}, nil
}

// AvailableModels returns the catalog in order.
func (s *Service) AvailableModels() []catalog.ImageModel {
	return append([]catalog.ImageModel(nil), s.catalog.Models...)
}

// Active returns the number of generations in flight.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cancel stops the generation registered under requestID. It reports false
// when no such generation is running.
func (s *Service) Cancel(requestID string) bool {
	s.mu.Lock()
	call, ok := s.active[requestID]
	if ok {
		delete(s.active, requestID)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Info("no active request to cancel", map[string]any{"request_id": requestID})
		return false
	}
	s.log.Info("cancelling request", map[string]any{"request_id": requestID})
	call.cancel(errCancelledByUser)
	return true
}

// inflight is one registered generation. The pointer identifies the call,
// so a finished call never removes a newer one reusing its id.
type inflight struct {
	cancel context.CancelCauseFunc
}

func (s *Service) register(id string, cancel context.CancelCauseFunc) (*inflight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[id]; exists {
		return nil, false
	}
	call := &inflight{cancel: cancel}
	s.active[id] = call
	return call, true
}

func (s *Service) unregister(id string, call *inflight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] == call {
		delete(s.active, id)
	}
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

// Generate runs one text-to-image request.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	key := req.Model
	if key == "" {
		key = s.opts.DefaultModel
		s.log.Debug("no model selected, using default", map[string]any{"model": key})
	}
	model := s.catalog.Find(key)
	if model == nil {
		return nil, apperr.Validation(fmt.Sprintf("Invalid model selected: %s", key),
			fmt.Sprintf("Invalid model. Available models: %s", strings.Join(s.catalog.Keys(), ", ")))
	}

	if req.Width <= 0 {
		req.Width = s.opts.DefaultWidth
	}
	if req.Height <= 0 {
		req.Height = s.opts.DefaultHeight
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	call, ok := s.register(req.RequestID, cancel)
	if !ok {
		return nil, apperr.Validation("Request ID is already in use", "Request ID is already in use")
	}
	defer s.unregister(req.RequestID, call)

	callCtx, stop := context.WithTimeout(ctx, s.opts.Timeout)
	defer stop()

	s.log.Info("generating image", map[string]any{
		"request_id":    req.RequestID,
		"model":         model.Key,
		"width":         req.Width,
		"height":        req.Height,
		"prompt_length": len([]rune(req.Prompt)),
	})

	start := time.Now()
	data, contentType, err := s.call(callCtx, model, req)
	elapsed := time.Since(start)

	if err != nil {
		err = s.classify(ctx, callCtx, model, err)
	}
	s.finish(ctx, model, req, elapsed, err)
	if err != nil {
		return nil, err
	}

	return &Result{
		RequestID:      req.RequestID,
		Model:          model.Key,
		ModelName:      model.Name,
		Image:          "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		ContentType:    contentType,
		Data:           data,
		GenerationTime: elapsed,
	}, nil
}

func (s *Service) call(ctx context.Context, model *catalog.ImageModel, req Request) ([]byte, string, error) {
	payload, err := json.Marshal(inferenceRequest{
		Inputs: req.Prompt,
		Parameters: inferenceParameters{
			Width:             req.Width,
			Height:            req.Height,
			GuidanceScale:     s.opts.GuidanceScale,
			NumInferenceSteps: s.opts.InferenceSteps,
		},
	})
	if err != nil {
		return nil, "", apperr.Internal("failed to encode request", err)
	}

	endpoint := s.opts.BaseURL + "/models/" + model.ID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", apperr.Internal("failed to create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}

	s.log.Debug("inference response", map[string]any{"status": resp.StatusCode, "bytes": len(data)})

	if resp.StatusCode != http.StatusOK {
		return nil, "", upstreamError(model, resp.StatusCode, data)
	}
	if len(data) == 0 {
		return nil, "", apperr.Upstream("No data received from API")
	}
	if len(data) < suspiciousSize {
		if msg := jsonErrorMessage(data); msg != "" {
			return nil, "", apperr.Upstream(msg)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// classify turns transport and context failures into API errors. Errors the
// upstream already classified pass through.
func (s *Service) classify(ctx, callCtx context.Context, model *catalog.ImageModel, err error) error {
	if errors.Is(context.Cause(ctx), errCancelledByUser) || errors.Is(ctx.Err(), context.Canceled) {
		return apperr.Cancelled("Image generation cancelled")
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return apperr.Timeout(fmt.Sprintf("The request to %s timed out. Please try again or select a different model.", model.Name), err)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Resource(fmt.Sprintf("%s is unreachable right now. Please try again later.", model.Name), err)
}

func (s *Service) finish(ctx context.Context, model *catalog.ImageModel, req Request, elapsed time.Duration, err error) {
	status := history.StatusSucceeded
	outcome := "success"
	errMsg := ""
	if err != nil {
		status = history.StatusFailed
		outcome = "failure"
		errMsg = err.Error()
		if apperr.IsKind(err, apperr.KindCancelled) {
			status = history.StatusCancelled
			outcome = "cancelled"
		}
		s.log.Warn("generation failed", map[string]any{"request_id": req.RequestID, "model": model.Key, "error": err})
	} else {
		s.log.Info("generated image", map[string]any{"request_id": req.RequestID, "model": model.Key, "took_ms": elapsed.Milliseconds()})
	}

	if s.opts.Observer != nil {
		s.opts.Observer.ObserveGeneration(model.Key, outcome, elapsed)
	}
	if s.opts.Recorder != nil {
		entry := history.Entry{
			RequestID:    req.RequestID,
			Model:        model.Key,
			PromptLength: len([]rune(req.Prompt)),
			Width:        req.Width,
			Height:       req.Height,
			Status:       status,
			Error:        errMsg,
			Duration:     elapsed,
		}
		if recErr := s.opts.Recorder.Record(context.WithoutCancel(ctx), entry); recErr != nil {
			s.log.Warn("failed to record generation", map[string]any{"request_id": req.RequestID, "error": recErr})
		}
	}
}

type upstreamPayload struct {
	Error         any      `json:"error"`
	Warnings      []string `json:"warnings"`
	EstimatedTime float64  `json:"estimated_time"`
}

// upstreamError maps a non-200 inference answer onto an API error.
func upstreamError(model *catalog.ImageModel, status int, body []byte) error {
	var payload upstreamPayload
	parsed := json.Unmarshal(body, &payload) == nil
	msg := ""
	if parsed {
		msg = errorText(payload.Error)
	}
	if msg == "" {
		msg = fmt.Sprintf("API returned status %d: %s", status, strings.TrimSpace(string(body)))
	}

	for _, w := range payload.Warnings {
		if strings.Contains(w, "CUDA out of memory") {
			return apperr.Resource(gpuMemoryMessage, errors.New(msg))
		}
	}
	if strings.Contains(msg, "Model too busy") || strings.Contains(msg, "unable to get response") {
		return apperr.Resource(busyMessage(model), errors.New(msg))
	}

	switch status {
	case http.StatusTooManyRequests:
		return apperr.RateLimit(msg)
	case http.StatusNotFound:
		return apperr.Validation(fmt.Sprintf("Model %s is not available", model.Name), msg)
	case http.StatusServiceUnavailable:
		if payload.EstimatedTime > 0 {
			return apperr.Resource(fmt.Sprintf("%s is loading. Please try again in about %.0f seconds.", model.Name, payload.EstimatedTime), errors.New(msg))
		}
		return apperr.Resource(busyMessage(model), errors.New(msg))
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Internal("The inference API rejected the configured API key", errors.New(msg))
	default:
		return apperr.Upstream(msg)
	}
}

func busyMessage(model *catalog.ImageModel) string {
	return fmt.Sprintf("%s is currently busy. Please try again in a few minutes or select a different model.", model.Name)
}

// jsonErrorMessage returns the error field of a JSON body, if any.
func jsonErrorMessage(body []byte) string {
	var payload upstreamPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return errorText(payload.Error)
}

// errorText flattens the inference API's error field, which is either a
// string or a list of strings.
func errorText(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case []any:
		parts := make([]string, 0, len(e))
		for _, p := range e {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}
