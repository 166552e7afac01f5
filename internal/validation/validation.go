// Package validation checks image API request bodies and reports every
// failure at once.
package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Prompt and dimension limits accepted by the generate endpoint.
const (
	MinPromptLength = 3
	MaxPromptLength = 500
	MinDimension    = 128
	MaxDimension    = 1024
	DimensionStep   = 8
)

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Messages returns the error messages in the order they were found.
func (r ValidationResult) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Message
	}
	return out
}

// ImageRequest is a generate body as decoded from JSON. Fields are untyped so
// wrong JSON types can be reported instead of failing the decode.
type ImageRequest struct {
	Prompt    any `json:"prompt"`
	Width     any `json:"width"`
	Height    any `json:"height"`
	Model     any `json:"model"`
	RequestID any `json:"requestId"`
}

// CancelRequest is a cancel body as decoded from JSON.
type CancelRequest struct {
	RequestID any `json:"requestId"`
}

// ImageInput is a generate request that passed validation.
type ImageInput struct {
	Prompt    string
	Width     int // 0 = service default
	Height    int // 0 = service default
	Model     string
	RequestID string
}

type imageFields struct {
	Prompt string   `validate:"required,min=3,max=500"`
	Width  *float64 `validate:"omitnil,min=128,max=1024,step8"`
	Height *float64 `validate:"omitnil,min=128,max=1024,step8"`
	Model  *string  `validate:"omitnil,catalogmodel"`
}

type cancelFields struct {
	RequestID string `validate:"required,uuidv4"`
}

// Validator validates image API requests
type Validator struct {
	validate *validator.Validate
	models   []string
}

// New creates a Validator that accepts the given catalog keys.
func New(modelKeys []string) *Validator {
	v := &Validator{
		validate: validator.New(),
		models:   append([]string(nil), modelKeys...),
	}

	// Registration only fails for empty tags or nil funcs.
	_ = v.validate.RegisterValidation("step8", func(fl validator.FieldLevel) bool {
		return math.Mod(fl.Field().Float(), DimensionStep) == 0
	})
	_ = v.validate.RegisterValidation("catalogmodel", func(fl validator.FieldLevel) bool {
		return v.hasModel(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("uuidv4", func(fl validator.FieldLevel) bool {
		return IsRequestID(fl.Field().String())
	})

	return v
}

func (v *Validator) hasModel(key string) bool {
	for _, m := range v.models {
		if m == key {
			return true
		}
	}
	return false
}

// ValidateImage checks a generate request. On success the typed input is
// returned; otherwise the result lists every failure.
func (v *Validator) ValidateImage(req ImageRequest) (ImageInput, ValidationResult) {
	var errs []ValidationError
	var fields imageFields
	var input ImageInput

	switch p := req.Prompt.(type) {
	case nil:
		// left empty so "required" reports it
	case string:
		fields.Prompt = p
	default:
		errs = append(errs, ValidationError{Field: "prompt", Message: "Prompt must be a string"})
		fields.Prompt = strings.Repeat("x", MinPromptLength) // skip further prompt checks
	}

	fields.Width, errs = numberField("Width", req.Width, errs)
	fields.Height, errs = numberField("Height", req.Height, errs)

	if req.Model != nil {
		model, ok := req.Model.(string)
		if !ok {
			model = fmt.Sprint(req.Model)
		}
		fields.Model = &model
	}

	switch id := req.RequestID.(type) {
	case nil:
	case string:
		input.RequestID = id
	default:
		errs = append(errs, ValidationError{Field: "requestId", Message: "Request ID must be a string"})
	}

	if err := v.validate.Struct(fields); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Field:   strings.ToLower(fe.Field()),
					Message: v.imageMessage(fe),
				})
			}
		} else {
			errs = append(errs, ValidationError{Field: "request", Message: err.Error()})
		}
	}

	errs = sortByField(errs, "prompt", "width", "height", "model", "requestId")
	if len(errs) > 0 {
		return ImageInput{}, ValidationResult{Valid: false, Errors: errs}
	}

	input.Prompt = fields.Prompt
	if fields.Width != nil {
		input.Width = int(*fields.Width)
	}
	if fields.Height != nil {
		input.Height = int(*fields.Height)
	}
	if fields.Model != nil {
		input.Model = *fields.Model
	}
	return input, ValidationResult{Valid: true}
}

// ValidateCancel checks a cancel request and returns the request id.
func (v *Validator) ValidateCancel(req CancelRequest) (string, ValidationResult) {
	var id string
	switch r := req.RequestID.(type) {
	case nil:
	case string:
		id = r
	default:
		return "", ValidationResult{Errors: []ValidationError{{Field: "requestId", Message: "Request ID must be a string"}}}
	}

	if err := v.validate.Struct(cancelFields{RequestID: id}); err != nil {
		var errs []ValidationError
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				msg := "Invalid request ID format"
				if fe.Tag() == "required" {
					msg = "Request ID is required"
				}
				errs = append(errs, ValidationError{Field: "requestId", Message: msg})
			}
		} else {
			errs = append(errs, ValidationError{Field: "requestId", Message: err.Error()})
		}
		return "", ValidationResult{Errors: errs}
	}
	return id, ValidationResult{Valid: true}
}

func (v *Validator) imageMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "Prompt":
		switch fe.Tag() {
		case "required":
			return "Prompt is required"
		case "min":
			return fmt.Sprintf("Prompt must be at least %d characters long", MinPromptLength)
		case "max":
			return fmt.Sprintf("Prompt must not exceed %d characters", MaxPromptLength)
		}
	case "Width", "Height":
		switch fe.Tag() {
		case "min", "max":
			return fmt.Sprintf("%s must be between %d and %d pixels", fe.Field(), MinDimension, MaxDimension)
		case "step8":
			return fmt.Sprintf("%s must be divisible by %d", fe.Field(), DimensionStep)
		}
	case "Model":
		return fmt.Sprintf("Invalid model. Available models: %s", strings.Join(v.models, ", "))
	}
	return fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag())
}

// numberField type-checks an optional numeric JSON field.
func numberField(name string, raw any, errs []ValidationError) (*float64, []ValidationError) {
	switch n := raw.(type) {
	case nil:
		return nil, errs
	case float64:
		return &n, errs
	default:
		return nil, append(errs, ValidationError{
			Field:   strings.ToLower(name),
			Message: fmt.Sprintf("%s must be a number", name),
		})
	}
}

// sortByField orders errors by field so output is stable across runs.
func sortByField(errs []ValidationError, order ...string) []ValidationError {
	if len(errs) < 2 {
		return errs
	}
	out := make([]ValidationError, 0, len(errs))
	for _, field := range order {
		for _, e := range errs {
			if e.Field == field {
				out = append(out, e)
			}
		}
	}
	for _, e := range errs {
		known := false
		for _, field := range order {
			if e.Field == field {
				known = true
				break
			}
		}
		if !known {
			out = append(out, e)
		}
	}
	return out
}

// IsRequestID reports whether s is a canonical RFC 4122 version 4 UUID
// (any letter case).
func IsRequestID(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// NewRequestID returns a fresh version 4 request id.
func NewRequestID() string {
	return uuid.NewString()
}
