package api

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// Limits on request values. The controller stores what it is given; these
// only reject input no client could mean.
const (
	maxTitleLength       = 100
	maxRefreshInterval   = 3600
	maxMotionSensitivity = 100
	maxStorageRetention  = 365
	maxTileExtent        = 8192
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// DescriptorValidator validates camera descriptors
type DescriptorValidator struct {
	errors ValidationErrors
}

// NewDescriptorValidator creates a new descriptor validator
func NewDescriptorValidator() *DescriptorValidator {
	return &DescriptorValidator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate checks every field of a descriptor. Empty titles and stream
// URLs are allowed; the settings dialog fills them in later.
func (v *DescriptorValidator) Validate(d grid.Descriptor) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	v.validateTitle(d.Title)
	v.validateStreamURL(d.StreamURL)
	v.validateRange(grid.FieldRefreshInterval, d.RefreshInterval, 0, maxRefreshInterval)
	v.validateRange(grid.FieldMotionSensitivity, d.MotionSensitivity, 0, maxMotionSensitivity)
	v.validateRange(grid.FieldStorageRetention, d.StorageRetention, 0, maxStorageRetention)

	return v.errors
}

// ValidateField checks a single-field update. Values of the wrong type
// pass through; the controller rejects those.
func (v *DescriptorValidator) ValidateField(field string, value any) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	switch field {
	case grid.FieldTitle:
		if s, ok := value.(string); ok {
			v.validateTitle(s)
		}
	case grid.FieldStreamURL:
		if s, ok := value.(string); ok {
			v.validateStreamURL(s)
		}
	case grid.FieldRefreshInterval:
		v.validateNumber(field, value, maxRefreshInterval)
	case grid.FieldMotionSensitivity:
		v.validateNumber(field, value, maxMotionSensitivity)
	case grid.FieldStorageRetention:
		v.validateNumber(field, value, maxStorageRetention)
	}

	return v.errors
}

func (v *DescriptorValidator) validateTitle(title string) {
	if len(title) > maxTitleLength {
		v.errors = append(v.errors, ValidationError{
			Field:   grid.FieldTitle,
			Message: fmt.Sprintf("title must be at most %d characters", maxTitleLength),
		})
	}
}

func (v *DescriptorValidator) validateStreamURL(streamURL string) {
	if streamURL == "" {
		return
	}

	// go2rtc source prefixes wrap the actual URL
	urlToValidate := streamURL
	for _, prefix := range []string{"ffmpeg:", "exec:", "echo:", "expr:"} {
		if strings.HasPrefix(strings.ToLower(streamURL), prefix) {
			urlToValidate = streamURL[len(prefix):]
			break
		}
	}
	if urlToValidate == "" || strings.HasPrefix(urlToValidate, "#") {
		return
	}

	u, err := url.Parse(urlToValidate)
	if err != nil {
		v.errors = append(v.errors, ValidationError{
			Field:   grid.FieldStreamURL,
			Message: "invalid URL format",
		})
		return
	}

	validSchemes := map[string]bool{
		"rtsp":  true,
		"rtsps": true,
		"rtmp":  true,
		"http":  true,
		"https": true,
	}
	if !validSchemes[strings.ToLower(u.Scheme)] {
		v.errors = append(v.errors, ValidationError{
			Field:   grid.FieldStreamURL,
			Message: fmt.Sprintf("unsupported stream protocol '%s'. Supported: rtsp, rtsps, rtmp, http, https (with optional ffmpeg: prefix)", u.Scheme),
		})
	}
	if u.Host == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   grid.FieldStreamURL,
			Message: "stream URL must include a host",
		})
	}
}

func (v *DescriptorValidator) validateNumber(field string, value any, max int) {
	n, ok := value.(float64)
	if !ok {
		return
	}
	if n < 0 || n > float64(max) {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between 0 and %d", max),
		})
	}
}

func (v *DescriptorValidator) validateRange(field string, n, min, max int) {
	if n < min || n > max {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		})
	}
}

// ValidateSettings checks grid-wide settings
func ValidateSettings(s grid.Settings) ValidationErrors {
	errs := make(ValidationErrors, 0)
	if len(s.Title) > maxTitleLength {
		errs = append(errs, ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("title must be at most %d characters", maxTitleLength),
		})
	}
	if s.RefreshRate < 0 || s.RefreshRate > maxRefreshInterval {
		errs = append(errs, ValidationError{
			Field:   "refreshRate",
			Message: fmt.Sprintf("must be between 0 and %d", maxRefreshInterval),
		})
	}
	return errs
}

// ValidatePosition checks a free-form tile position
func ValidatePosition(p layout.Position) ValidationErrors {
	errs := make(ValidationErrors, 0)
	if p.X < 0 || p.X > maxTileExtent {
		errs = append(errs, ValidationError{Field: "x", Message: fmt.Sprintf("must be between 0 and %d", maxTileExtent)})
	}
	if p.Y < 0 || p.Y > maxTileExtent {
		errs = append(errs, ValidationError{Field: "y", Message: fmt.Sprintf("must be between 0 and %d", maxTileExtent)})
	}
	return errs
}

// ValidateSize checks a free-form tile size
func ValidateSize(sz layout.Size) ValidationErrors {
	errs := make(ValidationErrors, 0)
	if sz.Width <= 0 || sz.Width > maxTileExtent {
		errs = append(errs, ValidationError{Field: "width", Message: fmt.Sprintf("must be between 1 and %d", maxTileExtent)})
	}
	if sz.Height <= 0 || sz.Height > maxTileExtent {
		errs = append(errs, ValidationError{Field: "height", Message: fmt.Sprintf("must be between 1 and %d", maxTileExtent)})
	}
	return errs
}

// SanitizeStreamURL removes credentials from a URL for logging
func SanitizeStreamURL(streamURL string) string {
	u, err := url.Parse(streamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[invalid-url]"
	}

	u.User = nil
	return u.String()
}
