package extract

import (
	"context"
	"errors"

	"github.com/esg-lite/emissions-pipeline/internal/models"
)

// Result is the extraction output contract consumed by the pipeline: raw
// text, an advisory confidence, and whatever structured emissions data the
// field parser recognized. Confidence never gates anything downstream; a
// low-confidence extraction is still aggregated, merely flagged.
type Result struct {
	Text       string
	Confidence float64 // 0.0-1.0
	Extraction *models.Extraction
	INN        string
	Provider   string
	Pages      int
}

// Extractor turns raw document bytes into a Result.
type Extractor interface {
	CanProcess(mimeType string) bool
	Extract(ctx context.Context, data []byte) (*Result, error)
	Provider() string
	Close() error
}

// ClassifiedError separates transient failures (worth a queue retry) from
// permanent ones (corrupted file, unsupported content).
type ClassifiedError struct {
	err       error
	transient bool
}

func (e *ClassifiedError) Error() string { return e.err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.err }

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &ClassifiedError{err: err, transient: true}
}

// Permanent wraps an error as not retryable.
func Permanent(err error) error {
	return &ClassifiedError{err: err, transient: false}
}

// IsTransient reports whether the failure is worth retrying. Unclassified
// errors count as transient; a wasted retry is cheaper than dropping a
// recoverable document.
func IsTransient(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.transient
	}
	return true
}

// ErrorType names the failure class for the persisted ocrData payload.
func ErrorType(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
