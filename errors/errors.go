package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryPipeline  Category = "pipeline"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
	CategoryInput     Category = "input"
	CategoryFetch     Category = "fetch"
	CategoryTransform Category = "transform"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name, e.g. "source.fetch"
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable ProcessingError. The engine never retries on
// its own; callers use IsRetryable to decide whether to issue a fresh load.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context. A nil err stays nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether any ProcessingError in err's chain is a
// transient failure, so an engine stage wrapping a transient fetch error
// stays retryable.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	for errors.As(err, &pe) {
		if pe.Retryable {
			return true
		}
		err = pe.Err
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of the outermost ProcessingError in err's
// chain, or the empty string.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat     = errors.New("unsupported image format")
	ErrInvalidDimensions     = errors.New("invalid dimensions")
	ErrEmptyInput            = errors.New("empty input")
	ErrContextCanceled       = errors.New("context canceled")
	ErrWorkerPoolFull        = errors.New("worker pool queue full")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrDecodeFailed          = errors.New("decoder produced no resource")
	ErrReleaseWithoutAcquire = errors.New("release of a resource with no outstanding reference")
	ErrEngineStopped         = errors.New("engine stopped")
	ErrDiskCacheLocked       = errors.New("disk cache directory is locked by another process")
)
