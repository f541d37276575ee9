package core

import (
	"context"
	"io"
)

// Resource is a decoded payload shared by the memory cache, in-flight jobs and
// callbacks. Implementations must be pointer types: the reference counter
// tracks them by identity.
type Resource interface {
	Value() any
	// Size estimates the bytes held, for memory cache accounting.
	Size() int
	// Recycle releases the payload. Only the reference counter calls it,
	// exactly once, after the last holder released.
	Recycle()
}

// Fetcher retrieves raw bytes for one model. LoadData may block on network
// or disk I/O; Cancel must make it return promptly when possible.
type Fetcher interface {
	LoadData(ctx context.Context, priority Priority) (io.ReadCloser, error)
	Cancel()
	// Cleanup releases anything LoadData opened. The engine calls it exactly
	// once per Load that got a status or a memory hit, whether or not
	// LoadData ran.
	Cleanup()
}

// Decoder turns a byte stream into a Resource. A nil Resource with a nil
// error is reported as a decode failure.
type Decoder interface {
	ID() string
	Decode(ctx context.Context, r io.Reader, width, height int) (Resource, error)
}

// Transformation maps a Resource to a Resource, possibly the same one.
type Transformation interface {
	ID() string
	Transform(ctx context.Context, res Resource, width, height int) (Resource, error)
}

// Encoder writes a Resource to w. Only used for disk cache writes.
type Encoder interface {
	ID() string
	Encode(ctx context.Context, res Resource, w io.Writer) error
}

// DiskCache is a key to byte-stream store consulted before fetching.
// Implementations live in adapters/storage/.
type DiskCache interface {
	// Get returns ok=false on a miss. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, bool, error)
	// Put stores whatever write produces. A failed write leaves no entry.
	Put(ctx context.Context, key string, write func(w io.Writer) error) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is a byte-bounded LRU of decoded resources. It never touches
// reference counts; the removal listener does.
type MemoryCache interface {
	Get(key Key) (Resource, bool)
	Put(key Key, res Resource)
	Remove(key Key) (Resource, bool)
	Clear()
	SetRemovalListener(fn func(key Key, res Resource))
	Size() int64
	MaxSize() int64
	Len() int
}

// ResourceCallback receives the outcome of a load, exactly once.
type ResourceCallback interface {
	OnResourceReady(res Resource)
	OnException(err error)
}

// CallbackFuncs adapts two functions to ResourceCallback. Either may be nil.
type CallbackFuncs struct {
	Ready func(res Resource)
	Fail  func(err error)
}

func (c CallbackFuncs) OnResourceReady(res Resource) {
	if c.Ready != nil {
		c.Ready(res)
	}
}

func (c CallbackFuncs) OnException(err error) {
	if c.Fail != nil {
		c.Fail(err)
	}
}

// FormatDecoder decodes one encoded image format into ImageData.
// Implementations live in adapters/decoder/.
type FormatDecoder interface {
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	CanDecode(format Format) bool
}

// FormatEncoder serialises ImageData in a target format.
// Implementations live in adapters/encoder/.
type FormatEncoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality    int  // 1-100; 0 = use encoder default
	Lossless   bool // WebP / PNG lossless mode
	StripEXIF  bool
	Interlaced bool // progressive JPEG / interlaced PNG
}

// MetricsCollector receives observations from the engine and pipelines.
type MetricsCollector interface {
	RecordProcessingTime(stage string, d interface{ Seconds() float64 })
	// RecordThroughput adds the size of a freshly decoded resource.
	RecordThroughput(bytes int64)
	// RecordMemory reports the memory cache size after an insert.
	RecordMemory(bytes int64)
	RecordError(stage string, category string)
	RecordCacheLookup(tier string, hit bool)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to codec implementations.
type Registry interface {
	DecoderFor(format Format) (FormatDecoder, bool)
	EncoderFor(format Format) (FormatEncoder, bool)
	RegisterDecoder(format Format, d FormatDecoder)
	RegisterEncoder(format Format, e FormatEncoder)
}
