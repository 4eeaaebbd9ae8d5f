package readstore

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hupe1980/readstore/internal/blobfile"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/model"
)

// Compression selects how blob payloads are stored.
type Compression = blobfile.Codec

const (
	CompressionNone   = blobfile.CodecNone
	CompressionLZ4    = blobfile.CodecLZ4
	CompressionZSTD   = blobfile.CodecZSTD
	CompressionSnappy = blobfile.CodecSnappy
)

// ParseCompression converts a configuration name ("none", "lz4", "zstd", "snappy").
func ParseCompression(s string) (Compression, error) {
	return blobfile.ParseCodec(s)
}

const (
	// DefaultPackedMaxLength is the longest read stored in the packed class.
	DefaultPackedMaxLength = 60
	// DefaultNormalMaxLength is the longest read stored in the normal class.
	DefaultNormalMaxLength = 2048
	// DefaultUIDCapacity pre-sizes the UID map of a new store.
	DefaultUIDCapacity = 1024
	// DefaultPartitionConcurrency bounds parallel partition finalisation and transfers.
	DefaultPartitionConcurrency = 4
)

type options struct {
	logger               *Logger
	metricsCollector     MetricsCollector
	fs                   fs.FileSystem
	packedMaxLength      uint32
	normalMaxLength      uint32
	compression          Compression
	uidCapacity          int
	encoder              model.Encoder
	fatal                func(error)
	partitionConcurrency int
	payloadCache         int64
}

// Option configures Create, Open and OpenPartition.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := readstore.NewJSONLogger(slog.LevelInfo)
//	st, _ := readstore.Open("./reads", readstore.ReadOnly, readstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
//	metrics := &readstore.BasicMetricsCollector{}
//	st, _ := readstore.Create("./reads", readstore.WithMetricsCollector(metrics))
//	// ... append reads ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithFileSystem replaces the file system used for writes.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithPackedMaxLength sets the longest read stored packed. Only Create uses it;
// an opened store keeps the thresholds it was created with.
func WithPackedMaxLength(n uint32) Option {
	return func(o *options) {
		o.packedMaxLength = n
	}
}

// WithNormalMaxLength sets the longest read stored normal. Longer reads are
// strobe. Only Create uses it.
func WithNormalMaxLength(n uint32) Option {
	return func(o *options) {
		o.normalMaxLength = n
	}
}

// WithCompression sets the blob codec of a new store.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithUIDCapacity pre-sizes the UID map of a new store to avoid growth events.
func WithUIDCapacity(n int) Option {
	return func(o *options) {
		o.uidCapacity = n
	}
}

// WithEncoder sets the sequence/quality encoder used by AppendRead and Read.
func WithEncoder(enc model.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithPayloadCache keeps up to capacity bytes of decoded blob payloads in
// memory. Zero, the default, disables the cache.
func WithPayloadCache(capacity int64) Option {
	return func(o *options) {
		o.payloadCache = capacity
	}
}

// WithFatalHandler replaces the handler invoked on a format mismatch at open.
// The default handler logs the error and exits with status 1.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) {
		o.fatal = fn
	}
}

// WithPartitionConcurrency bounds how many partition files are finalised or
// transferred at once.
func WithPartitionConcurrency(n int) Option {
	return func(o *options) {
		o.partitionConcurrency = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:               NoopLogger(),
		metricsCollector:     NoopMetricsCollector{},
		fs:                   fs.Default,
		packedMaxLength:      DefaultPackedMaxLength,
		normalMaxLength:      DefaultNormalMaxLength,
		compression:          CompressionNone,
		uidCapacity:          DefaultUIDCapacity,
		encoder:              model.QVEncoder{},
		partitionConcurrency: DefaultPartitionConcurrency,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.encoder == nil {
		o.encoder = model.QVEncoder{}
	}
	if o.partitionConcurrency <= 0 {
		o.partitionConcurrency = DefaultPartitionConcurrency
	}
	if o.fatal == nil {
		logger := o.logger
		o.fatal = func(err error) {
			logger.Error("fatal store error", "error", err)
			fmt.Fprintln(os.Stderr, "readstore: fatal:", err)
			os.Exit(1)
		}
	}
	return o
}
