// Package config loads store settings from a file and READSTORE_*
// environment variables and turns them into store options, a logger and
// a blob store for publishing partitions.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/readstore"
	"github.com/hupe1980/readstore/blobstore"
	"github.com/hupe1980/readstore/blobstore/minio"
	"github.com/hupe1980/readstore/blobstore/s3"
)

// EnvPrefix prefixes every environment override, e.g. READSTORE_STORE_COMPRESSION.
const EnvPrefix = "READSTORE"

// ErrNoRemote is returned by BlobStore when no remote is configured.
var ErrNoRemote = errors.New("config: no remote configured")

// StoreConfig holds the settings applied when a store is created or opened.
type StoreConfig struct {
	// directory of the store
	Path string `mapstructure:"path"`

	// reads up to this length are packed with their payload inline
	PackedMaxLength uint32 `mapstructure:"packed-max-length"`

	// reads up to this length are normal, longer ones strobe
	NormalMaxLength uint32 `mapstructure:"normal-max-length"`

	// blob payload codec: none, lz4, zstd or snappy
	Compression string `mapstructure:"compression"`

	// initial slot count of the UID map
	UIDCapacity int `mapstructure:"uid-capacity"`

	// partition files finalised or transferred at once
	PartitionConcurrency int `mapstructure:"partition-concurrency"`

	// bytes of decoded payload kept in memory; 0 disables the cache
	PayloadCache int64 `mapstructure:"payload-cache"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	// debug, info, warn or error
	Level string `mapstructure:"level"`

	// text or json
	Format string `mapstructure:"format"`
}

// RemoteConfig describes where partitions are published.
type RemoteConfig struct {
	// local, memory, s3 or minio; empty disables publishing
	Kind string `mapstructure:"kind"`

	// root directory of a local remote
	Path string `mapstructure:"path"`

	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	Secure    bool   `mapstructure:"secure"`
}

// Config is the root-level settings struct.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
	Remote RemoteConfig `mapstructure:"remote"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "")
	v.SetDefault("store.packed-max-length", readstore.DefaultPackedMaxLength)
	v.SetDefault("store.normal-max-length", readstore.DefaultNormalMaxLength)
	v.SetDefault("store.compression", "none")
	v.SetDefault("store.uid-capacity", readstore.DefaultUIDCapacity)
	v.SetDefault("store.partition-concurrency", readstore.DefaultPartitionConcurrency)
	v.SetDefault("store.payload-cache", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Every key needs a default for AutomaticEnv to reach it through Unmarshal.
	for _, key := range []string{"kind", "path", "bucket", "prefix", "endpoint", "region", "access-key", "secret-key"} {
		v.SetDefault("remote."+key, "")
	}
	v.SetDefault("remote.secure", true)
}

// Load reads the configuration file at path, if any, and applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values that cannot be checked lazily.
func (c *Config) Validate() error {
	if _, err := readstore.ParseCompression(c.Store.Compression); err != nil {
		return fmt.Errorf("config: store.compression: %w", err)
	}
	if c.Store.PackedMaxLength == 0 || c.Store.PackedMaxLength >= c.Store.NormalMaxLength {
		return fmt.Errorf("config: packed-max-length %d must be positive and below normal-max-length %d",
			c.Store.PackedMaxLength, c.Store.NormalMaxLength)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q: want text or json", c.Log.Format)
	}
	switch c.Remote.Kind {
	case "", "memory":
	case "local":
		if c.Remote.Path == "" {
			return errors.New("config: remote.path is required for a local remote")
		}
	case "s3", "minio":
		if c.Remote.Bucket == "" {
			return fmt.Errorf("config: remote.bucket is required for a %s remote", c.Remote.Kind)
		}
	default:
		return fmt.Errorf("config: unknown remote.kind %q", c.Remote.Kind)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// Logger builds the logger described by the log section. Output goes to stderr.
func (c *Config) Logger() (*readstore.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return readstore.NewLogger(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return readstore.NewLogger(slog.NewTextHandler(os.Stderr, opts)), nil
}

// Options returns the store options of the configuration, logger included.
func (c *Config) Options() ([]readstore.Option, error) {
	codec, err := readstore.ParseCompression(c.Store.Compression)
	if err != nil {
		return nil, err
	}
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	opts := []readstore.Option{
		readstore.WithLogger(logger),
		readstore.WithPackedMaxLength(c.Store.PackedMaxLength),
		readstore.WithNormalMaxLength(c.Store.NormalMaxLength),
		readstore.WithCompression(codec),
	}
	if c.Store.UIDCapacity > 0 {
		opts = append(opts, readstore.WithUIDCapacity(c.Store.UIDCapacity))
	}
	if c.Store.PartitionConcurrency > 0 {
		opts = append(opts, readstore.WithPartitionConcurrency(c.Store.PartitionConcurrency))
	}
	if c.Store.PayloadCache > 0 {
		opts = append(opts, readstore.WithPayloadCache(c.Store.PayloadCache))
	}
	return opts, nil
}

// BlobStore connects to the configured remote.
func (c *Config) BlobStore(ctx context.Context) (blobstore.BlobStore, error) {
	r := c.Remote
	switch r.Kind {
	case "":
		return nil, ErrNoRemote
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "local":
		return blobstore.NewLocalStore(r.Path), nil
	case "s3":
		var opts []s3.Option
		if r.Prefix != "" {
			opts = append(opts, s3.WithPrefix(r.Prefix))
		}
		if r.Region != "" {
			opts = append(opts, s3.WithRegion(r.Region))
		}
		if r.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(r.Endpoint))
		}
		if r.AccessKey != "" {
			opts = append(opts, s3.WithStaticCredentials(r.AccessKey, r.SecretKey))
		}
		return s3.New(ctx, r.Bucket, opts...)
	case "minio":
		return minio.New(ctx, minio.Config{
			Endpoint:  r.Endpoint,
			AccessKey: r.AccessKey,
			SecretKey: r.SecretKey,
			Region:    r.Region,
			Secure:    r.Secure,
			Bucket:    r.Bucket,
			Prefix:    r.Prefix,
		})
	default:
		return nil, fmt.Errorf("config: unknown remote.kind %q", r.Kind)
	}
}
