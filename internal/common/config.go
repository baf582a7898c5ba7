package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Service  ServiceConfig
	Batch    BatchConfig
	Bulk     BulkConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServiceConfig points at the remote upload/extraction/record API.
type ServiceConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	UserID  string
}

// BatchConfig tunes sequential processing and retries.
type BatchConfig struct {
	InterItemDelay    time.Duration
	RetryDelays       []time.Duration
	MaxRetries        int
	CompressThreshold int
	MaxImageDimension int
	JPEGQuality       int
	ContextHint       string
}

// BulkConfig caps bulk operations over selections.
type BulkConfig struct {
	ReverifyMax int
	DeleteMax   int // 0 = unlimited
	PageSize    int
}

// StorageConfig enables a local upload target instead of the remote one.
type StorageConfig struct {
	LocalDir string
}

// OCRConfig selects the local tesseract extractor instead of the remote one.
// It needs StorageConfig.LocalDir so that proof refs resolve to files.
type OCRConfig struct {
	Enabled       bool
	Tesseract     string
	Lang          string
	TessdataDir   string
	PSM           int
	TSVConfidence bool
}

// LogConfig controls the slog handler built by the CLI.
type LogConfig struct {
	Level string
	File  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_MAX_CONN_IDLE_TIME", 5*time.Minute)
	v.SetDefault("DB_DIAL_TIMEOUT", 3*time.Second)
	v.SetDefault("DB_STATEMENT_TIMEOUT", time.Duration(0))

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("API_TOKEN", "")
	v.SetDefault("API_TIMEOUT", 45*time.Second)
	v.SetDefault("USER_ID", "")

	v.SetDefault("BATCH_INTER_ITEM_DELAY", 400*time.Millisecond)
	v.SetDefault("BATCH_RETRY_DELAYS", "5s,10s,20s")
	v.SetDefault("BATCH_MAX_RETRIES", 3)
	v.SetDefault("BATCH_COMPRESS_THRESHOLD", constants.DefaultCompressThreshold)
	v.SetDefault("BATCH_MAX_IMAGE_DIMENSION", constants.DefaultMaxImageDimension)
	v.SetDefault("BATCH_JPEG_QUALITY", constants.DefaultJPEGQuality)
	v.SetDefault("BATCH_CONTEXT_HINT", "daily step count screenshot")

	v.SetDefault("BULK_REVERIFY_MAX", 50)
	v.SetDefault("BULK_DELETE_MAX", 0)
	v.SetDefault("BULK_PAGE_SIZE", 50)

	v.SetDefault("STORAGE_LOCAL_DIR", "")
	v.SetDefault("OCR_ENABLED", false)
	v.SetDefault("OCR_TESSERACT", "tesseract")
	v.SetDefault("OCR_LANG", "eng")
	v.SetDefault("OCR_TESSDATA_DIR", "")
	v.SetDefault("OCR_PSM", 11)
	v.SetDefault("OCR_TSV_CONFIDENCE", true)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
}

// LoadConfig loads configuration from environment variables.
// If cfgFile is non-empty it is read first; environment values win.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, NewAppError("CONFIG_ERROR", "read config file", err)
			}
		}
	}

	delays, err := parseDurations(v.GetString("BATCH_RETRY_DELAYS"))
	if err != nil {
		return nil, NewAppError("CONFIG_ERROR", "BATCH_RETRY_DELAYS", err)
	}

	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("DB_URL"),
			MaxConns:         v.GetInt32("DB_MAX_CONNS"),
			MinConns:         v.GetInt32("DB_MIN_CONNS"),
			MaxConnLifetime:  v.GetDuration("DB_MAX_CONN_LIFETIME"),
			MaxConnIdleTime:  v.GetDuration("DB_MAX_CONN_IDLE_TIME"),
			DialTimeout:      v.GetDuration("DB_DIAL_TIMEOUT"),
			StatementTimeout: v.GetDuration("DB_STATEMENT_TIMEOUT"),
		},
		Service: ServiceConfig{
			BaseURL: v.GetString("API_BASE_URL"),
			Token:   v.GetString("API_TOKEN"),
			Timeout: v.GetDuration("API_TIMEOUT"),
			UserID:  v.GetString("USER_ID"),
		},
		Batch: BatchConfig{
			InterItemDelay:    v.GetDuration("BATCH_INTER_ITEM_DELAY"),
			RetryDelays:       delays,
			MaxRetries:        v.GetInt("BATCH_MAX_RETRIES"),
			CompressThreshold: v.GetInt("BATCH_COMPRESS_THRESHOLD"),
			MaxImageDimension: v.GetInt("BATCH_MAX_IMAGE_DIMENSION"),
			JPEGQuality:       v.GetInt("BATCH_JPEG_QUALITY"),
			ContextHint:       v.GetString("BATCH_CONTEXT_HINT"),
		},
		Bulk: BulkConfig{
			ReverifyMax: v.GetInt("BULK_REVERIFY_MAX"),
			DeleteMax:   v.GetInt("BULK_DELETE_MAX"),
			PageSize:    v.GetInt("BULK_PAGE_SIZE"),
		},
		Storage: StorageConfig{
			LocalDir: v.GetString("STORAGE_LOCAL_DIR"),
		},
		OCR: OCRConfig{
			Enabled:       v.GetBool("OCR_ENABLED"),
			Tesseract:     v.GetString("OCR_TESSERACT"),
			Lang:          v.GetString("OCR_LANG"),
			TessdataDir:   v.GetString("OCR_TESSDATA_DIR"),
			PSM:           v.GetInt("OCR_PSM"),
			TSVConfidence: v.GetBool("OCR_TSV_CONFIDENCE"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}, nil
}

// Local reports whether every collaborator runs in-process, so the remote
// service is never contacted.
func (c *Config) Local() bool {
	return c.Database.DSN != "" && c.Storage.LocalDir != "" && c.OCR.Enabled
}

func parseDurations(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.OCR.Enabled && c.Storage.LocalDir == "" {
		return NewAppError("CONFIG_ERROR", "OCR_ENABLED requires STORAGE_LOCAL_DIR", ErrInvalidInput)
	}
	if c.Service.BaseURL == "" && !c.Local() {
		return NewAppError("CONFIG_ERROR", "API_BASE_URL is required", ErrInvalidInput)
	}
	if c.Batch.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "BATCH_MAX_RETRIES must not be negative", ErrInvalidInput)
	}
	if c.Batch.MaxRetries > 0 && len(c.Batch.RetryDelays) == 0 {
		return NewAppError("CONFIG_ERROR", "BATCH_RETRY_DELAYS is required when retries are enabled", ErrInvalidInput)
	}
	for i := 1; i < len(c.Batch.RetryDelays); i++ {
		if c.Batch.RetryDelays[i] < c.Batch.RetryDelays[i-1] {
			return NewAppError("CONFIG_ERROR", "BATCH_RETRY_DELAYS must be non-decreasing", ErrInvalidInput)
		}
	}
	if c.Batch.JPEGQuality < 1 || c.Batch.JPEGQuality > 100 {
		return NewAppError("CONFIG_ERROR", "BATCH_JPEG_QUALITY must be between 1 and 100", ErrInvalidInput)
	}
	if c.Bulk.ReverifyMax <= 0 {
		return NewAppError("CONFIG_ERROR", "BULK_REVERIFY_MAX must be positive", ErrInvalidInput)
	}
	if c.Bulk.PageSize <= 0 {
		return NewAppError("CONFIG_ERROR", "BULK_PAGE_SIZE must be positive", ErrInvalidInput)
	}
	return nil
}
