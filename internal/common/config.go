package common

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultOCRModel         = "abiruyt/text-extract-ocr:a524caeaa23495bc9edc805ab08ab5fe943afd3febed884a4f3747aa32e9cd61"
	DefaultReplicateModel   = "meta/meta-llama-3-70b-instruct"
	DefaultOpenAIModel      = "gpt-4o-mini"
	DefaultGeminiModel      = "gemini-2.0-flash"
	DefaultReplicateBaseURL = "https://api.replicate.com"
)

// Structuring providers.
const (
	ProviderReplicate = "replicate"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Ledger drivers.
const (
	LedgerNone     = "none"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Replicate   ReplicateConfig
	Structuring StructuringConfig
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
	Pipeline    PipelineConfig
	Output      OutputConfig
	S3          S3Config
	Ledger      LedgerConfig
	Log         LogConfig
}

// ReplicateConfig holds the hosted inference credentials and the OCR model.
type ReplicateConfig struct {
	APIToken string
	BaseURL  string
	OCRModel string
}

// StructuringConfig selects the streaming provider and its generation parameters.
type StructuringConfig struct {
	Provider        string
	Model           string
	Temperature     float64
	TopP            float64
	PresencePenalty float64
	MinTokens       int
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
}

// PipelineConfig holds batch execution settings
type PipelineConfig struct {
	InputDir         string
	Workers          int
	RemoteTimeout    time.Duration
	RetryMaxAttempts int
}

// OutputConfig holds the sinks for a finished batch
type OutputConfig struct {
	JSONPath string
	XLSXPath string
	S3Bucket string
	S3Key    string
}

type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type LedgerConfig struct {
	Driver string
	DSN    string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig reads an optional .env file, then environment variables over defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError(KindInvalidInput, "failed to read .env", err)
	}
	return loadFrom(newViper()), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("REPLICATE_BASE_URL", DefaultReplicateBaseURL)
	v.SetDefault("OCR_MODEL", DefaultOCRModel)
	v.SetDefault("STRUCTURING_PROVIDER", ProviderReplicate)
	v.SetDefault("LLM_TEMPERATURE", 0.6)
	v.SetDefault("LLM_TOP_P", 0.9)
	v.SetDefault("LLM_PRESENCE_PENALTY", 1.15)
	v.SetDefault("LLM_MIN_TOKENS", 0)
	v.SetDefault("INPUT_DIR", "handwritten_docs/images")
	v.SetDefault("OUTPUT_PATH", "output_pet_records.json")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("PIPELINE_WORKERS", 1)
	v.SetDefault("REMOTE_TIMEOUT", 2*time.Minute)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("LEDGER_DRIVER", LedgerNone)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.AutomaticEnv()
	return v
}

func loadFrom(v *viper.Viper) *Config {
	provider := strings.ToLower(strings.TrimSpace(v.GetString("STRUCTURING_PROVIDER")))
	model := v.GetString("STRUCTURING_MODEL")
	if model == "" {
		model = defaultModelFor(provider)
	}

	return &Config{
		Replicate: ReplicateConfig{
			APIToken: v.GetString("REPLICATE_API_TOKEN"),
			BaseURL:  v.GetString("REPLICATE_BASE_URL"),
			OCRModel: v.GetString("OCR_MODEL"),
		},
		Structuring: StructuringConfig{
			Provider:        provider,
			Model:           model,
			Temperature:     v.GetFloat64("LLM_TEMPERATURE"),
			TopP:            v.GetFloat64("LLM_TOP_P"),
			PresencePenalty: v.GetFloat64("LLM_PRESENCE_PENALTY"),
			MinTokens:       v.GetInt("LLM_MIN_TOKENS"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("OPENAI_API_KEY"),
			BaseURL: v.GetString("OPENAI_BASE_URL"),
		},
		Gemini: GeminiConfig{
			APIKey: v.GetString("GEMINI_API_KEY"),
		},
		Pipeline: PipelineConfig{
			InputDir:         v.GetString("INPUT_DIR"),
			Workers:          v.GetInt("PIPELINE_WORKERS"),
			RemoteTimeout:    v.GetDuration("REMOTE_TIMEOUT"),
			RetryMaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
		},
		Output: OutputConfig{
			JSONPath: v.GetString("OUTPUT_PATH"),
			XLSXPath: v.GetString("OUTPUT_XLSX_PATH"),
			S3Bucket: v.GetString("OUTPUT_S3_BUCKET"),
			S3Key:    v.GetString("OUTPUT_S3_KEY"),
		},
		S3: S3Config{
			Region:          v.GetString("S3_REGION"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		},
		Ledger: LedgerConfig{
			Driver: strings.ToLower(v.GetString("LEDGER_DRIVER")),
			DSN:    v.GetString("LEDGER_DSN"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderGemini:
		return DefaultGeminiModel
	default:
		return DefaultReplicateModel
	}
}

// Validate checks the loaded configuration. A missing credential is fatal at startup.
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("REPLICATE_API_TOKEN", c.Replicate.APIToken, Required)
	v.Field("OCR_MODEL", c.Replicate.OCRModel, Required)
	v.Field("STRUCTURING_PROVIDER", c.Structuring.Provider, OneOf(ProviderReplicate, ProviderOpenAI, ProviderGemini))
	v.Field("STRUCTURING_MODEL", c.Structuring.Model, Required)
	switch c.Structuring.Provider {
	case ProviderOpenAI:
		v.Field("OPENAI_API_KEY", c.OpenAI.APIKey, Required)
	case ProviderGemini:
		v.Field("GEMINI_API_KEY", c.Gemini.APIKey, Required)
	}
	v.Field("PIPELINE_WORKERS", c.Pipeline.Workers, Positive)
	v.Field("RETRY_MAX_ATTEMPTS", c.Pipeline.RetryMaxAttempts, Positive)
	v.Field("REMOTE_TIMEOUT", c.Pipeline.RemoteTimeout, Positive)
	v.Field("OUTPUT_PATH", c.Output.JSONPath, Required)
	v.Field("LEDGER_DRIVER", c.Ledger.Driver, OneOf(LedgerNone, LedgerSQLite, LedgerPostgres))
	if c.Ledger.Driver == LedgerPostgres || c.Ledger.Driver == LedgerSQLite {
		v.Field("LEDGER_DSN", c.Ledger.DSN, Required)
	}
	if c.Output.S3Bucket != "" {
		v.Field("OUTPUT_S3_KEY", c.Output.S3Key, Required)
	}
	return ValidateAndReturnError(v)
}
