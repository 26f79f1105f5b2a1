// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage locations, upstream AI/search/mail providers, auth
// settings, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig describes one OpenAI-compatible endpoint.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ReplyConfig tunes reply generation.
type ReplyConfig struct {
	MaxTokens          int
	Temperature        float32
	MaxHistoryMessages int
	MaxPromptRunes     int
	RetryAttempts      int
	RetryDelay         time.Duration
}

// SearchConfig configures the web-search provider.
type SearchConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// WeatherConfig configures weather lookups.
type WeatherConfig struct {
	DefaultCity string
	CacheTTL    time.Duration
}

// AuthConfig configures account tokens and verification codes.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
	CodeTTL   time.Duration
}

// SMTPConfig configures outbound mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool // false means implicit TLS (port 465)
}

// UploadConfig bounds multipart uploads.
type UploadConfig struct {
	Dir          string
	MaxFileBytes int64
	MaxFiles     int
}

// VoiceConfig configures speech-to-text.
type VoiceConfig struct {
	Enabled        bool
	Model          string
	MaxFileBytes   int64
	AllowedFormats []string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // long enough for streamed replies
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath  string // SQLite path (idempotency, upload metadata)
	DataDir string // flat JSON files (users, codes, chats)

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration

	// Observability
	OTEL OTELConfig

	// Upstreams
	LLM         LLMConfig
	Reasoning   LLMConfig
	VisionModel string
	Reply       ReplyConfig
	Search      SearchConfig
	Weather     WeatherConfig

	// Accounts and mail
	Auth AuthConfig
	SMTP SMTPConfig

	// Files
	Upload UploadConfig
	Voice  VoiceConfig
}

// LoadDotenv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	llmBase := getenv("OPENAI_BASE_URL", "https://api.siliconflow.cn/v1")
	llmKey := getenv("OPENAI_API_KEY", "")
	smtpPort := getint("SMTP_PORT", 587)

	cfg := Config{
		// Server
		Port:              getenv("PORT", "3002"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Storage
		DBPath:  getenv("DB_PATH", "data/app.db"),
		DataDir: getenv("DATA_DIR", "data"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ai-xiaozi"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		LLM: LLMConfig{
			APIKey:  llmKey,
			BaseURL: llmBase,
			Model:   getenv("OPENAI_MODEL", "Qwen/Qwen2.5-7B-Instruct"),
			Timeout: getdur("OPENAI_TIMEOUT", 60*time.Second),
		},
		Reasoning: LLMConfig{
			APIKey:  getenv("DEEPSEEK_API_KEY", llmKey),
			BaseURL: getenv("DEEPSEEK_BASE_URL", llmBase),
			Model:   getenv("DEEPSEEK_MODEL", "deepseek-ai/DeepSeek-R1"),
			Timeout: getdur("DEEPSEEK_TIMEOUT", 120*time.Second),
		},
		VisionModel: getenv("VISION_MODEL", "Qwen/Qwen2-VL-72B-Instruct"),
		Reply: ReplyConfig{
			MaxTokens:          getint("AI_MAX_TOKENS", 1000),
			Temperature:        float32(getfloat("AI_TEMPERATURE", 0.7)),
			MaxHistoryMessages: getint("AI_MAX_HISTORY", 20),
			MaxPromptRunes:     getint("AI_MAX_PROMPT_RUNES", 4000),
			RetryAttempts:      getint("AI_RETRY_ATTEMPTS", 3),
			RetryDelay:         getdur("AI_RETRY_DELAY", 800*time.Millisecond),
		},
		Search: SearchConfig{
			Enabled: getbool("SEARCH_ENABLED", false),
			APIKey:  getenv("SEARCH_API_KEY", ""),
			BaseURL: strings.TrimRight(getenv("SEARCH_BASE_URL", "https://api.bochaai.com/v1"), "/"),
			Timeout: getdur("SEARCH_TIMEOUT", 10*time.Second),
		},
		Weather: WeatherConfig{
			DefaultCity: getenv("WEATHER_DEFAULT_CITY", "北京"),
			CacheTTL:    getdur("WEATHER_CACHE_TTL", 10*time.Minute),
		},

		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", "dev-only-secret-change-me-in-production"),
			JWTIssuer: getenv("JWT_ISSUER", "ai-xiaozi"),
			TokenTTL:  getdur("JWT_TTL", 7*24*time.Hour),
			CodeTTL:   getdur("VERIFICATION_CODE_TTL", 10*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", "smtp.qq.com"),
			Port:     smtpPort,
			Username: getenv("SMTP_USER", ""),
			Password: getenv("SMTP_PASS", ""),
			From:     getenv("EMAIL_FROM", ""),
			StartTLS: getbool("SMTP_STARTTLS", smtpPort != 465),
		},

		Upload: UploadConfig{
			Dir:          getenv("UPLOAD_DIR", "uploads"),
			MaxFileBytes: int64(getint("UPLOAD_MAX_BYTES", 100<<20)),
			MaxFiles:     getint("UPLOAD_MAX_FILES", 10),
		},
		Voice: VoiceConfig{
			Enabled:        getbool("VOICE_ENABLED", true),
			Model:          getenv("VOICE_MODEL", "FunAudioLLM/SenseVoiceSmall"),
			MaxFileBytes:   int64(getint("VOICE_MAX_BYTES", 25<<20)),
			AllowedFormats: splitCSV(getenv("VOICE_FORMATS", "mp3,wav,m4a,webm,ogg,flac,aac")),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return cfg, errors.New("DATA_DIR must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.Reply.RetryAttempts < 1 {
		return cfg, errors.New("AI_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.Reply.RetryDelay < 0 {
		return cfg, errors.New("AI_RETRY_DELAY must be >= 0")
	}
	if cfg.Reply.MaxHistoryMessages < 1 {
		return cfg, errors.New("AI_MAX_HISTORY must be >= 1")
	}
	if cfg.Reply.Temperature < 0 || cfg.Reply.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be in [0,2]")
	}
	if len(cfg.Auth.JWTSecret) < 16 {
		return cfg, errors.New("JWT_SECRET must be at least 16 characters")
	}
	if cfg.Auth.TokenTTL <= 0 || cfg.Auth.CodeTTL <= 0 {
		return cfg, errors.New("JWT_TTL and VERIFICATION_CODE_TTL must be > 0")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		return cfg, errors.New("SMTP_PORT must be a valid port")
	}
	if cfg.Upload.MaxFileBytes <= 0 || cfg.Upload.MaxFiles < 1 {
		return cfg, errors.New("UPLOAD_MAX_BYTES and UPLOAD_MAX_FILES must be positive")
	}
	if cfg.Weather.CacheTTL <= 0 {
		return cfg, errors.New("WEATHER_CACHE_TTL must be > 0")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
