// Package config loads process configuration from environment variables.
// Both cmd/supervisord and cmd/supervisorctl call Load with their ServiceType
// so that shared env vars (OTel, bus, LLM) are parsed once in one place.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServiceType selects which process is loading configuration. The default
// OTel service name suffix is the only value that varies by process.
type ServiceType string

const (
	ServiceTypeSupervisord  ServiceType = "supervisord"
	ServiceTypeSupervisorctl ServiceType = "supervisorctl"
)

// Config holds all application configuration.
type Config struct {
	Env  string // development, staging, production
	Port string // supervisord HTTP port

	Service ServiceType

	OTel       OTelConfig
	Bus        BusConfig
	Knowledge  KnowledgeConfig
	PlannerLLM LLMConfig
	CoderLLM   LLMConfig
	Researcher LLMConfig

	RunsDir     string // root directory for per-job directories (C9)
	StateDir    string // directory for chat_sessions.json / goc.service.json / goc.global.json (C2/C4)
	AdminAPIKey string

	MaxConcurrency          int           // MAX_CONCURRENCY, default 1
	DebounceDefault         time.Duration // default debounce window for the run manager drain loop
	InterruptAckMinGap      time.Duration // minimum gap between interrupt acks per chat
	AutoSuggestGPTPrompt    bool
	GOCAutoActivateProgress bool
	GOCTrackingChunkMaxLen  int
	GOCJobThreadPrefix      string
	GOCDebug                bool
}

// OTelConfig configures the OpenTelemetry SDK. Mirrors the shape common/otel.Setup expects.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool { return c.Endpoint != "" }

// BusConfig configures the optional cross-process interrupt fan-out (internal/bus).
type BusConfig struct {
	RedisURL        string
	ChannelPrefix   string
	TraceHeaderName string
}

// KnowledgeConfig configures the C3 knowledge-store HTTP client.
type KnowledgeConfig struct {
	APIBase    string
	ServiceKey string
	UIBase     string
	UITokenTTL time.Duration
}

// LLMConfig configures one of the three AgentProvider bindings (planner/coder/researcher).
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (c LLMConfig) Enabled() bool { return c.APIKey != "" }

// Load loads configuration from environment variables, applying development-friendly
// defaults. A non-nil error is returned only for malformed (not missing) values.
func Load(service ServiceType) (Config, error) {
	cfg := Config{
		Env:     getEnv("SUPERVISOR_ENV", "development"),
		Port:    getEnv("PORT", "8080"),
		Service: service,
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "supervisor-"+string(service)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Bus: BusConfig{
			RedisURL:        getEnv("SUPERVISOR_REDIS_URL", ""),
			ChannelPrefix:   getEnv("SUPERVISOR_BUS_PREFIX", "supervisor:interrupt"),
			TraceHeaderName: getEnv("SUPERVISOR_TRACE_HEADER", "X-Trace-Id"),
		},
		Knowledge: KnowledgeConfig{
			APIBase:    getEnv("GOC_API_BASE", ""),
			ServiceKey: getEnv("GOC_SERVICE_KEY", ""),
			UIBase:     getEnv("GOC_UI_BASE", ""),
			UITokenTTL: time.Duration(getEnvInt("GOC_UI_TOKEN_TTL_SEC", 300)) * time.Second,
		},
		PlannerLLM: LLMConfig{
			APIKey:  getEnv("PLANNER_LLM_API_KEY", ""),
			BaseURL: getEnv("PLANNER_LLM_BASE_URL", ""),
			Model:   getEnv("PLANNER_LLM_MODEL", "gpt-5-codex"),
		},
		CoderLLM: LLMConfig{
			APIKey:  getEnv("CODER_LLM_API_KEY", getEnv("PLANNER_LLM_API_KEY", "")),
			BaseURL: getEnv("CODER_LLM_BASE_URL", ""),
			Model:   getEnv("CODER_LLM_MODEL", "gpt-5-codex"),
		},
		Researcher: LLMConfig{
			APIKey:  getEnv("RESEARCHER_LLM_API_KEY", getEnv("PLANNER_LLM_API_KEY", "")),
			BaseURL: getEnv("RESEARCHER_LLM_BASE_URL", ""),
			Model:   getEnv("RESEARCHER_LLM_MODEL", "gpt-4o-mini"),
		},
		RunsDir:                 getEnv("RUNS_DIR", "./runs"),
		StateDir:                getEnv("STATE_DIR", "./state"),
		AdminAPIKey:             getEnv("ADMIN_API_KEY", ""),
		MaxConcurrency:          getEnvInt("MAX_CONCURRENCY", 1),
		DebounceDefault:         time.Duration(getEnvInt("SUPERVISOR_DEBOUNCE_MS", 300)) * time.Millisecond,
		InterruptAckMinGap:      time.Duration(getEnvInt("SUPERVISOR_INTERRUPT_ACK_MIN_GAP_MS", 500)) * time.Millisecond,
		AutoSuggestGPTPrompt:    getEnvBool("AUTO_SUGGEST_GPT_PROMPT", false),
		GOCAutoActivateProgress: getEnvBool("GOC_AUTO_ACTIVATE_PROGRESS", true),
		GOCTrackingChunkMaxLen:  getEnvInt("GOC_TRACKING_CHUNK_MAX_LEN", 0),
		GOCJobThreadPrefix:      getEnv("GOC_JOB_THREAD_TITLE_PREFIX", "job:"),
		GOCDebug:                getEnvBool("GOC_DEBUG", false),
	}

	if cfg.MaxConcurrency < 1 {
		return Config{}, fmt.Errorf("MAX_CONCURRENCY must be >= 1, got %d", cfg.MaxConcurrency)
	}

	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
