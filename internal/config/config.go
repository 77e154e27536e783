// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Port        int    `koanf:"port"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	AmoCRMDomain  string        `koanf:"amocrm_domain"`
	AmoCRMToken   string        `koanf:"amocrm_access_token"`
	AmoCRMTimeout time.Duration `koanf:"amocrm_timeout"`
	Managers      string        `koanf:"managers"`

	AssemblyAIKey          string        `koanf:"assemblyai_api_key"`
	AssemblyAIBaseURL      string        `koanf:"assemblyai_base_url"`
	TranscribeLanguage     string        `koanf:"transcribe_language"`
	TranscribePollInterval time.Duration `koanf:"transcribe_poll_interval"`
	TranscribeMaxWait      time.Duration `koanf:"transcribe_max_wait"`

	LLMBaseURL          string        `koanf:"llm_base_url"`
	LLMAPIKey           string        `koanf:"llm_api_key"`
	LLMModel            string        `koanf:"llm_model"`
	LLMTimeout          time.Duration `koanf:"llm_timeout"`
	AnalysisTemperature float64       `koanf:"analysis_temperature"`
	TruncateTranscript  bool          `koanf:"truncate_transcript_for_analysis"`
	MaxTranscriptTokens int           `koanf:"max_transcript_tokens"`

	TelegramToken  string `koanf:"telegram_bot_token"`
	TelegramChatID string `koanf:"telegram_chat_id"`

	AMQPURL      string `koanf:"amqp_url"`
	AMQPExchange string `koanf:"amqp_exchange"`

	MinAudioBytes      int  `koanf:"min_audio_bytes"`
	MinTranscriptChars int  `koanf:"min_transcript_chars"`
	DedupCapacity      int  `koanf:"dedup_capacity"`
	TracingEnabled     bool `koanf:"tracing_enabled"`

	UseMockTranscribe bool `koanf:"use_mock_transcribe"`
	UseMockLLM        bool `koanf:"use_mock_llm"`
}

var defaults = map[string]interface{}{
	"port":                     8000,
	"environment":              "local",
	"log_level":                "info",
	"amocrm_timeout":           30 * time.Second,
	"transcribe_language":      "ru",
	"transcribe_poll_interval": 3 * time.Second,
	"transcribe_max_wait":      15 * time.Minute,
	"llm_model":                "gpt-4o-mini",
	"llm_timeout":              60 * time.Second,
	"analysis_temperature":     0.1,
	"max_transcript_tokens":    12000,
	"amqp_exchange":            "calls",
	"min_audio_bytes":          10000,
	"min_transcript_chars":     50,
	"dedup_capacity":           2000,
}

// Load reads .env (if present) and then the process environment. Variable
// names map to keys by lowercasing, so AMOCRM_DOMAIN becomes amocrm_domain.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, err
	}

	// OPENAI_* names predate the gateway settings
	if !k.Exists("llm_api_key") && k.Exists("openai_api_key") {
		k.Set("llm_api_key", k.String("openai_api_key"))
	}
	if !k.Exists("llm_model") && k.Exists("openai_model") {
		k.Set("llm_model", k.String("openai_model"))
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.ManagerNames(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Missing lists required settings that are unset. Absent values degrade the
// service rather than stop it, so callers only warn.
func (c *Config) Missing() []string {
	var out []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			out = append(out, name)
		}
	}
	check("AMOCRM_DOMAIN", c.AmoCRMDomain)
	check("AMOCRM_ACCESS_TOKEN", c.AmoCRMToken)
	if !c.UseMockTranscribe {
		check("ASSEMBLYAI_API_KEY", c.AssemblyAIKey)
	}
	if !c.UseMockLLM {
		check("LLM_API_KEY", c.LLMAPIKey)
	}
	check("TELEGRAM_BOT_TOKEN", c.TelegramToken)
	check("TELEGRAM_CHAT_ID", c.TelegramChatID)
	return out
}

// ManagerNames parses MANAGERS ("123:Анна,456:Олег") into a user id map.
func (c *Config) ManagerNames() (map[int64]string, error) {
	out := map[int64]string{}
	for _, pair := range strings.Split(c.Managers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("config: MANAGERS entry %q is not id:name", pair)
		}
		uid, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: MANAGERS entry %q: %w", pair, err)
		}
		out[uid] = strings.TrimSpace(name)
	}
	return out, nil
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
