package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Roles        map[string]Role    `json:"roles"` // planner, reevaluator, composer, content
	Gateway      GatewayConfig      `json:"gateway"`
	Database     DatabaseConfig     `json:"database"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Agents       AgentsConfig       `json:"agents"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Model    string            `json:"model,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Role binds an orchestration role to a provider and model.
type Role struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// OrchestratorConfig tunes the coordination loop.
type OrchestratorConfig struct {
	MaxSteps           int    `json:"max_steps"`
	StepTimeoutSeconds int    `json:"step_timeout_seconds"`
	DraftTTLMinutes    int    `json:"draft_ttl_minutes"`
	HistoryLimit       int    `json:"history_limit"`
	MigrationsDir      string `json:"migrations_dir"`
}

// StepTimeout returns the per-step budget as a duration.
func (o OrchestratorConfig) StepTimeout() time.Duration {
	if o.StepTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.StepTimeoutSeconds) * time.Second
}

// DraftTTL returns how long a confirmation draft stays valid.
func (o OrchestratorConfig) DraftTTL() time.Duration {
	if o.DraftTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(o.DraftTTLMinutes) * time.Minute
}

// AgentsConfig holds the upstream endpoints each sub-agent talks to. An
// empty endpoint leaves that agent disabled.
type AgentsConfig struct {
	MailAPI      string `json:"mail_api"`
	CalendarAPI  string `json:"calendar_api"`
	ContactsAPI  string `json:"contacts_api"`
	SearchAPI    string `json:"search_api"`
	SearchAPIKey string `json:"search_api_key"`
	SlackToken   string `json:"slack_token"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
