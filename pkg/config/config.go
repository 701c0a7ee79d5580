package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Search      SearchConfig      `yaml:"search"`
	Run         RunConfig         `yaml:"run"`
	Log         LogConfig         `yaml:"log"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Store       StoreConfig       `yaml:"store"`
	DB          DBConfig          `yaml:"db"`
	Server      ServerConfig      `yaml:"server"`
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// SearchConfig selects and configures context retrieval providers.
// Provider is one of "tavily", "wikipedia" or "multi" (both combined).
type SearchConfig struct {
	Provider      string          `yaml:"provider"`
	MaxResults    int             `yaml:"max_results"`
	EnrichContent bool            `yaml:"enrich_content"`
	Tavily        TavilyConfig    `yaml:"tavily"`
	Wikipedia     WikipediaConfig `yaml:"wikipedia"`
}

// TavilyConfig configures the Tavily web search client.
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// WikipediaConfig configures the Wikipedia client.
type WikipediaConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"`
	MaxDocs int    `yaml:"max_docs"`
}

// RunConfig holds defaults for new research runs.
type RunConfig struct {
	MaxAnalysts int `yaml:"max_analysts"`
	MaxTurns    int `yaml:"max_turns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConcurrencyConfig bounds LLM call rate and interview parallelism.
type ConcurrencyConfig struct {
	QPS           int `yaml:"qps"`
	RPM           int `yaml:"rpm"`
	MaxInterviews int `yaml:"max_interviews"`
}

// StoreConfig selects the run store backend: "memory" or "postgres".
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

// LoadConfig reads and parses the yaml config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Run.MaxAnalysts == 0 {
		c.Run.MaxAnalysts = 3
	}
	if c.Run.MaxTurns == 0 {
		c.Run.MaxTurns = 2
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 3
	}
	if c.Concurrency.QPS == 0 {
		c.Concurrency.QPS = 2
	}
	if c.Concurrency.RPM == 0 {
		c.Concurrency.RPM = 60
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
}
