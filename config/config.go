package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m4xw311/puck/errors"
)

// Dir is the per-user and per-project configuration directory name.
const Dir = ".puck"

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Transcript selects where finished runs are recorded.
type Transcript struct {
	// Store is "none", "file" or "redis".
	Store         string        `yaml:"store"`
	Dir           string        `yaml:"dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type Config struct {
	LLMClient         string           `yaml:"llm"`
	Model             string           `yaml:"model"`
	MaxContextTokens  int              `yaml:"max_context_tokens"`
	MaxResponseTokens int              `yaml:"max_response_tokens"`
	MinResponseTokens int              `yaml:"min_response_tokens"`
	MaxRetries        int              `yaml:"max_retries"`
	TokenCounter      string           `yaml:"token_counter"`
	ShellTimeout      time.Duration    `yaml:"shell_timeout"`
	MCPServers        []MCPServer      `yaml:"mcp_servers"`
	FilesystemAccess  FilesystemAccess `yaml:"filesystem_access"`
	Transcript        Transcript       `yaml:"transcript"`
	MetricsAddr       string           `yaml:"metrics_addr"`
	LogLevel          string           `yaml:"log_level"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		LLMClient:         "mock",
		MaxContextTokens:  8192,
		MaxResponseTokens: 2048,
		MinResponseTokens: 10,
		MaxRetries:        3,
		TokenCounter:      "words",
		ShellTimeout:      2 * time.Minute,
		FilesystemAccess: FilesystemAccess{
			Hidden: []string{Dir, Dir + "/**"},
		},
		Transcript: Transcript{Store: "file"},
		LogLevel:   "info",
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, Dir, "config.yaml"))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	paths = append(paths, filepath.Join(wd, Dir, "config.yaml"))
	return LoadFrom(paths...)
}

// LoadFrom layers the given files over Default, later files winning.
// Missing files are skipped.
func LoadFrom(paths ...string) (*Config, error) {
	cfg := Default()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := loadFromFile(p, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", p)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal only overwrites fields present in the YAML, so a later file
	// replaces the keys it names and keeps the rest.
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects limits the session loop cannot work with.
func (c *Config) Validate() error {
	if c.MaxContextTokens <= 0 || c.MaxResponseTokens <= 0 {
		return errors.New("max_context_tokens and max_response_tokens must be positive")
	}
	if c.MinResponseTokens < 0 || c.MinResponseTokens > c.MaxResponseTokens {
		return errors.New("min_response_tokens must be between 0 and max_response_tokens")
	}
	if c.MaxRetries < 1 {
		return errors.New("max_retries must be at least 1")
	}
	switch c.Transcript.Store {
	case "", "none", "file", "redis":
	default:
		return errors.New("unknown transcript store %q", c.Transcript.Store)
	}
	return nil
}
