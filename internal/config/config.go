// Package config loads the service configuration and the per-repository
// settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/AobaIwaki123/phrase-radar/internal/similarity"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration, usually configs/config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	GitHub     GitHubConfig     `yaml:"github"`
	Similarity SimilarityConfig `yaml:"similarity"`
	GCP        GCPConfig        `yaml:"gcp"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type GitHubConfig struct {
	// Similarity is the default duplicate threshold; repositories may
	// override it in their settings file.
	Similarity float64 `yaml:"similarity_threshold"`
	// RepoConfigPath is the settings file read from each repository.
	RepoConfigPath string `yaml:"repo_config_path"`
	// MaxCandidates caps how many open issues are compared per event.
	MaxCandidates int `yaml:"max_candidates"`
	// Workers bounds concurrent comparisons per event.
	Workers int `yaml:"workers"`
	// RequestsPerSecond throttles calls to the GitHub API.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BaseURL           string  `yaml:"base_url"`
}

type SimilarityConfig struct {
	Penalty float64 `yaml:"penalty"`
	// DictionaryPath points to a YAML dictionary. Empty selects the built-in
	// dictionary.
	DictionaryPath string `yaml:"dictionary_path"`
}

// GCPConfig enables the BigQuery issue catalog when ProjectID is set.
type GCPConfig struct {
	ProjectID string `yaml:"project_id"`
	BQDataset string `yaml:"bq_dataset"`
	BQTable   string `yaml:"bq_table"`
}

// CatalogEnabled reports whether issue titles are mirrored to BigQuery.
func (g GCPConfig) CatalogEnabled() bool { return g.ProjectID != "" }

// Default returns the configuration used for any field the file omits.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, Path: "/webhook"},
		Log:    LogConfig{Level: "info", Format: "json"},
		GitHub: GitHubConfig{
			Similarity:        similarity.DefaultThreshold,
			RepoConfigPath:    ".github/phrase-radar.yml",
			MaxCandidates:     500,
			Workers:           8,
			RequestsPerSecond: 10,
		},
		Similarity: SimilarityConfig{Penalty: similarity.DefaultPenalty},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a YAML config file, substitutes environment references and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML config document on top of Default.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envVarRe.FindSubmatch(match)
		if v := os.Getenv(string(parts[1])); v != "" {
			return []byte(v)
		}
		return parts[2]
	})

	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(resolved))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		return fmt.Errorf("server.path must start with / (got %q)", c.Server.Path)
	}
	if c.GitHub.Similarity < 0 || c.GitHub.Similarity > 1 {
		return fmt.Errorf("github.similarity_threshold must be between 0.0 and 1.0 (got %.2f)", c.GitHub.Similarity)
	}
	if c.GitHub.RepoConfigPath == "" {
		return fmt.Errorf("github.repo_config_path must not be empty")
	}
	if c.GitHub.MaxCandidates <= 0 {
		return fmt.Errorf("github.max_candidates must be positive (got %d)", c.GitHub.MaxCandidates)
	}
	if c.GitHub.Workers <= 0 {
		return fmt.Errorf("github.workers must be positive (got %d)", c.GitHub.Workers)
	}
	if c.GitHub.RequestsPerSecond <= 0 {
		return fmt.Errorf("github.requests_per_second must be positive (got %v)", c.GitHub.RequestsPerSecond)
	}
	if c.Similarity.Penalty < 0 || c.Similarity.Penalty > 1 {
		return fmt.Errorf("similarity.penalty must be between 0.0 and 1.0 (got %.2f)", c.Similarity.Penalty)
	}
	if c.GCP.CatalogEnabled() && (c.GCP.BQDataset == "" || c.GCP.BQTable == "") {
		return fmt.Errorf("gcp.bq_dataset and gcp.bq_table are required when gcp.project_id is set")
	}
	return nil
}
