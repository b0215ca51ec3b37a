package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Global     GlobalConfig     `yaml:"global"`
	Sources    []Source         `yaml:"sources"`
	IPFS       IPFSConfig       `yaml:"ipfs"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Notify     []NotifyRule     `yaml:"notify"`
	Sinks      []Sink           `yaml:"sinks"`
}

type GlobalConfig struct {
	DBDriver      string `yaml:"db_driver"`
	DBPath        string `yaml:"db_path"`
	DBURL         string `yaml:"db_url"`
	Confirmations uint64 `yaml:"confirmations"`
	SearchIndex   string `yaml:"search_index"`
}

// DSN returns the connection string for the configured driver.
func (g GlobalConfig) DSN() string {
	if strings.EqualFold(g.DBDriver, "postgres") {
		return g.DBURL
	}
	return g.DBPath
}

type Source struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	RPCURL     string   `yaml:"rpc_url"`
	Contract   string   `yaml:"contract"`
	StartBlock string   `yaml:"start_block"`
	ABIDirs    []string `yaml:"abi_dirs"`
}

type IPFSConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	Timeout    string `yaml:"timeout"`
	Retries    int    `yaml:"retries"`
	Backoff    string `yaml:"backoff"`
}

// TimeoutDuration parses Timeout; empty yields zero.
func (c IPFSConfig) TimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration(c.Timeout)
}

// BackoffDuration parses Backoff; empty yields zero.
func (c IPFSConfig) BackoffDuration() (time.Duration, error) {
	return parseOptionalDuration(c.Backoff)
}

type NormalizerConfig struct {
	ContentType string `yaml:"content_type"`
}

type Dedupe struct {
	Key string `yaml:"key"`
	TTL string `yaml:"ttl"`
}

// NotifyRule sends matching peeps to sinks.
type NotifyRule struct {
	ID     string   `yaml:"id"`
	Source string   `yaml:"source"`
	Where  []string `yaml:"where"`
	Sinks  []string `yaml:"sinks"`
	Dedupe *Dedupe  `yaml:"dedupe,omitempty"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

const defaultGateway = "https://ipfs.io"

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

var hexAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks and fills defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one source is required")
	}

	sourceIDs := map[string]struct{}{}
	for i := range c.Sources {
		s := &c.Sources[i]
		if _, exists := sourceIDs[s.ID]; exists {
			return fmt.Errorf("duplicate source id: %s", s.ID)
		}
		sourceIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", s.ID, err)
		}
	}

	if err := c.IPFS.Validate(); err != nil {
		return fmt.Errorf("ipfs: %w", err)
	}
	if c.Normalizer.ContentType == "" {
		c.Normalizer.ContentType = "peep"
	}

	sinkIDs := map[string]*Sink{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = s
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	ruleIDs := map[string]struct{}{}
	for _, r := range c.Notify {
		if _, exists := ruleIDs[r.ID]; exists {
			return fmt.Errorf("duplicate notify rule id: %s", r.ID)
		}
		ruleIDs[r.ID] = struct{}{}
		if err := r.Validate(sourceIDs, sinkIDs); err != nil {
			return fmt.Errorf("notify %s: %w", r.ID, err)
		}
	}

	return nil
}

func (g *GlobalConfig) Validate() error {
	switch strings.ToLower(g.DBDriver) {
	case "", "sqlite":
		g.DBDriver = "sqlite"
		if g.DBPath == "" {
			g.DBPath = "peeps.db"
		}
	case "postgres":
		g.DBDriver = "postgres"
		if g.DBURL == "" {
			return errors.New("db_url is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported db_driver: %s", g.DBDriver)
	}
	return nil
}

func (s *Source) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(s.Type) {
	case "", "evm":
		s.Type = "evm"
	default:
		return fmt.Errorf("unsupported source type: %s", s.Type)
	}
	if s.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if !hexAddress.MatchString(s.Contract) {
		return fmt.Errorf("contract must be a 0x-prefixed 20-byte address, got %q", s.Contract)
	}
	return nil
}

func (c *IPFSConfig) Validate() error {
	if c.GatewayURL == "" {
		c.GatewayURL = defaultGateway
	}
	if c.Retries < 0 {
		return errors.New("retries must be >= 0")
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if _, err := c.BackoffDuration(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	return nil
}

func (r *NotifyRule) Validate(sourceIDs map[string]struct{}, sinkIDs map[string]*Sink) error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if r.Source != "" {
		if _, ok := sourceIDs[r.Source]; !ok {
			return fmt.Errorf("unknown source: %s", r.Source)
		}
	}

	if len(r.Sinks) == 0 {
		return errors.New("at least one sink is required")
	}
	for _, sinkID := range r.Sinks {
		if _, ok := sinkIDs[sinkID]; !ok {
			return fmt.Errorf("unknown sink: %s", sinkID)
		}
	}

	if r.Dedupe != nil {
		if r.Dedupe.Key == "" || r.Dedupe.TTL == "" {
			return errors.New("dedupe.key and dedupe.ttl are required when dedupe is set")
		}
		if _, err := time.ParseDuration(r.Dedupe.TTL); err != nil {
			return fmt.Errorf("dedupe.ttl: %w", err)
		}
	}

	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
