// Package config loads the odata-batch YAML configuration file. String values
// may reference environment variables as ${NAME}; they are expanded after
// parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/nghyane/odata-batch/internal/auth"
	"github.com/nghyane/odata-batch/internal/logging"
	"github.com/nghyane/odata-batch/internal/transport"
	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// BaseURL is the service root, e.g. https://org.crm.dynamics.com/api/data/v9.2.
	BaseURL string `yaml:"base-url"`

	Headers map[string]string `yaml:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty"`

	// Retries is the total attempt budget per request.
	Retries          int           `yaml:"retries"`
	RetryStatusCodes []int         `yaml:"retry-status-codes,omitempty"`
	RetryDelay       time.Duration `yaml:"retry-delay"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL          string `yaml:"proxy-url,omitempty"`
	CorrelationHeader string `yaml:"correlation-header,omitempty"`

	// ChunkSize caps records per $batch request.
	ChunkSize int `yaml:"chunk-size"`
	PageSize  int `yaml:"page-size,omitempty"`
	MaxPages  int `yaml:"max-pages,omitempty"`

	Debug         bool `yaml:"debug"`
	LoggingToFile bool `yaml:"logging-to-file"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig selects the Authorization header provider.
type AuthConfig struct {
	// Type is "static", "client-credentials" or empty for no Authorization header.
	Type         string   `yaml:"type,omitempty"`
	Header       string   `yaml:"header,omitempty"`
	TenantID     string   `yaml:"tenant-id,omitempty"`
	ClientID     string   `yaml:"client-id,omitempty"`
	ClientSecret string   `yaml:"client-secret,omitempty"`
	TokenURL     string   `yaml:"token-url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// NewDefaultConfig creates a new Config with the transport defaults filled in.
func NewDefaultConfig() *Config {
	return &Config{
		Retries:          transport.DefaultRetries,
		RetryStatusCodes: append([]int(nil), transport.DefaultRetryStatusCodes...),
		RetryDelay:       transport.DefaultRetryDelay,
		ChunkSize:        999,
	}
}

// GenerateDefaultConfigYAML renders a starter config file.
func GenerateDefaultConfigYAML() []byte {
	cfg := NewDefaultConfig()
	cfg.BaseURL = "https://example.crm.dynamics.com/api/data/v9.2"
	cfg.Auth = AuthConfig{
		Type:         auth.TypeClientCredentials,
		TenantID:     "${AZURE_TENANT_ID}",
		ClientID:     "${AZURE_CLIENT_ID}",
		ClientSecret: "${AZURE_CLIENT_SECRET}",
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return []byte("base-url: \"\"\nretries: 3\nretry-delay: 1s\n")
	}
	return data
}

// LoadConfig reads and validates the YAML configuration at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile. When optional is true a
// missing file yields the defaults, so flags and environment can supply the
// rest.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and expands ${ENV} references.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.expandEnv()
	cfg.Headers = NormalizeHeaders(cfg.Headers)
	cfg.Query = NormalizeHeaders(cfg.Query)
	return cfg, nil
}

func (c *Config) expandEnv() {
	c.BaseURL = os.ExpandEnv(c.BaseURL)
	c.ProxyURL = os.ExpandEnv(c.ProxyURL)
	for k, v := range c.Headers {
		c.Headers[k] = os.ExpandEnv(v)
	}
	for k, v := range c.Query {
		c.Query[k] = os.ExpandEnv(v)
	}
	a := &c.Auth
	a.Header = os.ExpandEnv(a.Header)
	a.TenantID = os.ExpandEnv(a.TenantID)
	a.ClientID = os.ExpandEnv(a.ClientID)
	a.ClientSecret = os.ExpandEnv(a.ClientSecret)
	a.TokenURL = os.ExpandEnv(a.TokenURL)
	for i, s := range a.Scopes {
		a.Scopes[i] = os.ExpandEnv(s)
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("config: base-url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("config: base-url %q must be an http(s) URL", c.BaseURL)
	}
	if c.Retries < 0 {
		return errors.New("config: retries must not be negative")
	}
	if c.ChunkSize < 0 || c.ChunkSize > 999 {
		return fmt.Errorf("config: chunk-size %d is outside 1..999", c.ChunkSize)
	}
	for _, code := range c.RetryStatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("config: invalid retry status code %d", code)
		}
	}
	return nil
}

// TransportConfig builds the client configuration, including the auth provider.
func (c *Config) TransportConfig(logger logging.Logger) (transport.Config, error) {
	if err := c.Validate(); err != nil {
		return transport.Config{}, err
	}
	provider, err := auth.New(auth.Options{
		Type:         c.Auth.Type,
		Header:       c.Auth.Header,
		TenantID:     c.Auth.TenantID,
		ClientID:     c.Auth.ClientID,
		ClientSecret: c.Auth.ClientSecret,
		TokenURL:     c.Auth.TokenURL,
		Scopes:       c.Auth.Scopes,
		Resource:     c.BaseURL,
	})
	if err != nil {
		return transport.Config{}, err
	}
	return transport.Config{
		BaseURL:           c.BaseURL,
		Headers:           c.Headers,
		Query:             c.Query,
		AuthHeader:        provider,
		Retries:           c.Retries,
		RetryStatusCodes:  c.RetryStatusCodes,
		RetryDelay:        c.RetryDelay,
		Logger:            logger,
		ProxyURL:          c.ProxyURL,
		CorrelationHeader: c.CorrelationHeader,
	}, nil
}

// NormalizeHeaders trims header keys and values and removes empty pairs.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		clean[key] = val
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
