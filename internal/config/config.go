// Package config loads the sidecar's YAML configuration with
// environment variable expansion. Secrets never live in the YAML:
// provider credentials are read from the environment at use time, so a
// rotation only needs new env values, not a config edit.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agencybridge/sidecar/internal/extractor"
)

// Duration decodes "23h" style YAML strings into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Cache struct {
		SessionTTL Duration `yaml:"sessionTTL"`
		TokenTTL   Duration `yaml:"tokenTTL"`
	} `yaml:"cache"`

	Browser struct {
		Headless bool `yaml:"headless"`
	} `yaml:"browser"`

	// Refresh maps provider name to a cron spec for scheduled
	// pre-expiry refreshes. Empty means on-demand only.
	Refresh map[string]string `yaml:"refresh"`

	Chat struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"chat"`

	// Providers maps provider name to the env var names carrying its
	// credentials.
	Providers map[string]ProviderCreds `yaml:"providers"`
}

// ProviderCreds names the environment variables holding one provider's
// login, not the values themselves.
type ProviderCreds struct {
	UsernameEnv string `yaml:"usernameEnv"`
	PasswordEnv string `yaml:"passwordEnv"`
}

// Default returns the built-in configuration: all known providers on
// their conventional env var names, sensible TTLs, headless browser.
func Default() Config {
	var c Config
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8700
	c.Cache.SessionTTL = Duration(23 * time.Hour)
	c.Cache.TokenTTL = Duration(time.Hour)
	c.Browser.Headless = true
	c.Chat.Enabled = true
	c.Providers = map[string]ProviderCreds{
		"agencyzoom": {UsernameEnv: "AGENCYZOOM_EMAIL", PasswordEnv: "AGENCYZOOM_PASSWORD"},
		"rpr":        {UsernameEnv: "RPR_EMAIL", PasswordEnv: "RPR_PASSWORD"},
		"mmi":        {UsernameEnv: "MMI_EMAIL", PasswordEnv: "MMI_PASSWORD"},
		"delphi":     {UsernameEnv: "DELPHI_USERNAME", PasswordEnv: "DELPHI_PASSWORD"},
	}
	return c
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes with environment
// variable expansion, over the defaults.
func LoadFromBytes(data []byte) (Config, error) {
	c := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return c, fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return c, nil
}

// Credentials reads a provider's login out of the environment. Reading
// at call time means a rotated secret is picked up by the next
// extraction without a restart.
func (c Config) Credentials(provider string) extractor.Credentials {
	pc, ok := c.Providers[provider]
	if !ok {
		return extractor.Credentials{}
	}
	return extractor.Credentials{
		Username: strings.TrimSpace(os.Getenv(pc.UsernameEnv)),
		Password: strings.TrimSpace(os.Getenv(pc.PasswordEnv)),
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
