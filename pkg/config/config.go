// Package config loads and validates the bridge configuration. Values come
// from config.yaml with MKXI_* environment overrides layered on top.
package config

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mkixlab/mkxi/pkg/errs"
)

// Config is the validated runtime configuration. Token and WSCheck are
// populated during bootstrap, not from the file.
type Config struct {
	Account     string
	Password    string // MD5 hex digest of the configured password
	ServerURL   string
	OneBotURL   string
	MaxMemoSize int
	SSLCheck    bool
	WebP        bool
	Encrypt     map[string]string
	LogLevel    string

	// Runtime fields.
	Token   string                          // "Bearer <access_token>" once logged in
	WSCheck func(context.Context) bool      // MkIX link liveness probe
}

type fileConfig struct {
	Account     interface{}       `yaml:"account"`
	Password    interface{}       `yaml:"password"`
	ServerURL   string            `yaml:"server_url" env:"MKXI_SERVER_URL"`
	OneBotURL   string            `yaml:"OneBot_url" env:"MKXI_ONEBOT_URL"`
	MaxMemoSize int               `yaml:"max_memo_size" env:"MKXI_MAX_MEMO_SIZE"`
	SSLCheck    *bool             `yaml:"ssl_check" env:"MKXI_SSL_CHECK"`
	WebP        bool              `yaml:"webp" env:"MKXI_WEBP"`
	Encrypt     map[string]string `yaml:"encrypt"`
	LogLevel    string            `yaml:"log_level" env:"MKXI_LOG_LEVEL"`
}

// Load reads, overlays, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.Config, err, "read config")
	}
	return Parse(raw)
}

// Parse builds a Config from raw YAML plus environment overrides.
func Parse(raw []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, errs.Wrap(errs.Config, err, "parse config")
	}
	if err := env.Parse(&fc); err != nil {
		return nil, errs.Wrap(errs.Config, err, "apply env overrides")
	}
	return validate(&fc)
}

func validate(fc *fileConfig) (*Config, error) {
	account := scalarString(fc.Account)
	if account == "" {
		return nil, errs.New(errs.Config, "account is required")
	}

	password := scalarString(fc.Password)
	if password == "" {
		return nil, errs.New(errs.Config, "password is required")
	}
	sum := md5.Sum([]byte(password))

	if fc.ServerURL == "" {
		return nil, errs.New(errs.Config, "server_url is required")
	}
	u, err := url.Parse(fc.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.New(errs.Config, "server_url must be http(s)://host, got %q", fc.ServerURL)
	}

	if fc.OneBotURL == "" {
		return nil, errs.New(errs.Config, "OneBot_url is required")
	}
	ou, err := url.Parse(fc.OneBotURL)
	if err != nil || (ou.Scheme != "ws" && ou.Scheme != "wss") {
		return nil, errs.New(errs.Config, "OneBot_url must be ws(s)://…, got %q", fc.OneBotURL)
	}

	if fc.MaxMemoSize <= 0 {
		return nil, errs.New(errs.Config, "max_memo_size must be positive, got %d", fc.MaxMemoSize)
	}

	encrypt := make(map[string]string, len(fc.Encrypt))
	for group, key := range fc.Encrypt {
		switch len(key) {
		case 16, 24, 32:
			encrypt[group] = key
		default:
			return nil, errs.New(errs.Config, "encrypt key for group %s must be 16/24/32 bytes, got %d", group, len(key))
		}
	}

	sslCheck := true
	if fc.SSLCheck != nil {
		sslCheck = *fc.SSLCheck
	}

	return &Config{
		Account:     account,
		Password:    hex.EncodeToString(sum[:]),
		ServerURL:   fc.ServerURL,
		OneBotURL:   fc.OneBotURL,
		MaxMemoSize: fc.MaxMemoSize,
		SSLCheck:    sslCheck,
		WebP:        fc.WebP,
		Encrypt:     encrypt,
		LogLevel:    fc.LogLevel,
	}, nil
}

// scalarString renders a YAML scalar (string or number) as a string.
func scalarString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}

// EncryptKey returns the AES key for a group, if one is configured.
func (c *Config) EncryptKey(group string) (string, bool) {
	key, ok := c.Encrypt[group]
	return key, ok
}

// WebSocketURL is the MkIX socket endpoint: server_url with the scheme
// swapped to ws(s) and /websocket/connect appended.
func (c *Config) WebSocketURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/websocket/connect"
	return u.String()
}
