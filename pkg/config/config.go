package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	EnvPrefix      = "ZERO_GATE_"
)

type Config struct {
	BaseDir      string                   `yaml:"-"`
	Version      int                      `yaml:"version" validate:"omitempty,eq=1"`
	Logger       LoggerConfig             `yaml:"logger" envPrefix:"LOGGER_"`
	Website      Website                  `yaml:"website" envPrefix:"WEBSITE_"`
	Session      SessionConfig            `yaml:"session" envPrefix:"SESSION_"`
	Database     DatabaseConfig           `yaml:"database" envPrefix:"DATABASE_"`
	OAuthClients map[string]*ClientConfig `yaml:"oauth_clients" validate:"required,min=1,dive,required"`
	PolicyFiles  []string                 `yaml:"policy_files"`
}

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity" env:"VERBOSITY" validate:"oneof=trace debug info warn error"`
	Format    string `yaml:"format" env:"FORMAT" validate:"oneof=console pretty json"`
}

const LevelTrace = slog.Level(-8)

func (l LoggerConfig) Level() slog.Level {
	switch l.Verbosity {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type SessionConfig struct {
	CookieName        string        `yaml:"cookie_name" validate:"required"`
	SameSitePolicy    string        `yaml:"same_site_policy" env:"SAME_SITE_POLICY" validate:"oneof=strict lax none"`
	Secure            bool          `yaml:"secure" env:"SECURE"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" validate:"gt=0"`
	Secret            SecretString  `yaml:"secret" env:"SECRET"`
	Store             string        `yaml:"store" env:"STORE" validate:"oneof=memory valkey"`
	Valkey            ValkeyConfig  `yaml:"valkey" envPrefix:"VALKEY_"`
}

func (s SessionConfig) SameSite() http.SameSite {
	switch s.SameSitePolicy {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type ValkeyConfig struct {
	Address  string       `yaml:"address" env:"ADDRESS"`
	Username string       `yaml:"username" env:"USERNAME"`
	Password SecretString `yaml:"password" env:"PASSWORD"`
	Prefix   string       `yaml:"prefix"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH" validate:"required"`
}

type ClientConfig struct {
	DisplayName  string         `yaml:"display_name" validate:"required"`
	ClientID     string         `yaml:"client_id" validate:"required"`
	ClientSecret SecretString   `yaml:"client_secret"`
	AuthURI      string         `yaml:"auth_uri" validate:"required,url"`
	TokenURI     string         `yaml:"token_uri" validate:"required,url"`
	UserinfoURI  string         `yaml:"userinfo_uri" validate:"required,url"`
	RedirectURI  string         `yaml:"redirect_uri" validate:"omitempty,url"`
	Scopes       []string       `yaml:"scopes"`
	LoginField   string         `yaml:"login_field"`
	PKCE         bool           `yaml:"pkce"`
	Issuer       string         `yaml:"issuer" validate:"omitempty,url"`
	JwksURI      string         `yaml:"jwks_uri" validate:"omitempty,url"`
	Extra        map[string]any `yaml:"extra"`
}

// Default returns a configuration with every optional setting filled in.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Logger: LoggerConfig{
			Verbosity: "info",
			Format:    "console",
		},
		Website: Website{
			BindAddress: "127.0.0.1",
			HTTPEnabled: true,
			BindPorts:   Ports{HTTP: 80, HTTPS: 443},
			BindSSLConfig: SSLConfig{
				CertPath: "config/cert.pem",
				KeyPath:  "config/key.pem",
			},
			PublicHostname:  "localhost",
			PublicPorts:     Ports{HTTP: 80, HTTPS: 443},
			ProviderTimeout: 10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Pages:           DefaultPages(),
		},
		Session: SessionConfig{
			CookieName:        "zero-gate-session",
			SameSitePolicy:    "lax",
			InactivityTimeout: 24 * time.Hour,
			Store:             "memory",
			Valkey: ValkeyConfig{
				Address: "127.0.0.1:6379",
				Prefix:  "zero-gate:session:",
			},
		},
		Database: DatabaseConfig{
			Path: "data/users.db",
		},
		OAuthClients: make(map[string]*ClientConfig),
	}
}

func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = filepath.Dir(path)

	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	for _, alias := range rewriteDeprecatedKeys(&root) {
		slog.Warn("Deprecated config key", "key", alias.old, "use", alias.new)
	}

	cfg := Default()
	if len(root.Content) > 0 {
		if err := root.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	for name, client := range cfg.OAuthClients {
		if client == nil {
			continue
		}
		if client.UserinfoURI == "" {
			if uri, ok := client.Extra["userinfo_uri"].(string); ok {
				slog.Warn("Deprecated config key", "key", "oauth_clients."+name+".extra.userinfo_uri", "use", "userinfo_uri")
				client.UserinfoURI = uri
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if c.Session.Store == "valkey" && c.Session.Valkey.Address == "" {
		return fmt.Errorf("validate config: session.valkey.address is required for the valkey store")
	}
	if !c.Website.HTTPEnabled && !c.Website.BindSSLConfig.Enabled {
		return fmt.Errorf("validate config: at least one of website.http_enabled and website.bind_ssl_config.enabled must be set")
	}

	return nil
}

// AbsPath resolves path relative to the directory of the config file.
func (c *Config) AbsPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}

func (c *Config) PolicyFilePaths() []string {
	paths := make([]string, 0, len(c.PolicyFiles))
	for _, p := range c.PolicyFiles {
		paths = append(paths, c.AbsPath(p))
	}
	return paths
}

type deprecatedKey struct {
	old string
	new string
}

// keys are paths of mapping keys from the document root
var deprecatedKeys = []struct {
	parent []string
	old    string
	new    string
}{
	{nil, "oauth_providers", "oauth_clients"},
	{nil, "oso_policy_files", "policy_files"},
	{[]string{"website"}, "routes", "pages"},
}

func rewriteDeprecatedKeys(root *yaml.Node) []deprecatedKey {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	var rewritten []deprecatedKey
	for _, dk := range deprecatedKeys {
		node := root.Content[0]
		for _, p := range dk.parent {
			node = mappingValue(node, p)
			if node == nil {
				break
			}
		}
		if node == nil || node.Kind != yaml.MappingNode {
			continue
		}
		if mappingValue(node, dk.new) != nil {
			continue
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == dk.old {
				node.Content[i].Value = dk.new
				rewritten = append(rewritten, deprecatedKey{
					old: strings.Join(append(append([]string{}, dk.parent...), dk.old), "."),
					new: strings.Join(append(append([]string{}, dk.parent...), dk.new), "."),
				})
			}
		}
	}
	return rewritten
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
