package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Website struct {
	BindAddress      string        `yaml:"bind_address" env:"BIND_ADDRESS" validate:"required"`
	HTTPEnabled      bool          `yaml:"http_enabled" env:"HTTP_ENABLED"`
	BindPorts        Ports         `yaml:"bind_ports"`
	BindSSLConfig    SSLConfig     `yaml:"bind_ssl_config" envPrefix:"SSL_"`
	PublicHostname   string        `yaml:"public_hostname" env:"PUBLIC_HOSTNAME" validate:"required"`
	PublicPorts      Ports         `yaml:"public_ports"`
	PublicSSLEnabled bool          `yaml:"public_ssl_enabled" env:"PUBLIC_SSL_ENABLED"`
	ProviderTimeout  time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	Pages            Pages         `yaml:"pages"`
}

type Ports struct {
	HTTP  int `yaml:"http" validate:"gte=0,lte=65535"`
	HTTPS int `yaml:"https" validate:"gte=0,lte=65535"`
}

type SSLConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertPath string `yaml:"cert_path" validate:"required_if=Enabled true"`
	KeyPath  string `yaml:"key_path" validate:"required_if=Enabled true"`
}

func (w Website) HTTPAddress() string {
	return net.JoinHostPort(w.BindAddress, strconv.Itoa(w.BindPorts.HTTP))
}

func (w Website) HTTPSAddress() string {
	return net.JoinHostPort(w.BindAddress, strconv.Itoa(w.BindPorts.HTTPS))
}

// PublicServerURL returns the base URL browsers use to reach the server,
// without a trailing slash. Default ports are omitted.
func (w Website) PublicServerURL() string {
	scheme, port := "http", w.PublicPorts.HTTP
	if w.PublicSSLEnabled {
		scheme, port = "https", w.PublicPorts.HTTPS
	}

	host := w.PublicHostname
	if !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	u := url.URL{Scheme: scheme, Host: host}
	return strings.TrimSuffix(u.String(), "/")
}

// FormatPublicServerURL joins path onto the public server URL.
func (w Website) FormatPublicServerURL(path string) string {
	return strings.TrimSuffix(w.PublicServerURL(), "/") + "/" + strings.TrimPrefix(path, "/")
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

type Pages struct {
	Root          string `yaml:"root"`
	PublicHome    string `yaml:"public_home"`
	PublicError   string `yaml:"public_error"`
	PublicLogin   string `yaml:"public_login"`
	ProtectedHome string `yaml:"protected_home"`
}

func DefaultPages() Pages {
	return Pages{
		Root:          "/",
		PublicHome:    "",
		PublicError:   "error",
		PublicLogin:   "login",
		ProtectedHome: "protected",
	}
}

// WithRoot returns a copy with Root prepended to every page path.
func (p Pages) WithRoot() Pages {
	base := normalizeSlash(p.Root)
	return Pages{
		Root:          base,
		PublicHome:    joinPaths(base, p.PublicHome),
		PublicError:   joinPaths(base, p.PublicError),
		PublicLogin:   joinPaths(base, p.PublicLogin),
		ProtectedHome: joinPaths(base, p.ProtectedHome),
	}
}

func normalizeSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

func joinPaths(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
