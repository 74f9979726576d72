package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/wiki/pkg/attachments"
	"github.com/CTAG07/wiki/pkg/templating"
	"github.com/CTAG07/wiki/pkg/wiki"
	"github.com/caarlos0/env/v11"
	"github.com/natefinch/atomic"
)

// envPrefix namespaces every environment variable that overrides config.json,
// e.g. WIKI_SERVER_ADDR or WIKI_ATTACHMENTS_MAX_FILE_SIZE.
const envPrefix = "WIKI_"

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	ServerAddr     string   `json:"server_addr" env:"ADDR"`
	ApiAddr        string   `json:"api_addr" env:"API_ADDR"`
	LogLevel       string   `json:"log_level" env:"LOG_LEVEL"`
	TrustedProxies []string `json:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
	DatabasePath   string   `json:"database_path" env:"DATABASE_PATH"`
	TemplateDir    string   `json:"template_dir" env:"TEMPLATE_DIR"`
	StaticDir      string   `json:"static_dir" env:"STATIC_DIR"`
	// SearchLimit caps the number of articles returned by a search.
	SearchLimit int `json:"search_limit" env:"SEARCH_LIMIT"`
	// MaxFormMemory is the part of a multipart upload kept in memory, in bytes.
	MaxFormMemory int64 `json:"max_form_memory" env:"MAX_FORM_MEMORY"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server      *ServerConfig              `json:"server_config" envPrefix:"SERVER_"`
	Wiki        *wiki.Settings             `json:"wiki_config"`
	Templates   *templating.TemplateConfig `json:"template_config" envPrefix:"TEMPLATES_"`
	Attachments *attachments.Config        `json:"attachments_config" envPrefix:"ATTACHMENTS_"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:     ":8000",
		ApiAddr:        ":8001",
		LogLevel:       "info",
		TrustedProxies: []string{},
		DatabasePath:   "./data/wiki.db",
		TemplateDir:    "./data/templates",
		StaticDir:      "./data/static",
		SearchLimit:    50,
		MaxFormMemory:  32 << 20,
	}
}

// DefaultConfig returns the configuration a fresh installation starts with.
func DefaultConfig() *Config {
	templates := templating.DefaultConfig()
	attachmentConfig := attachments.DefaultConfig()
	attachmentConfig.MediaRoot = "./data/media"
	return &Config{
		Server:      DefaultServerConfig(),
		Wiki:        wiki.DefaultSettings(),
		Templates:   &templates,
		Attachments: attachmentConfig,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path and
// applies WIKI_* environment overrides on top. If the file doesn't exist, it
// creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		var data []byte
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The server can still run with defaults.
			fmt.Printf("warning: failed to write default config file: %v\n", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err = json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err = env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return config, nil
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
	tm           *templating.TemplateManager
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetTemplateManager registers the template manager to receive config updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	if tm != nil {
		tm.SetConfig(cm.config.Templates)
	}
}

// SetLogger sets the logger used for config warnings.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a thread-safe copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates the new configuration, saves it to disk, and refreshes
// derived state. Template settings are applied live; server, wiki and
// attachment settings take effect on the next restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Wiki == nil || newConfig.Templates == nil || newConfig.Attachments == nil {
		return fmt.Errorf("configuration is incomplete: every section is required")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.tm != nil {
		oldTmplConfig := cm.config.Templates

		cm.tm.SetConfig(newConfig.Templates)
		if err := cm.tm.Refresh(); err != nil {
			cm.tm.SetConfig(oldTmplConfig)
			_ = cm.tm.Refresh()
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	*cm.config = newConfig
	cm.refreshCache()

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}

	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
