package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the service reads at startup. It is loaded once and
// then only read.
type Config struct {
	// Backend instances and fetch behaviour
	Searx SearxConfig `yaml:"searx"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Outbound proxy
	Proxy ProxyConfig `yaml:"proxy"`

	// MCP identity
	MCP MCPConfig `yaml:"mcp"`
}

// SearxConfig describes the instances to query and how.
type SearxConfig struct {
	Instances        []string      `yaml:"instances"`
	PerPage          int           `yaml:"per_page"`
	Timeout          time.Duration `yaml:"timeout"`
	PageZeroFallback bool          `yaml:"page_zero_fallback"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	UserAgent        string        `yaml:"user_agent"`
	Breaker          BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the optional per-instance circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port       int             `yaml:"port"`
	Host       string          `yaml:"host"`
	CORS       CORSConfig      `yaml:"cors"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	SessionTTL time.Duration   `yaml:"session_ttl"`
}

// CORSConfig CORS settings for the JSON API
type CORSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Origin  string `yaml:"origin"`
}

// RateLimitConfig limits inbound search requests. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// ProxyConfig outbound proxy settings
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// MCPConfig MCP protocol settings
type MCPConfig struct {
	ServerName    string         `yaml:"server_name"`
	ServerVersion string         `yaml:"server_version"`
	Tools         MCPToolsConfig `yaml:"tools"`
}

// MCPToolsConfig MCP tool naming
type MCPToolsConfig struct {
	SearchName        string `yaml:"search_name"`
	SearchDescription string `yaml:"search_description"`
}

// DefaultInstances are tried in order when no config file lists any.
var DefaultInstances = []string{
	"https://searx.tiekoetter.com",
	"https://searx.laquadrature.net",
	"https://searx.org",
	"https://searx.be",
	"https://searx.space",
}

// Default returns a fresh copy of the default configuration.
func Default() *Config {
	return &Config{
		Searx: SearxConfig{
			Instances:        append([]string(nil), DefaultInstances...),
			PerPage:          10,
			Timeout:          8 * time.Second,
			PageZeroFallback: true,
			MaxBodyBytes:     2 << 20,
			UserAgent:        "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			Breaker: BreakerConfig{
				Enabled:     false,
				MaxFailures: 3,
				OpenTimeout: 60 * time.Second,
				Interval:    5 * time.Minute,
			},
		},
		Server: ServerConfig{
			Port: 3456,
			Host: "0.0.0.0",
			CORS: CORSConfig{
				Enabled: false,
				Origin:  "*",
			},
			RateLimit: RateLimitConfig{
				RequestsPerMin: 0,
				Burst:          5,
			},
			SessionTTL: 30 * time.Minute,
		},
		Proxy: ProxyConfig{
			Enabled: false,
			URL:     "http://127.0.0.1:7890",
		},
		MCP: MCPConfig{
			ServerName:    "searx-front",
			ServerVersion: "1.0.0",
			Tools: MCPToolsConfig{
				SearchName:        "search",
				SearchDescription: "Search the web through public SearXNG instances, falling back to the next instance on failure. Returns title, URL, snippet and engine for each result plus the instance that answered.",
			},
		},
	}
}

// configSearchPaths relative locations probed for a config file
var configSearchPaths = []string{
	"config.yaml",
	"config.yml",
	"configs/config.yaml",
	"configs/config.yml",
}

// Load reads the YAML config file if one can be found, otherwise the defaults.
// CONFIG_FILE takes precedence over the search paths.
func Load() *Config {
	cfg := Default()

	configPath := findConfigFile()
	if configPath == "" {
		log.Printf("⚠️ No config file found, using default configuration")
		log.Printf("💡 You can create a config.yaml file or set CONFIG_FILE environment variable")
		cfg.validate()
		cfg.Print()
		return cfg
	}

	log.Printf("📄 Loading configuration from: %s", configPath)
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		log.Printf("⚠️ %v, using defaults", err)
		cfg.validate()
		cfg.Print()
		return cfg
	}

	loaded.Print()
	return loaded
}

// LoadFromFile loads the config at path on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}

	// An explicit list replaces the default one instead of merging into it.
	cfg.Searx.Instances = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	cfg.validate()
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv("CONFIG_FILE"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		log.Printf("⚠️ CONFIG_FILE=%s not found, searching default paths", envPath)
	}

	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	workDir, _ := os.Getwd()

	searchDirs := []string{workDir}
	if execDir != "" && execDir != workDir {
		searchDirs = append(searchDirs, execDir)
	}

	for _, dir := range searchDirs {
		for _, name := range configSearchPaths {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}

// validate repairs out-of-range values in place, logging each repair.
func (c *Config) validate() {
	def := Default()

	// Addresses are not checked here; a bad one fails when its request is built.
	instances := make([]string, 0, len(c.Searx.Instances))
	for _, inst := range c.Searx.Instances {
		inst = strings.TrimRight(strings.TrimSpace(inst), "/")
		if inst == "" {
			continue
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		log.Printf("⚠️ No instances configured, using the default list")
		instances = def.Searx.Instances
	}
	c.Searx.Instances = instances

	if c.Searx.PerPage <= 0 {
		log.Printf("⚠️ Invalid per_page %d, using default %d", c.Searx.PerPage, def.Searx.PerPage)
		c.Searx.PerPage = def.Searx.PerPage
	}
	if c.Searx.Timeout <= 0 {
		log.Printf("⚠️ Invalid timeout %s, using default %s", c.Searx.Timeout, def.Searx.Timeout)
		c.Searx.Timeout = def.Searx.Timeout
	}
	if c.Searx.MaxBodyBytes <= 0 {
		c.Searx.MaxBodyBytes = def.Searx.MaxBodyBytes
	}
	if c.Searx.UserAgent == "" {
		c.Searx.UserAgent = def.Searx.UserAgent
	}
	if c.Searx.Breaker.MaxFailures == 0 {
		c.Searx.Breaker.MaxFailures = def.Searx.Breaker.MaxFailures
	}
	if c.Searx.Breaker.OpenTimeout <= 0 {
		c.Searx.Breaker.OpenTimeout = def.Searx.Breaker.OpenTimeout
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		log.Printf("⚠️ Invalid port %d, using default %d", c.Server.Port, def.Server.Port)
		c.Server.Port = def.Server.Port
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.CORS.Origin == "" {
		c.Server.CORS.Origin = def.Server.CORS.Origin
	}
	if c.Server.RateLimit.RequestsPerMin < 0 {
		c.Server.RateLimit.RequestsPerMin = 0
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = def.Server.RateLimit.Burst
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = def.Server.SessionTTL
	}

	if c.Proxy.Enabled && c.Proxy.URL == "" {
		log.Printf("⚠️ Proxy enabled but URL is empty, using default")
		c.Proxy.URL = def.Proxy.URL
	}

	if c.MCP.ServerName == "" {
		c.MCP.ServerName = def.MCP.ServerName
	}
	if c.MCP.ServerVersion == "" {
		c.MCP.ServerVersion = def.MCP.ServerVersion
	}
	if c.MCP.Tools.SearchName == "" {
		c.MCP.Tools.SearchName = def.MCP.Tools.SearchName
	}
	if c.MCP.Tools.SearchDescription == "" {
		c.MCP.Tools.SearchDescription = def.MCP.Tools.SearchDescription
	}
}

// Print logs the effective configuration.
func (c *Config) Print() {
	log.Printf("🔍 Instances (%d): %s", len(c.Searx.Instances), strings.Join(c.Searx.Instances, ", "))
	log.Printf("🔍 Per-page heuristic: %d, timeout per attempt: %s", c.Searx.PerPage, c.Searx.Timeout)
	if c.Searx.PageZeroFallback {
		log.Printf("🔁 pageno=0 fallback enabled")
	}
	if c.Searx.Breaker.Enabled {
		log.Printf("🧯 Circuit breaker: %d failures, open for %s", c.Searx.Breaker.MaxFailures, c.Searx.Breaker.OpenTimeout)
	}
	if c.Proxy.Enabled {
		log.Printf("🌐 Using proxy: %s", c.Proxy.URL)
	} else {
		log.Printf("🌐 No proxy configured")
	}
	if c.Server.CORS.Enabled {
		log.Printf("🔒 CORS enabled with origin: %s", c.Server.CORS.Origin)
	} else {
		log.Printf("🔒 CORS disabled")
	}
	if c.Server.RateLimit.RequestsPerMin > 0 {
		log.Printf("🚦 Rate limit: %d req/min, burst %d", c.Server.RateLimit.RequestsPerMin, c.Server.RateLimit.Burst)
	}
	log.Printf("🔧 MCP Server: %s v%s", c.MCP.ServerName, c.MCP.ServerVersion)
	log.Printf("🖥️ Server will listen on %s:%d", c.Server.Host, c.Server.Port)
}

// GetPort returns the listen port.
func (c *Config) GetPort() int {
	return c.Server.Port
}

// GetHost returns the listen host.
func (c *Config) GetHost() string {
	return c.Server.Host
}

// Addr returns host:port for the listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsEnableCORS reports whether the JSON API is wrapped with CORS.
func (c *Config) IsEnableCORS() bool {
	return c.Server.CORS.Enabled
}

// GetCORSOrigin returns the allowed origin.
func (c *Config) GetCORSOrigin() string {
	return c.Server.CORS.Origin
}

// IsUseProxy reports whether instance requests go through a proxy.
func (c *Config) IsUseProxy() bool {
	return c.Proxy.Enabled
}

// GetProxyURL returns the outbound proxy URL.
func (c *Config) GetProxyURL() string {
	return c.Proxy.URL
}

func (c *Config) GetMCPServerName() string {
	return c.MCP.ServerName
}

func (c *Config) GetMCPServerVersion() string {
	return c.MCP.ServerVersion
}

func (c *Config) GetMCPSearchToolName() string {
	return c.MCP.Tools.SearchName
}

func (c *Config) GetMCPSearchToolDescription() string {
	return c.MCP.Tools.SearchDescription
}
