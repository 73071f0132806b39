package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the service configuration, read from the environment.
type Config struct {
	// Environment (development, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute endpoint URLs
	BaseURL string

	// SP entity ID; defaults to BaseURL + "/sso/metadata"
	EntityID string

	// Entity ID of the IdP to select from federation metadata; blank
	// picks the first IdP entity found
	IdPEntityID string

	// Path to the IdP metadata XML document
	IdPMetadataPath string

	// PEM key material for signing; both blank means generate a
	// self-signed development pair at startup
	SigningKeyPath  string
	SigningCertPath string

	// RelayState token lifetime
	RelayTTL time.Duration

	// Local session lifetime
	SessionTTL time.Duration

	// CORS allowed origins
	CORSOrigins []string

	// Metadata publication extras
	OrgName        string
	OrgDisplayName string
	OrgURL         string
	TechnicalEmail string

	// Enable debug logging
	Debug bool
}

// LoadConfig loads configuration from environment variables with sensible
// defaults.
func LoadConfig() *Config {
	baseURL := strings.TrimRight(getEnv("WEBSSO_BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		Environment:     getEnv("WEBSSO_ENV", "development"),
		ListenAddr:      getEnv("WEBSSO_LISTEN_ADDR", ":8080"),
		BaseURL:         baseURL,
		EntityID:        getEnv("WEBSSO_ENTITY_ID", baseURL+"/sso/metadata"),
		IdPEntityID:     getEnv("WEBSSO_IDP_ENTITY_ID", ""),
		IdPMetadataPath: getEnv("WEBSSO_IDP_METADATA", ""),
		SigningKeyPath:  getEnv("WEBSSO_SIGNING_KEY", ""),
		SigningCertPath: getEnv("WEBSSO_SIGNING_CERT", ""),
		RelayTTL:        getEnvDuration("WEBSSO_RELAY_TTL", 10*time.Minute),
		SessionTTL:      getEnvDuration("WEBSSO_SESSION_TTL", 8*time.Hour),
		CORSOrigins:     getEnvList("WEBSSO_CORS_ORIGINS", []string{"http://localhost:3000"}),
		OrgName:         getEnv("WEBSSO_ORG_NAME", ""),
		OrgDisplayName:  getEnv("WEBSSO_ORG_DISPLAY_NAME", ""),
		OrgURL:          getEnv("WEBSSO_ORG_URL", ""),
		TechnicalEmail:  getEnv("WEBSSO_TECHNICAL_EMAIL", ""),
		Debug:           getEnvBool("WEBSSO_DEBUG", false),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// ACSURL is the absolute assertion consumer endpoint.
func (c *Config) ACSURL() string {
	return c.BaseURL + "/sso"
}

// SLOURL is the absolute single logout endpoint.
func (c *Config) SLOURL() string {
	return c.BaseURL + "/logout"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
