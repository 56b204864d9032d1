package creditapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":9090"
	defaultLedgerAddr      = "localhost:7000"
	defaultLedgerTimeout   = 3 * time.Second
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultServiceIssuer   = "videocredits"
	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
	serviceTokenSubject    = "creditapi"
)

// Config aggregates runtime settings for the credits HTTP API.
type Config struct {
	ListenAddr         string
	LedgerAddress      string
	LedgerInsecure     bool
	LedgerTimeout      time.Duration
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	ServiceTokenKey    string
	ServiceTokenIssuer string
	HistoryPageSize    int
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.LedgerAddress = defaultIfEmpty(cfg.LedgerAddress, defaultLedgerAddr)
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultLedgerTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.ServiceTokenIssuer = defaultIfEmpty(cfg.ServiceTokenIssuer, defaultServiceIssuer)
	if cfg.HistoryPageSize == 0 {
		cfg.HistoryPageSize = defaultHistoryPageSize
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.HistoryPageSize < 1 || cfg.HistoryPageSize > maxHistoryPageSize {
		return fmt.Errorf("history page size must be between 1 and %d", maxHistoryPageSize)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
