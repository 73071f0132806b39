package core

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalog/websso/internal/crypto"
	"github.com/opencatalog/websso/internal/sso"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WEBSSO_BASE_URL", "")
	t.Setenv("WEBSSO_ENTITY_ID", "")
	t.Setenv("WEBSSO_RELAY_TTL", "")

	cfg := LoadConfig()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "http://localhost:8080/sso/metadata", cfg.EntityID)
	assert.Equal(t, "http://localhost:8080/sso", cfg.ACSURL())
	assert.Equal(t, "http://localhost:8080/logout", cfg.SLOURL())
	assert.Equal(t, 10*time.Minute, cfg.RelayTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WEBSSO_BASE_URL", "https://catalog.example.com/")
	t.Setenv("WEBSSO_RELAY_TTL", "5m")
	t.Setenv("WEBSSO_DEBUG", "1")

	cfg := LoadConfig()
	assert.Equal(t, "https://catalog.example.com", cfg.BaseURL)
	assert.Equal(t, "https://catalog.example.com/sso", cfg.ACSURL())
	assert.Equal(t, 5*time.Minute, cfg.RelayTTL)
	assert.True(t, cfg.Debug)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	keys, err := crypto.GenerateKeyStore("https://sp.example.com/sso/metadata")
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	resolver := sso.NewMetadataResolver("", zerolog.Nop())
	relay := sso.NewRelayStore(10*time.Minute, clock)
	t.Cleanup(relay.Close)
	replay := sso.NewReplayGuard(10*time.Minute, clock)
	t.Cleanup(replay.Close)
	sessions := sso.NewSessionManager(time.Hour, false, clock)

	engine := sso.NewEngine(sso.Config{
		EntityID: "https://sp.example.com/sso/metadata",
		ACSURL:   "https://sp.example.com/sso",
		SLOURL:   "https://sp.example.com/logout",
	}, keys, resolver, relay, replay, sessions, clock, zerolog.Nop())

	cfg := &Config{
		Environment: "development",
		BaseURL:     "https://sp.example.com",
		CORSOrigins: []string{"https://app.example.com"},
	}
	return NewServer(cfg, engine, zerolog.Nop())
}

func TestServerHealth(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestServerPublishesMetadata(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest("GET", "/sso/metadata", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "samlmetadata")
	assert.Contains(t, w.Body.String(), `entityID="https://sp.example.com/sso/metadata"`)
}
