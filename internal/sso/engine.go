package sso

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/opencatalog/websso/internal/crypto"
)

// Config carries the service provider identity and endpoint layout.
type Config struct {
	// EntityID is this SP's unique identifier, used as AuthnRequest
	// issuer and metadata entityID.
	EntityID string
	// ACSURL is the absolute assertion consumer endpoint the IdP posts
	// responses to.
	ACSURL string
	// SLOURL is the absolute single logout endpoint.
	SLOURL string
	// IdPEntityID selects the IdP entity out of a federation metadata
	// document. Blank picks the first IdP role found.
	IdPEntityID string

	// Metadata publication extras.
	OrgName        string
	OrgDisplayName string
	OrgURL         string
	TechnicalEmail string
}

// Engine wires the SSO/SLO flows together: it initiates logins, consumes
// assertions and orchestrates logout against one IdP. All handler methods
// are safe for concurrent use; shared state lives in the resolver, the
// relay store, the replay guard and the session manager, each of which
// synchronizes internally.
type Engine struct {
	config   Config
	keys     *crypto.KeyStore
	resolver *MetadataResolver
	relay    *RelayStore
	replay   *ReplayGuard
	sessions LoginPipeline
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewEngine assembles an engine from its collaborators. The clock stamps
// outbound messages and drives the timestamp checks on inbound ones.
func NewEngine(config Config, keys *crypto.KeyStore, resolver *MetadataResolver, relay *RelayStore, replay *ReplayGuard, sessions LoginPipeline, clock clockwork.Clock, logger zerolog.Logger) *Engine {
	return &Engine{
		config:   config,
		keys:     keys,
		resolver: resolver,
		relay:    relay,
		replay:   replay,
		sessions: sessions,
		clock:    clock,
		logger:   logger.With().Str("component", "sso-engine").Logger(),
	}
}

// Resolver exposes the metadata resolver, mainly so hosts can swap
// metadata at runtime.
func (e *Engine) Resolver() *MetadataResolver {
	return e.resolver
}
