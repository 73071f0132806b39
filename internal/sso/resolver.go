// Package sso implements the SAML2 Web SSO and Single Logout engine: login
// initiation, assertion consumption and logout orchestration against one
// external Identity Provider, over the HTTP-Redirect and HTTP-POST bindings.
package sso

import (
	"crypto/x509"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/opencatalog/websso/internal/saml"
)

// IdPDescriptor is the parsed, immutable view of the Identity Provider's
// metadata: endpoints with their resolved bindings and the trust material.
// A descriptor is built once per raw metadata document and shared read-only.
type IdPDescriptor struct {
	EntityID string

	SSOLocation string
	SSOBinding  saml.Binding
	SLOLocation string
	SLOBinding  saml.Binding

	SigningCertificates    []*x509.Certificate
	EncryptionCertificates []*x509.Certificate
}

// MetadataResolver turns raw federation metadata into an IdPDescriptor and
// caches the result. Parsing is lazy: the first Descriptor call after
// metadata is (re)supplied does the work, concurrent first calls race
// benignly and the compare-and-swap loser discards its parse. Supplying new
// metadata clears the snapshot wholesale so readers never observe a mix of
// old and new fields.
type MetadataResolver struct {
	// entityID, when set, selects that entity out of a federation
	// document. When blank the first IdP role found wins.
	entityID string
	logger   zerolog.Logger

	raw      atomic.Pointer[[]byte]
	snapshot atomic.Pointer[IdPDescriptor]
}

// NewMetadataResolver creates a resolver that selects entityID from the
// supplied metadata documents. entityID may be blank.
func NewMetadataResolver(entityID string, logger zerolog.Logger) *MetadataResolver {
	return &MetadataResolver{
		entityID: entityID,
		logger:   logger.With().Str("component", "metadata-resolver").Logger(),
	}
}

// SetMetadata replaces the raw metadata document and invalidates the cached
// descriptor. The next Descriptor call re-parses.
func (r *MetadataResolver) SetMetadata(xmlData []byte) {
	r.raw.Store(&xmlData)
	r.snapshot.Store(nil)
}

// Descriptor returns the current IdP descriptor, parsing the raw metadata
// on first access. A parse failure is logged and yields nil; callers must
// treat every accessor as possibly empty. Until a parse succeeds the work is
// repeated on each call.
func (r *MetadataResolver) Descriptor() *IdPDescriptor {
	if snapshot := r.snapshot.Load(); snapshot != nil {
		return snapshot
	}

	raw := r.raw.Load()
	if raw == nil {
		return nil
	}

	descriptor, err := r.parse(*raw)
	if err != nil {
		r.logger.Error().Err(err).Msg("idp metadata parse failed")
		return nil
	}

	if r.snapshot.CompareAndSwap(nil, descriptor) {
		r.logger.Info().
			Str("entity_id", descriptor.EntityID).
			Str("sso_location", descriptor.SSOLocation).
			Str("sso_binding", descriptor.SSOBinding.String()).
			Int("signing_certs", len(descriptor.SigningCertificates)).
			Msg("idp metadata parsed")
		return descriptor
	}
	// Another goroutine won the race; use its snapshot.
	return r.snapshot.Load()
}

func (r *MetadataResolver) parse(xmlData []byte) (*IdPDescriptor, error) {
	entities, err := saml.ParseMetadata(xmlData)
	if err != nil {
		return nil, err
	}

	entity := r.selectEntity(entities)
	if entity == nil {
		return nil, saml.Errorf(saml.ClassParse, "no matching IdP entity in metadata")
	}
	idp := entity.IDPSSODescriptor

	descriptor := &IdPDescriptor{EntityID: entity.EntityID}

	descriptor.SSOLocation, descriptor.SSOBinding = reduceEndpoints(ssoServices(idp))
	descriptor.SLOLocation, descriptor.SLOBinding = reduceEndpoints(sloServices(idp))

	for i := range idp.KeyDescriptors {
		kd := &idp.KeyDescriptors[i]
		certs, err := kd.Certificates()
		if err != nil {
			return nil, err
		}
		// A key with no declared use serves both roles.
		if kd.Use == saml.KeyUseSigning || kd.Use == "" {
			descriptor.SigningCertificates = append(descriptor.SigningCertificates, certs...)
		}
		if kd.Use == saml.KeyUseEncryption || kd.Use == "" {
			descriptor.EncryptionCertificates = append(descriptor.EncryptionCertificates, certs...)
		}
	}

	return descriptor, nil
}

func (r *MetadataResolver) selectEntity(entities []saml.EntityDescriptor) *saml.EntityDescriptor {
	for i := range entities {
		entity := &entities[i]
		if entity.IDPSSODescriptor == nil {
			continue
		}
		if r.entityID == "" || entity.EntityID == r.entityID {
			return entity
		}
	}
	return nil
}

type endpoint struct {
	binding  string
	location string
}

func ssoServices(idp *saml.IDPSSODescriptor) []endpoint {
	out := make([]endpoint, 0, len(idp.SingleSignOnServices))
	for _, svc := range idp.SingleSignOnServices {
		out = append(out, endpoint{svc.Binding, svc.Location})
	}
	return out
}

func sloServices(idp *saml.IDPSSODescriptor) []endpoint {
	out := make([]endpoint, 0, len(idp.SingleLogoutServices))
	for _, svc := range idp.SingleLogoutServices {
		out = append(out, endpoint{svc.Binding, svc.Location})
	}
	return out
}

// reduceEndpoints picks one endpoint out of the advertised set: the first
// HTTP-Redirect endpoint wins outright, otherwise the first HTTP-POST
// endpoint is kept. A blank binding counts as Redirect; endpoints on other
// bindings are ignored.
func reduceEndpoints(endpoints []endpoint) (string, saml.Binding) {
	var chosen *endpoint
	for i := range endpoints {
		ep := &endpoints[i]
		switch ep.binding {
		case saml.BindingURNHTTPRedirect, "":
			return ep.location, saml.BindingRedirect
		case saml.BindingURNHTTPPost:
			if chosen == nil {
				chosen = ep
			}
		}
	}
	if chosen == nil {
		return "", saml.BindingRedirect
	}
	return chosen.location, saml.BindingPost
}
