package sso

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencatalog/websso/internal/saml"
)

// RegisterRoutes mounts the engine's HTTP surface on a chi router.
func (e *Engine) RegisterRoutes(r chi.Router) {
	r.Get("/login", e.handleLogin)
	r.Get("/sso", e.handler(e.ConsumeGet))
	r.Post("/sso", e.handler(e.ConsumePost))
	r.Get("/sso/metadata", e.handleMetadata)
	r.Get("/logout", e.handler(e.LogoutGet))
	r.Post("/logout", e.handler(e.LogoutPost))
	r.Get("/logout/start", e.handleStartLogout)
}

// handler adapts an error-returning flow method to http.HandlerFunc,
// mapping the error class to a status and a generic message.
func (e *Engine) handler(fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			e.writeError(w, r, err)
		}
	}
}

// writeError logs the full failure server-side and answers the remote
// party with a class-generic message. Raw error text never goes on the
// wire; detailed failure reasons would hand an attacker an oracle against
// the signature and validation logic.
func (e *Engine) writeError(w http.ResponseWriter, r *http.Request, err error) {
	class := saml.ClassOf(err)

	e.logger.Error().
		Err(err).
		Str("class", class.String()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Msg("request failed")

	status := http.StatusInternalServerError
	message := "request could not be processed, restart login or logout"
	switch class {
	case saml.ClassDecode, saml.ClassParse:
		status = http.StatusBadRequest
		message = "malformed message"
	case saml.ClassSignature:
		status = http.StatusForbidden
		message = "message could not be authenticated"
	case saml.ClassValidation:
		status = http.StatusForbidden
		message = "message was rejected"
	case saml.ClassRelayState:
		status = http.StatusForbidden
		message = "login attempt is unknown or has expired, restart login"
	case saml.ClassSession:
		status = http.StatusForbidden
		message = "sign-on was not accepted"
	}
	http.Error(w, message, status)
}

// handleLogin triggers login initiation. The optional return parameter
// names where to land after the round-trip; only relative paths are
// accepted so the relay store cannot be seeded with an off-site redirect.
func (e *Engine) handleLogin(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("return")
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		target = "/"
	}
	if err := e.Initiate(w, r, target); err != nil {
		e.writeError(w, r, err)
	}
}

func (e *Engine) handleStartLogout(w http.ResponseWriter, r *http.Request) {
	if err := e.StartLogout(w, r, "/"); err != nil {
		e.writeError(w, r, err)
	}
}

// handleMetadata publishes this SP's own metadata document.
func (e *Engine) handleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := saml.BuildSPMetadata(saml.SPMetadataConfig{
		EntityID:       e.config.EntityID,
		ACSURL:         e.config.ACSURL,
		SLOURL:         e.config.SLOURL,
		Certificate:    e.keys.Certificate(),
		OrgName:        e.config.OrgName,
		OrgDisplayName: e.config.OrgDisplayName,
		OrgURL:         e.config.OrgURL,
		TechnicalEmail: e.config.TechnicalEmail,
	})

	xmlData, err := saml.MarshalMetadata(metadata)
	if err != nil {
		e.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(xmlData)
}
