package sso

import (
	"net/http"

	"github.com/opencatalog/websso/internal/saml"
)

// StartLogout begins SP-initiated single logout. The local session is
// destroyed first, unconditionally, so the user is logged out here even if
// the IdP round-trip never completes. Without a usable SLO endpoint the
// flow degrades to local-only logout.
func (e *Engine) StartLogout(w http.ResponseWriter, r *http.Request, returnTo string) error {
	session, ok := e.sessions.Current(r)
	e.sessions.Destroy(w, r)
	if !ok {
		http.Redirect(w, r, returnTo, http.StatusSeeOther)
		return nil
	}

	descriptor := e.resolver.Descriptor()
	if descriptor == nil || descriptor.SLOLocation == "" {
		e.logger.Warn().Msg("no IdP SLO endpoint, local logout only")
		http.Redirect(w, r, returnTo, http.StatusSeeOther)
		return nil
	}

	credential := session.Credential
	var sessionIndexes []string
	if credential.SessionIndex != "" {
		sessionIndexes = []string{credential.SessionIndex}
	}
	request := saml.NewLogoutRequest(
		e.config.EntityID,
		descriptor.SLOLocation,
		credential.NameID,
		credential.NameIDFormat,
		sessionIndexes,
		e.clock.Now(),
	)

	// The relay token brings the user back to returnTo when the IdP's
	// LogoutResponse arrives.
	token := e.relay.Encode(returnTo)

	e.logger.Info().
		Str("request_id", request.ID).
		Str("name_id", credential.NameID).
		Str("binding", descriptor.SLOBinding.String()).
		Msg("initiating logout")

	switch descriptor.SLOBinding {
	case saml.BindingPost:
		return e.dispatchPost(w, "SAMLRequest", request, descriptor.SLOLocation, token)
	default:
		return e.dispatchRedirect(w, r, "SAMLRequest", request, descriptor.SLOLocation, token)
	}
}

// LogoutGet handles the HTTP-Redirect side of the SLO endpoint, which
// receives either a LogoutRequest (IdP-initiated) or a LogoutResponse
// (completing an SP-initiated flow).
func (e *Engine) LogoutGet(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()

	if encoded := query.Get("SAMLRequest"); encoded != "" {
		// Inbound logout over Redirect must carry a query signature.
		signature := query.Get("Signature")
		if signature == "" {
			e.sessionsFailClosed(w, r, nil)
			return saml.Errorf(saml.ClassSignature, "unsigned logout request rejected")
		}
		if err := e.verifyRedirectSignature(r.URL.RawQuery, "SAMLRequest", signature, query.Get("SigAlg")); err != nil {
			e.sessionsFailClosed(w, r, nil)
			return err
		}

		xmlData, err := saml.DecodeRedirect(encoded)
		if err != nil {
			return err
		}
		return e.handleLogoutRequest(w, r, xmlData, query.Get("RelayState"), true)
	}

	if encoded := query.Get("SAMLResponse"); encoded != "" {
		// A detached signature, when the IdP sends one, must verify.
		if signature := query.Get("Signature"); signature != "" {
			if err := e.verifyRedirectSignature(r.URL.RawQuery, "SAMLResponse", signature, query.Get("SigAlg")); err != nil {
				return err
			}
		}
		xmlData, err := saml.DecodeRedirect(encoded)
		if err != nil {
			return err
		}
		return e.handleLogoutResponse(w, r, xmlData, query.Get("RelayState"))
	}

	return saml.Errorf(saml.ClassDecode, "missing SAMLRequest or SAMLResponse parameter")
}

// LogoutPost handles the HTTP-POST side of the SLO endpoint.
func (e *Engine) LogoutPost(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return saml.WrapError(saml.ClassDecode, "parse form body", err)
	}

	if encoded := r.PostForm.Get("SAMLRequest"); encoded != "" {
		xmlData, err := saml.DecodePost(encoded)
		if err != nil {
			return err
		}
		return e.handleLogoutRequest(w, r, xmlData, r.PostForm.Get("RelayState"), false)
	}

	if encoded := r.PostForm.Get("SAMLResponse"); encoded != "" {
		xmlData, err := saml.DecodePost(encoded)
		if err != nil {
			return err
		}
		return e.handleLogoutResponse(w, r, xmlData, r.PostForm.Get("RelayState"))
	}

	return saml.Errorf(saml.ClassDecode, "missing SAMLRequest or SAMLResponse field")
}

// handleLogoutRequest runs IdP-initiated logout. The local session dies
// before the request is validated: whatever else goes wrong, the user ends
// up logged out here. queryVerified records that the redirect binding
// already checked its detached signature; on POST the enveloped signature
// is mandatory instead.
func (e *Engine) handleLogoutRequest(w http.ResponseWriter, r *http.Request, xmlData []byte, relayState string, queryVerified bool) error {
	request, err := saml.ParseLogoutRequest(xmlData)
	if err != nil {
		e.sessionsFailClosed(w, r, nil)
		return err
	}

	e.sessionsFailClosed(w, r, request.NameID)

	certs := e.signingCertificates()
	if !queryVerified {
		if err := saml.VerifyEnveloped(xmlData, certs...); err != nil {
			return saml.WrapError(saml.ClassSignature, "logout request must be signed", err)
		}
	}
	if err := saml.ValidateLogoutRequest(request, xmlData, certs, e.clock.Now()); err != nil {
		return err
	}

	descriptor := e.resolver.Descriptor()
	if descriptor == nil || descriptor.SLOLocation == "" {
		return saml.Errorf(saml.ClassValidation, "no IdP SLO endpoint for logout response")
	}

	response := saml.NewLogoutResponse(
		e.config.EntityID,
		descriptor.SLOLocation,
		request.ID,
		saml.StatusSuccess,
		e.clock.Now(),
	)

	e.logger.Info().
		Str("request_id", request.ID).
		Str("binding", descriptor.SLOBinding.String()).
		Msg("acknowledging idp-initiated logout")

	switch descriptor.SLOBinding {
	case saml.BindingPost:
		return e.dispatchPost(w, "SAMLResponse", response, descriptor.SLOLocation, relayState)
	default:
		return e.dispatchRedirect(w, r, "SAMLResponse", response, descriptor.SLOLocation, relayState)
	}
}

// handleLogoutResponse completes an SP-initiated flow. The status code is
// informational here; the local session was destroyed when the flow began.
func (e *Engine) handleLogoutResponse(w http.ResponseWriter, r *http.Request, xmlData []byte, relayState string) error {
	response, err := saml.ParseLogoutResponse(xmlData)
	if err != nil {
		return err
	}
	if err := saml.ValidateLogoutResponse(response, xmlData, e.signingCertificates()); err != nil {
		return err
	}

	target := "/"
	if relayState != "" {
		if resolved, ok := e.relay.Decode(relayState); ok {
			target = resolved
		}
	}

	e.logger.Info().
		Str("response_id", response.ID).
		Str("in_response_to", response.InResponseTo).
		Msg("logout completed")

	http.Redirect(w, r, target, http.StatusSeeOther)
	return nil
}

// sessionsFailClosed destroys the cookie-bound session and, when the
// inbound message names a subject, every session of that subject.
func (e *Engine) sessionsFailClosed(w http.ResponseWriter, r *http.Request, nameID *saml.NameID) {
	e.sessions.Destroy(w, r)
	if nameID != nil && nameID.Value != "" {
		if removed := e.sessions.DestroyByNameID(nameID.Value); removed > 0 {
			e.logger.Info().
				Str("name_id", nameID.Value).
				Int("sessions", removed).
				Msg("destroyed subject sessions")
		}
	}
}
