package sso

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/opencatalog/websso/internal/saml"
)

// Initiate starts a login round-trip for the request's original target.
// The target URL (path plus query) is parked in the relay store and only
// its opaque token travels to the IdP. Depending on the IdP's advertised
// binding the user agent is either redirected with a signed query string
// or handed an auto-submitting form carrying a signed message.
//
// Nothing is written to the response until every encode and sign step has
// succeeded; a failure returns an error and leaves the response untouched.
func (e *Engine) Initiate(w http.ResponseWriter, r *http.Request, target string) error {
	descriptor := e.resolver.Descriptor()
	if descriptor == nil || descriptor.SSOLocation == "" {
		return saml.Errorf(saml.ClassValidation, "no usable IdP SSO endpoint")
	}

	if target == "" {
		target = r.URL.RequestURI()
	}
	token := e.relay.Encode(target)

	request := saml.NewAuthnRequest(
		e.config.EntityID,
		descriptor.SSOLocation,
		e.config.ACSURL,
		descriptor.SSOBinding.URN(),
		e.clock.Now(),
	)

	e.logger.Info().
		Str("request_id", request.ID).
		Str("binding", descriptor.SSOBinding.String()).
		Str("destination", descriptor.SSOLocation).
		Msg("initiating login")

	switch descriptor.SSOBinding {
	case saml.BindingPost:
		return e.dispatchPost(w, "SAMLRequest", request, descriptor.SSOLocation, token)
	default:
		return e.dispatchRedirect(w, r, "SAMLRequest", request, descriptor.SSOLocation, token)
	}
}

// dispatchRedirect sends a protocol message over the HTTP-Redirect binding:
// the message travels unsigned, the query string carries the signature.
func (e *Engine) dispatchRedirect(w http.ResponseWriter, r *http.Request, param string, message any, location, relayState string) error {
	encoded, err := saml.EncodeRedirect(message)
	if err != nil {
		return err
	}

	query, err := saml.BuildSignedQuery(param, encoded, relayState, e.keys)
	if err != nil {
		return err
	}

	// The signed query must reach the wire byte for byte, so the URL is
	// assembled textually instead of through url.Values.
	separator := "?"
	if strings.Contains(location, "?") {
		separator = "&"
	}
	http.Redirect(w, r, location+separator+query, http.StatusFound)
	return nil
}

// dispatchPost sends a protocol message over the HTTP-POST binding: the
// message itself carries an enveloped signature and an auto-submitting
// form delivers it.
func (e *Engine) dispatchPost(w http.ResponseWriter, param string, message any, location, relayState string) error {
	xmlData, err := xml.Marshal(message)
	if err != nil {
		return saml.WrapError(saml.ClassParse, "marshal post message", err)
	}

	signed, err := saml.SignEnveloped(xmlData, e.keys)
	if err != nil {
		return err
	}

	form, err := saml.AutoSubmitForm(location, param, saml.EncodePost(signed), relayState)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, err = w.Write([]byte(form))
	return err
}
