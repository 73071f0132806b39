package sso

import (
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/opencatalog/websso/internal/crypto"
	"github.com/opencatalog/websso/internal/saml"
)

// ConsumeGet handles an AuthnResponse arriving on the HTTP-Redirect
// binding. The detached query signature, when the Signature parameter is
// present, must verify over the raw query octets as received. A response
// with no Signature parameter at all is accepted without verification and
// logged each time.
func (e *Engine) ConsumeGet(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	encoded := query.Get("SAMLResponse")
	if encoded == "" {
		return saml.Errorf(saml.ClassDecode, "missing SAMLResponse parameter")
	}

	if signature := query.Get("Signature"); signature != "" {
		if err := e.verifyRedirectSignature(r.URL.RawQuery, "SAMLResponse", signature, query.Get("SigAlg")); err != nil {
			return err
		}
	} else {
		e.logger.Warn().
			Str("remote", r.RemoteAddr).
			Msg("accepting unsigned redirect-binding response")
	}

	xmlData, err := saml.DecodeRedirect(encoded)
	if err != nil {
		return err
	}
	return e.consume(w, r, xmlData, query.Get("RelayState"))
}

// ConsumePost handles an AuthnResponse arriving on the HTTP-POST binding.
// Trust comes from the enveloped signature inside the message, checked by
// the validator.
func (e *Engine) ConsumePost(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return saml.WrapError(saml.ClassDecode, "parse form body", err)
	}
	encoded := r.PostForm.Get("SAMLResponse")
	if encoded == "" {
		return saml.Errorf(saml.ClassDecode, "missing SAMLResponse field")
	}

	xmlData, err := saml.DecodePost(encoded)
	if err != nil {
		return err
	}
	return e.consume(w, r, xmlData, r.PostForm.Get("RelayState"))
}

// verifyRedirectSignature checks a detached query signature against the
// IdP's signing certificates, over the exact octets the sender signed.
func (e *Engine) verifyRedirectSignature(rawQuery, param, signature, sigAlg string) error {
	descriptor := e.resolver.Descriptor()
	if descriptor == nil || len(descriptor.SigningCertificates) == 0 {
		return saml.Errorf(saml.ClassSignature, "no trusted IdP signing certificate")
	}

	octets, ok := saml.SignedQueryOctets(rawQuery, param)
	if !ok {
		return saml.Errorf(saml.ClassSignature, "query lacks the signed message parameter")
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		// Signature arrives URL-decoded by the query parser; '+' may
		// have turned into space on sloppy senders.
		return saml.WrapError(saml.ClassSignature, "malformed Signature parameter", err)
	}
	if decodedAlg, err := url.QueryUnescape(sigAlg); err == nil {
		sigAlg = decodedAlg
	}

	if err := crypto.VerifyRedirectQuery(sigAlg, octets, sigBytes, descriptor.SigningCertificates); err != nil {
		return saml.WrapError(saml.ClassSignature, "redirect signature rejected", err)
	}
	return nil
}

// consume runs the binding-independent tail of assertion consumption:
// parse, validate, redeem the relay token, then replace any existing local
// session with one for the asserted subject and bounce the user agent to
// the original target.
func (e *Engine) consume(w http.ResponseWriter, r *http.Request, xmlData []byte, relayToken string) error {
	response, err := saml.ParseResponse(xmlData)
	if err != nil {
		return err
	}

	if err := saml.ValidateAuthnResponse(response, xmlData, e.signingCertificates()); err != nil {
		return err
	}

	assertion := response.Assertions[0]
	if !e.replay.Remember(assertion.ID) {
		return saml.Errorf(saml.ClassValidation, "assertion %s already consumed", assertion.ID)
	}

	target, ok := e.relay.Decode(relayToken)
	if !ok {
		return saml.Errorf(saml.ClassRelayState, "unknown or expired relay token")
	}

	credential := credentialFromAssertion(assertion, response)
	e.sessions.Destroy(w, r)
	if err := e.sessions.Establish(w, r, credential); err != nil {
		return saml.WrapError(saml.ClassSession, "session establishment rejected", err)
	}

	e.logger.Info().
		Str("response_id", response.ID).
		Str("name_id", credential.NameID).
		Str("target", target).
		Msg("login completed")

	http.Redirect(w, r, target, http.StatusSeeOther)
	return nil
}

func (e *Engine) signingCertificates() []*x509.Certificate {
	descriptor := e.resolver.Descriptor()
	if descriptor == nil {
		return nil
	}
	return descriptor.SigningCertificates
}

// credentialFromAssertion flattens the first assertion into the hand-off
// credential for the login pipeline.
func credentialFromAssertion(assertion *saml.Assertion, response *saml.Response) Credential {
	credential := Credential{Attributes: map[string][]string{}}

	if response.Issuer != nil {
		credential.IdPEntityID = response.Issuer.Value
	}
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		credential.NameID = assertion.Subject.NameID.Value
		credential.NameIDFormat = assertion.Subject.NameID.Format
	}
	if assertion.AuthnStatement != nil {
		credential.SessionIndex = assertion.AuthnStatement.SessionIndex
	}
	if assertion.AttributeStatement != nil {
		for _, attribute := range assertion.AttributeStatement.Attributes {
			for _, value := range attribute.AttributeValues {
				credential.Attributes[attribute.Name] = append(credential.Attributes[attribute.Name], value.Value)
			}
		}
	}
	return credential
}
