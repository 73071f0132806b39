package saml

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// The validators are free functions over a parsed message, its raw document
// bytes and the trusted certificate material. They hold no state and attach
// nothing to the data model; orchestration policy (such as requiring that a
// logout message be signed at all) lives with the callers.

// ValidateAuthnResponse checks an inbound AuthnResponse:
//   - status code must equal Success,
//   - at least one assertion must be present (more than one is tolerated
//     with a warning; only the first is consumed),
//   - an enveloped signature, when present, must verify against one of certs.
//
// An unsigned response passes; the consumer logs each unsigned acceptance.
func ValidateAuthnResponse(response *Response, xmlData []byte, certs []*x509.Certificate) error {
	if response.Status == nil || response.Status.StatusCode.Value != StatusSuccess {
		code := "absent"
		if response.Status != nil {
			code = response.Status.StatusCode.Value
		}
		return Errorf(ClassValidation, "response status is not success: %s", code)
	}

	if len(response.Assertions) == 0 {
		return Errorf(ClassValidation, "response carries no assertion")
	}
	if len(response.Assertions) > 1 {
		log.Warn().
			Str("response_id", response.ID).
			Int("assertion_count", len(response.Assertions)).
			Msg("response carries multiple assertions, only the first is used")
	}

	if response.Signature != nil {
		if err := VerifyEnveloped(xmlData, certs...); err != nil {
			if errors.Is(err, ErrNoSignature) {
				// The decoder saw a Signature element the canonical
				// verifier does not accept as covering the root.
				return Errorf(ClassSignature, "response signature does not cover the message")
			}
			return err
		}
	}

	return nil
}

// ValidateLogoutRequest checks an inbound LogoutRequest:
//   - a NotOnOrAfter timestamp in the past fails as expired,
//   - an enveloped signature, when present, must verify against one of certs.
//
// This function does not itself require a signature; the orchestrator
// layers that requirement on top.
func ValidateLogoutRequest(request *LogoutRequest, xmlData []byte, certs []*x509.Certificate, now time.Time) error {
	if request.NotOnOrAfter != "" {
		deadline, err := time.Parse(TimeFormat, request.NotOnOrAfter)
		if err != nil {
			return WrapError(ClassValidation, "unparsable NotOnOrAfter", err)
		}
		if !now.Before(deadline) {
			return Errorf(ClassValidation, "logout request expired at %s", request.NotOnOrAfter)
		}
	}

	if request.Signature != nil {
		if err := VerifyEnveloped(xmlData, certs...); err != nil && !errors.Is(err, ErrNoSignature) {
			return err
		}
	}

	return nil
}

// ValidateLogoutResponse checks an inbound LogoutResponse. The signature,
// when present, must verify; the status code is surfaced in the log but not
// enforced.
func ValidateLogoutResponse(response *LogoutResponse, xmlData []byte, certs []*x509.Certificate) error {
	if response.Signature != nil {
		if err := VerifyEnveloped(xmlData, certs...); err != nil && !errors.Is(err, ErrNoSignature) {
			return err
		}
	}

	if response.Status != nil && response.Status.StatusCode.Value != StatusSuccess {
		log.Info().
			Str("response_id", response.ID).
			Str("status", response.Status.StatusCode.Value).
			Msg("logout response reports non-success status")
	}

	return nil
}
