package saml

import (
	"bytes"
	"encoding/xml"

	xrv "github.com/mattermost/xml-roundtrip-validator"
)

// checkRoundTrip rejects documents that Go's XML decoder would mutate on a
// round trip. Such documents are the raw material for signature-exclusion
// attacks, so they never reach the protocol parser.
func checkRoundTrip(xmlData []byte) error {
	if err := xrv.Validate(bytes.NewReader(xmlData)); err != nil {
		return WrapError(ClassParse, "unsafe XML document", err)
	}
	return nil
}

// ParseResponse parses an AuthnResponse document.
func ParseResponse(xmlData []byte) (*Response, error) {
	if err := checkRoundTrip(xmlData); err != nil {
		return nil, err
	}
	var response Response
	if err := xml.Unmarshal(xmlData, &response); err != nil {
		return nil, WrapError(ClassParse, "unmarshal Response", err)
	}
	return &response, nil
}

// ParseLogoutRequest parses a LogoutRequest document.
func ParseLogoutRequest(xmlData []byte) (*LogoutRequest, error) {
	if err := checkRoundTrip(xmlData); err != nil {
		return nil, err
	}
	var request LogoutRequest
	if err := xml.Unmarshal(xmlData, &request); err != nil {
		return nil, WrapError(ClassParse, "unmarshal LogoutRequest", err)
	}
	return &request, nil
}

// ParseLogoutResponse parses a LogoutResponse document.
func ParseLogoutResponse(xmlData []byte) (*LogoutResponse, error) {
	if err := checkRoundTrip(xmlData); err != nil {
		return nil, err
	}
	var response LogoutResponse
	if err := xml.Unmarshal(xmlData, &response); err != nil {
		return nil, WrapError(ClassParse, "unmarshal LogoutResponse", err)
	}
	return &response, nil
}
