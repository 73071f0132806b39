package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/url"
	"strings"
)

// Binding is the transport encoding for a protocol message. It is resolved
// once, from metadata, and passed around as a value; use sites never go back
// to matching URN strings.
type Binding int

const (
	// BindingRedirect is HTTP-Redirect: deflated, base64- and URL-encoded
	// message with a detached signature over the query string.
	BindingRedirect Binding = iota
	// BindingPost is HTTP-POST: base64-encoded message with an enveloped
	// XML signature, delivered by an auto-submitted form.
	BindingPost
)

func (b Binding) String() string {
	if b == BindingPost {
		return "post"
	}
	return "redirect"
}

// URN returns the SAML binding URN.
func (b Binding) URN() string {
	if b == BindingPost {
		return BindingURNHTTPPost
	}
	return BindingURNHTTPRedirect
}

// BindingFromURN resolves an advertised binding URN. A blank or unknown
// value that is not HTTP-POST defaults to Redirect, matching how endpoints
// that advertise nothing usable are treated.
func BindingFromURN(urn string) Binding {
	if urn != "" && !strings.HasSuffix(urn, "Redirect") {
		return BindingPost
	}
	return BindingRedirect
}

// EncodeRedirect serializes a protocol message for the HTTP-Redirect
// binding: XML, raw DEFLATE (no zlib header), base64. URL encoding is the
// query builder's job.
func EncodeRedirect(message any) (string, error) {
	xmlData, err := xml.Marshal(message)
	if err != nil {
		return "", WrapError(ClassParse, "marshal redirect message", err)
	}

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return "", WrapError(ClassDecode, "create deflate writer", err)
	}
	if _, err := writer.Write(xmlData); err != nil {
		writer.Close()
		return "", WrapError(ClassDecode, "deflate message", err)
	}
	if err := writer.Close(); err != nil {
		return "", WrapError(ClassDecode, "flush deflate stream", err)
	}

	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// DecodeRedirect is the exact inverse of EncodeRedirect. The input must
// already be URL-decoded (net/http query parsing does that).
func DecodeRedirect(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, WrapError(ClassDecode, "base64 decode redirect message", err)
	}

	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	xmlData, err := io.ReadAll(reader)
	if err != nil {
		return nil, WrapError(ClassDecode, "inflate redirect message", err)
	}
	return xmlData, nil
}

// EncodePost serializes a protocol message for the HTTP-POST binding:
// XML with declaration, base64, no compression.
func EncodePost(xmlData []byte) string {
	withDecl := append([]byte(xml.Header), xmlData...)
	return base64.StdEncoding.EncodeToString(withDecl)
}

// DecodePost reverses EncodePost. Some agents re-encode '+' as space in
// form bodies; that is undone first.
func DecodePost(encoded string) ([]byte, error) {
	decoded := strings.ReplaceAll(encoded, " ", "+")
	xmlData, err := base64.StdEncoding.DecodeString(decoded)
	if err != nil {
		return nil, WrapError(ClassDecode, "base64 decode post message", err)
	}
	return xmlData, nil
}

// QuerySigner signs the literal redirect-binding query string with the SP's
// private key.
type QuerySigner interface {
	// SignatureAlgorithm returns the SigAlg URI the signer uses.
	SignatureAlgorithm() string
	SignRedirectQuery(query string) ([]byte, error)
}

// BuildSignedQuery assembles and signs a redirect-binding query string.
// Per SAML 2.0 Bindings Section 3.4.4.1 the signature covers exactly
//
//	<param>=<enc>&RelayState=<tok>&SigAlg=<alg>
//
// in that key order with URL-encoded values; SigAlg and Signature are then
// appended to the same string. The caller must use the returned string as
// the raw query verbatim; re-encoding it would reorder keys and break the
// signature.
func BuildSignedQuery(param, encoded, relayState string, signer QuerySigner) (string, error) {
	var query strings.Builder
	query.WriteString(param)
	query.WriteString("=")
	query.WriteString(url.QueryEscape(encoded))
	if relayState != "" {
		query.WriteString("&RelayState=")
		query.WriteString(url.QueryEscape(relayState))
	}

	if signer == nil {
		return query.String(), nil
	}

	// SigAlg participates in the signed octets; Signature does not.
	query.WriteString("&SigAlg=")
	query.WriteString(url.QueryEscape(signer.SignatureAlgorithm()))

	signature, err := signer.SignRedirectQuery(query.String())
	if err != nil {
		return "", WrapError(ClassSignature, "sign redirect query", err)
	}

	query.WriteString("&Signature=")
	query.WriteString(url.QueryEscape(base64.StdEncoding.EncodeToString(signature)))
	return query.String(), nil
}

// SignedQueryOctets reconstructs, from the raw query string as received,
// the exact octets a redirect-binding signature covers: the message
// parameter, RelayState and SigAlg pairs in canonical order, each with the
// URL encoding the sender used. Returns false when the message parameter is
// absent.
func SignedQueryOctets(rawQuery, param string) (string, bool) {
	pairs := map[string]string{}
	for _, kv := range strings.Split(rawQuery, "&") {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch key {
		case param, "RelayState", "SigAlg":
			pairs[key] = value
		}
	}

	enc, ok := pairs[param]
	if !ok {
		return "", false
	}

	var query strings.Builder
	query.WriteString(param)
	query.WriteString("=")
	query.WriteString(enc)
	if rs, ok := pairs["RelayState"]; ok {
		query.WriteString("&RelayState=")
		query.WriteString(rs)
	}
	if alg, ok := pairs["SigAlg"]; ok {
		query.WriteString("&SigAlg=")
		query.WriteString(alg)
	}
	return query.String(), true
}

// AutoSubmitForm renders the HTTP-POST binding form: a hidden-field form
// targeting destination that the browser submits on load.
func AutoSubmitForm(destination, param, encoded, relayState string) (string, error) {
	if err := validateDestinationURL(destination); err != nil {
		return "", err
	}

	relayStateInput := ""
	if relayState != "" {
		relayStateInput = fmt.Sprintf(`<input type="hidden" name="RelayState" value="%s"/>`, html.EscapeString(relayState))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Signing on…</title>
</head>
<body onload="document.forms[0].submit()">
    <noscript>
        <p>JavaScript is disabled. Click the button below to continue.</p>
    </noscript>
    <form method="POST" action="%s">
        <input type="hidden" name="%s" value="%s"/>
        %s
        <noscript>
            <input type="submit" value="Continue"/>
        </noscript>
    </form>
</body>
</html>`, html.EscapeString(destination), param, encoded, relayStateInput), nil
}

// validateDestinationURL rejects URLs that cannot safely be used as a form
// action or redirect target.
func validateDestinationURL(dest string) error {
	if dest == "" {
		return Errorf(ClassValidation, "empty destination URL")
	}
	parsed, err := url.Parse(dest)
	if err != nil {
		return WrapError(ClassValidation, "malformed destination URL", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "" && scheme != "http" && scheme != "https" {
		return Errorf(ClassValidation, "unsupported destination scheme %q", scheme)
	}
	if parsed.Host != "" && scheme == "" {
		return Errorf(ClassValidation, "absolute destination URL missing scheme")
	}
	return nil
}
