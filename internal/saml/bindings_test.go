package saml

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingFromURN(t *testing.T) {
	tests := []struct {
		name string
		urn  string
		want Binding
	}{
		{"redirect urn", BindingURNHTTPRedirect, BindingRedirect},
		{"post urn", BindingURNHTTPPost, BindingPost},
		{"blank defaults to redirect", "", BindingRedirect},
		{"unknown non-redirect urn", "urn:oasis:names:tc:SAML:2.0:bindings:SOAP", BindingPost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BindingFromURN(tt.urn))
		})
	}
}

// TestRedirectRoundTrip checks that deflate+base64 encoding followed by
// decoding reproduces the original XML byte for byte.
func TestRedirectRoundTrip(t *testing.T) {
	request := NewAuthnRequest(
		"https://sp.example.com/sso/metadata",
		"https://idp.example.com/sso",
		"https://sp.example.com/sso",
		BindingURNHTTPRedirect,
		time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	)

	encoded, err := EncodeRedirect(request)
	require.NoError(t, err)

	decoded, err := DecodeRedirect(encoded)
	require.NoError(t, err)

	reparsed := &AuthnRequest{}
	require.NoError(t, xml.Unmarshal(decoded, reparsed))
	assert.Equal(t, request.ID, reparsed.ID)
	assert.Equal(t, request.IssueInstant, reparsed.IssueInstant)

	// Byte-exact inverse: re-encoding the decoded bytes and decoding
	// again must reproduce them.
	again, err := DecodeRedirect(deflateBase64(t, decoded))
	require.NoError(t, err)
	assert.Equal(t, decoded, again)
}

func deflateBase64(t *testing.T, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = writer.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeRedirectRejectsGarbage(t *testing.T) {
	_, err := DecodeRedirect("!!not-base64!!")
	require.Error(t, err)
	assert.Equal(t, ClassDecode, ClassOf(err))

	// Valid base64 but not a deflate stream.
	_, err = DecodeRedirect(base64.StdEncoding.EncodeToString([]byte("plain")))
	require.Error(t, err)
	assert.Equal(t, ClassDecode, ClassOf(err))
}

func TestPostRoundTrip(t *testing.T) {
	original := []byte(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_abc" Version="2.0"/>`)

	decoded, err := DecodePost(EncodePost(original))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(decoded), string(original)))

	// Form transports may mangle '+' into space.
	mangled := strings.ReplaceAll(EncodePost(original), "+", " ")
	decoded, err = DecodePost(mangled)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(decoded), string(original)))
}

type testQuerySigner struct {
	key *rsa.PrivateKey
}

func (s *testQuerySigner) SignatureAlgorithm() string {
	return "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
}

func (s *testQuerySigner) SignRedirectQuery(query string) ([]byte, error) {
	digest := sha256.Sum256([]byte(query))
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
}

// TestBuildSignedQueryOrder pins the signed key order: the message
// parameter first, then RelayState, then SigAlg, then Signature. Signers
// and verifiers must agree on these exact octets.
func TestBuildSignedQueryOrder(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer := &testQuerySigner{key: key}

	query, err := BuildSignedQuery("SAMLRequest", "ZmFrZQ==", "token-1", signer)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(query, "SAMLRequest="))
	relayIdx := strings.Index(query, "&RelayState=")
	sigAlgIdx := strings.Index(query, "&SigAlg=")
	sigIdx := strings.Index(query, "&Signature=")
	require.Positive(t, relayIdx)
	require.Greater(t, sigAlgIdx, relayIdx)
	require.Greater(t, sigIdx, sigAlgIdx)

	// The signature covers everything before &Signature=.
	signedOctets := query[:sigIdx]
	values, err := url.ParseQuery(query)
	require.NoError(t, err)
	signature, err := base64.StdEncoding.DecodeString(values.Get("Signature"))
	require.NoError(t, err)

	digest := sha256.Sum256([]byte(signedOctets))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], signature))
}

func TestBuildSignedQueryWithoutSigner(t *testing.T) {
	query, err := BuildSignedQuery("SAMLResponse", "ZmFrZQ==", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "SAMLResponse=ZmFrZQ%3D%3D", query)
}

// TestSignedQueryOctets checks that the verifier reconstructs the signed
// octets from the raw query even when the sender transmitted the pairs out
// of canonical order.
func TestSignedQueryOctets(t *testing.T) {
	raw := "RelayState=tok&SigAlg=alg%2Furi&SAMLResponse=enc%3D%3D&Signature=sig"

	octets, ok := SignedQueryOctets(raw, "SAMLResponse")
	require.True(t, ok)
	assert.Equal(t, "SAMLResponse=enc%3D%3D&RelayState=tok&SigAlg=alg%2Furi", octets)

	_, ok = SignedQueryOctets("RelayState=tok", "SAMLResponse")
	assert.False(t, ok)
}

func TestAutoSubmitForm(t *testing.T) {
	form, err := AutoSubmitForm("https://idp.example.com/sso", "SAMLRequest", "ZmFrZQ==", `tok"on`)
	require.NoError(t, err)
	assert.Contains(t, form, `action="https://idp.example.com/sso"`)
	assert.Contains(t, form, `name="SAMLRequest" value="ZmFrZQ=="`)
	assert.Contains(t, form, "tok&#34;on")
	assert.NotContains(t, form, `tok"on`)

	_, err = AutoSubmitForm("javascript:alert(1)", "SAMLRequest", "ZmFrZQ==", "")
	assert.Error(t, err)
}
