package sso

import (
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalog/websso/internal/saml"
)

func buildLogoutRequest(env *testEnv, nameID string) *saml.LogoutRequest {
	return saml.NewLogoutRequest(
		"https://idp.example.com",
		"https://sp.example.com/logout",
		nameID,
		saml.NameIDFormatPersistent,
		[]string{"_idx42"},
		env.clock.Now(),
	)
}

func postLogout(t *testing.T, env *testEnv, field, encoded string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{field: {encoded}}
	r := httptest.NewRequest("POST", "/logout", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, cookie := range cookies {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	env.engine.handler(env.engine.LogoutPost)(w, r)
	return w
}

func sessionAlive(env *testEnv, cookie *http.Cookie) bool {
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(cookie)
	_, ok := env.sessions.Current(r)
	return ok
}

// IdP-initiated logout over POST with a valid enveloped signature: the
// session dies and a Success LogoutResponse goes back over the SLO binding.
func TestLogoutPost_SignedRequest(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	cookie := establishSession(t, env, Credential{NameID: "alice", NameIDFormat: saml.NameIDFormatPersistent})

	xmlData, err := xml.Marshal(buildLogoutRequest(env, "alice"))
	require.NoError(t, err)
	signed, err := saml.SignEnveloped(xmlData, env.idpKeys)
	require.NoError(t, err)

	w := postLogout(t, env, "SAMLRequest", saml.EncodePost(signed), cookie)

	assert.False(t, sessionAlive(env, cookie))

	// SLO advertises Redirect, so the answer is a signed redirect.
	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://idp.example.com/slo?SAMLResponse="))
	assert.Contains(t, location, "&SigAlg=")
	assert.Contains(t, location, "&Signature=")

	parsed, err := url.Parse(location)
	require.NoError(t, err)
	responseXML, err := saml.DecodeRedirect(parsed.Query().Get("SAMLResponse"))
	require.NoError(t, err)
	response, err := saml.ParseLogoutResponse(responseXML)
	require.NoError(t, err)
	assert.Equal(t, saml.StatusSuccess, response.Status.StatusCode.Value)
}

// An unsigned logout request is a hard failure, unlike the login path,
// and the session is destroyed anyway: logout fails closed.
func TestLogoutPost_UnsignedRejectedButFailsClosed(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	cookie := establishSession(t, env, Credential{NameID: "alice"})

	xmlData, err := xml.Marshal(buildLogoutRequest(env, "alice"))
	require.NoError(t, err)

	w := postLogout(t, env, "SAMLRequest", saml.EncodePost(xmlData), cookie)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, sessionAlive(env, cookie), "session must be gone even though validation failed")
}

// The subject's other sessions die too, found through the NameID the
// request names rather than a cookie.
func TestLogoutPost_DestroysSubjectSessionsWithoutCookie(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	cookie := establishSession(t, env, Credential{NameID: "alice"})

	xmlData, err := xml.Marshal(buildLogoutRequest(env, "alice"))
	require.NoError(t, err)
	signed, err := saml.SignEnveloped(xmlData, env.idpKeys)
	require.NoError(t, err)

	// No cookie on the inbound request.
	w := postLogout(t, env, "SAMLRequest", saml.EncodePost(signed))

	require.Equal(t, http.StatusFound, w.Code)
	assert.False(t, sessionAlive(env, cookie))
}

// An expired LogoutRequest is rejected, after the session is destroyed.
func TestLogoutPost_ExpiredRequest(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	cookie := establishSession(t, env, Credential{NameID: "alice"})

	request := buildLogoutRequest(env, "alice")
	request.NotOnOrAfter = saml.FormatTime(env.clock.Now().Add(-time.Hour))
	xmlData, err := xml.Marshal(request)
	require.NoError(t, err)
	signed, err := saml.SignEnveloped(xmlData, env.idpKeys)
	require.NoError(t, err)

	w := postLogout(t, env, "SAMLRequest", saml.EncodePost(signed), cookie)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, sessionAlive(env, cookie))
}

// On the Redirect binding an inbound logout request without a Signature
// query parameter is rejected outright.
func TestLogoutGet_UnsignedRejected(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	cookie := establishSession(t, env, Credential{NameID: "alice"})

	encoded, err := saml.EncodeRedirect(buildLogoutRequest(env, "alice"))
	require.NoError(t, err)

	query := url.Values{"SAMLRequest": {encoded}}
	r := httptest.NewRequest("GET", "/logout?"+query.Encode(), nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	env.engine.handler(env.engine.LogoutGet)(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, sessionAlive(env, cookie))
}

// SP-initiated logout: session gone immediately, LogoutRequest dispatched
// to the IdP's SLO endpoint.
func TestStartLogout(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	cookie := establishSession(t, env, Credential{
		NameID:       "alice",
		NameIDFormat: saml.NameIDFormatPersistent,
		SessionIndex: "_idx42",
	})

	r := httptest.NewRequest("GET", "/logout/start", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	env.engine.handleStartLogout(w, r)

	assert.False(t, sessionAlive(env, cookie))

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://idp.example.com/slo?SAMLRequest="))

	parsed, err := url.Parse(location)
	require.NoError(t, err)
	requestXML, err := saml.DecodeRedirect(parsed.Query().Get("SAMLRequest"))
	require.NoError(t, err)
	request, err := saml.ParseLogoutRequest(requestXML)
	require.NoError(t, err)
	assert.Equal(t, "alice", request.NameID.Value)
	assert.Equal(t, []string{"_idx42"}, request.SessionIndex)
}

// Without a session, starting logout just lands back on the target.
func TestStartLogout_NoSession(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())

	r := httptest.NewRequest("GET", "/logout/start", nil)
	w := httptest.NewRecorder()
	env.engine.handleStartLogout(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

// The LogoutResponse completing an SP-initiated flow redeems the relay
// token and lands the user on the post-logout target.
func TestLogoutGet_ResponseCompletesFlow(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	token := env.relay.Encode("/goodbye")

	response := saml.NewLogoutResponse(
		"https://idp.example.com",
		"https://sp.example.com/logout",
		"_original",
		saml.StatusSuccess,
		env.clock.Now(),
	)
	encoded, err := saml.EncodeRedirect(response)
	require.NoError(t, err)

	query := url.Values{"SAMLResponse": {encoded}, "RelayState": {token}}
	r := httptest.NewRequest("GET", "/logout?"+query.Encode(), nil)
	w := httptest.NewRecorder()
	env.engine.handler(env.engine.LogoutGet)(w, r)

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/goodbye", w.Header().Get("Location"))
}

// A LogoutResponse arriving with a forged detached signature is rejected
// before the relay token is touched, even though the same message without
// a Signature parameter would have been accepted.
func TestLogoutGet_ResponseBadSignatureRejected(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())
	token := env.relay.Encode("/goodbye")

	response := saml.NewLogoutResponse(
		"https://idp.example.com",
		"https://sp.example.com/logout",
		"_original",
		saml.StatusSuccess,
		env.clock.Now(),
	)
	encoded, err := saml.EncodeRedirect(response)
	require.NoError(t, err)

	query := url.Values{
		"SAMLResponse": {encoded},
		"RelayState":   {token},
		"SigAlg":       {"http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"},
		"Signature":    {base64.StdEncoding.EncodeToString([]byte("forged"))},
	}
	r := httptest.NewRequest("GET", "/logout?"+query.Encode(), nil)
	w := httptest.NewRecorder()
	env.engine.handler(env.engine.LogoutGet)(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)

	_, ok := env.relay.Decode(token)
	assert.True(t, ok)
}

// On the POST binding the enveloped signature of a LogoutResponse, when
// present, must be from a key the IdP metadata vouches for.
func TestLogoutPost_ResponseWrongSignerRejected(t *testing.T) {
	env := newTestEnv(t, defaultSSO(), defaultSLO())

	response := saml.NewLogoutResponse(
		"https://idp.example.com",
		"https://sp.example.com/logout",
		"_original",
		saml.StatusSuccess,
		env.clock.Now(),
	)
	xmlData, err := xml.Marshal(response)
	require.NoError(t, err)
	signed, err := saml.SignEnveloped(xmlData, env.spKeys)
	require.NoError(t, err)

	w := postLogout(t, env, "SAMLResponse", saml.EncodePost(signed))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
