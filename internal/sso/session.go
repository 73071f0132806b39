package sso

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/opencatalog/websso/internal/saml"
)

// SessionCookieName is the cookie the session manager issues.
const SessionCookieName = "websso_session"

// Credential is what a validated assertion boils down to: the subject's
// name identifier, the IdP's session handle and the released attributes.
// It is the hand-off unit between the assertion consumer and the login
// pipeline.
type Credential struct {
	NameID       string
	NameIDFormat string
	SessionIndex string
	IdPEntityID  string
	Attributes   map[string][]string
}

// Session is an established local session.
type Session struct {
	ID         string
	NameID     string
	ExpiresAt  time.Time
	Credential Credential
}

// LoginPipeline establishes a local session from a validated credential.
// The session manager below implements it; a host platform can substitute
// its own.
type LoginPipeline interface {
	Establish(w http.ResponseWriter, r *http.Request, credential Credential) error
	Destroy(w http.ResponseWriter, r *http.Request)
	// DestroyByNameID terminates every session of the subject, for
	// IdP-initiated logout where no cookie accompanies the request.
	DestroyByNameID(nameID string) int
	Current(r *http.Request) (*Session, bool)
}

// SessionManager is an in-memory LoginPipeline. The browser holds a signed
// JWT naming the session ID; the session state itself never leaves the
// server.
type SessionManager struct {
	secret   []byte
	lifetime time.Duration
	clock    clockwork.Clock
	secure   bool

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager issuing sessions of the given
// lifetime. secure controls the cookie's Secure flag.
func NewSessionManager(lifetime time.Duration, secure bool, clock clockwork.Clock) *SessionManager {
	return &SessionManager{
		secret:   []byte(uuid.NewString() + uuid.NewString()),
		lifetime: lifetime,
		clock:    clock,
		secure:   secure,
		sessions: make(map[string]*Session),
	}
}

// Establish creates a session for the credential and sets the session
// cookie. Any prior session bound to the request is destroyed first.
func (m *SessionManager) Establish(w http.ResponseWriter, r *http.Request, credential Credential) error {
	m.Destroy(w, r)

	now := m.clock.Now()
	session := &Session{
		ID:         uuid.NewString(),
		NameID:     credential.NameID,
		ExpiresAt:  now.Add(m.lifetime),
		Credential: credential,
	}

	claims := jwt.MapClaims{
		"sub": credential.NameID,
		"sid": session.ID,
		"iat": now.Unix(),
		"exp": session.ExpiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return saml.WrapError(saml.ClassSession, "sign session token", err)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy removes the session bound to the request, if any, and clears the
// cookie unconditionally.
func (m *SessionManager) Destroy(w http.ResponseWriter, r *http.Request) {
	if session, ok := m.Current(r); ok {
		m.mu.Lock()
		delete(m.sessions, session.ID)
		m.mu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Current resolves the request's session cookie to a live session.
func (m *SessionManager) Current(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	token, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(m.clock.Now))
	if err != nil || !token.Valid {
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return nil, false
	}

	m.mu.Lock()
	session, ok := m.sessions[sid]
	m.mu.Unlock()
	if !ok || m.clock.Now().After(session.ExpiresAt) {
		return nil, false
	}
	return session, true
}

// DestroyByNameID removes every live session held by the given subject.
// IdP-initiated logout arrives with a NameID, not a cookie, so this is the
// only handle the orchestrator has.
func (m *SessionManager) DestroyByNameID(nameID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, session := range m.sessions {
		if session.NameID == nameID {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
