package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

const (
	sessionCookie   = "session"
	sessionLifetime = 24 * time.Hour
)

var errInvalidSession = errors.New("missing or invalid session")

// sessionManager issues and verifies HMAC-signed session cookies. The cookie
// value is `username|admin|expiry|signature`, so sessions survive process
// restarts without any server-side session state.
type sessionManager struct {
	secret []byte
	clock  clockwork.Clock
}

func newSessionManager(secret string, clock clockwork.Clock) *sessionManager {
	return &sessionManager{secret: []byte(secret), clock: clock}
}

type session struct {
	Username string
	IsAdmin  bool
}

func (m *sessionManager) issue(w http.ResponseWriter, s session) {
	expiry := m.clock.Now().Add(sessionLifetime).Unix()
	payload := fmt.Sprintf("%s|%t|%d", s.Username, s.IsAdmin, expiry)
	value := payload + "|" + m.sign(payload)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(value)),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionLifetime / time.Second),
	})
}

func (m *sessionManager) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (m *sessionManager) verify(r *http.Request) (session, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return session{}, errInvalidSession
	}

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return session{}, errInvalidSession
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return session{}, errInvalidSession
	}
	payload := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(m.sign(payload)), []byte(parts[3])) {
		return session{}, errInvalidSession
	}

	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || m.clock.Now().Unix() > expiry {
		return session{}, errInvalidSession
	}

	return session{Username: parts[0], IsAdmin: parts[1] == "true"}, nil
}

func (m *sessionManager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
