package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCookie(t *testing.T, m *sessionManager, s session) *http.Cookie {
	t.Helper()
	recorder := httptest.NewRecorder()
	m.issue(recorder, s)
	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSessionRoundTrip(t *testing.T) {
	m := newSessionManager("secret", clockwork.NewFakeClock())
	cookie := issueCookie(t, m, session{Username: "danny", IsAdmin: true})

	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(cookie)

	sess, err := m.verify(r)
	require.NoError(t, err)
	assert.Equal(t, session{Username: "danny", IsAdmin: true}, sess)
}

func TestSessionRejectsTampering(t *testing.T) {
	m := newSessionManager("secret", clockwork.NewFakeClock())
	cookie := issueCookie(t, m, session{Username: "danny"})

	// Re-signing with a different secret must fail verification.
	other := newSessionManager("other-secret", clockwork.NewFakeClock())
	otherCookie := issueCookie(t, other, session{Username: "danny", IsAdmin: true})

	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(otherCookie)
	_, err := m.verify(r)
	assert.Error(t, err)

	// A garbage cookie fails too.
	r = httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: "bm90IGEgc2Vzc2lvbg"})
	_, err = m.verify(r)
	assert.Error(t, err)

	// The untampered cookie still works.
	r = httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(cookie)
	_, err = m.verify(r)
	assert.NoError(t, err)
}

func TestSessionExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newSessionManager("secret", clock)
	cookie := issueCookie(t, m, session{Username: "danny"})

	clock.Advance(sessionLifetime + time.Minute)

	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	r.AddCookie(cookie)
	_, err := m.verify(r)
	assert.Error(t, err)
}
