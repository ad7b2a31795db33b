package relay

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdmissionGlobalCap(t *testing.T) {
	a := newAdmission(2, 10, false)

	ok, _ := a.admit("1.1.1.1")
	require.True(t, ok)
	ok, _ = a.admit("2.2.2.2")
	require.True(t, ok)

	ok, reason := a.admit("3.3.3.3")
	require.False(t, ok)
	require.Equal(t, "server full", reason)

	a.depart("1.1.1.1")
	ok, _ = a.admit("3.3.3.3")
	require.True(t, ok)
}

func TestAdmissionPerOriginCap(t *testing.T) {
	a := newAdmission(100, 2, false)

	ok, _ := a.admit("1.1.1.1")
	require.True(t, ok)
	ok, _ = a.admit("1.1.1.1")
	require.True(t, ok)

	ok, reason := a.admit("1.1.1.1")
	require.False(t, ok)
	require.Equal(t, "too many connections from origin", reason)

	// Another origin is unaffected.
	ok, _ = a.admit("2.2.2.2")
	require.True(t, ok)

	a.depart("1.1.1.1")
	ok, _ = a.admit("1.1.1.1")
	require.True(t, ok)
}

func TestOriginOfPeerAddress(t *testing.T) {
	a := newAdmission(1, 1, false)

	r := &http.Request{RemoteAddr: "10.0.0.7:51234", Header: http.Header{}}
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	// Proxy header ignored unless explicitly trusted.
	require.Equal(t, "10.0.0.7", a.originOf(r))
}

func TestOriginOfTrustedProxyHeader(t *testing.T) {
	a := newAdmission(1, 1, true)

	r := &http.Request{RemoteAddr: "10.0.0.7:51234", Header: http.Header{}}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.7")
	require.Equal(t, "203.0.113.9", a.originOf(r))

	// Falls back to the peer when the header is absent.
	r.Header.Del("X-Forwarded-For")
	require.Equal(t, "10.0.0.7", a.originOf(r))
}
