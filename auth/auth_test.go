package auth

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAdmitsAnyPeer(t *testing.T) {
	var d Default
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4}
	require.True(t, d.AdmitPeer(addr))
}

func TestDefaultDeniesUnderscoreKeys(t *testing.T) {
	var d Default
	addr := &net.UDPAddr{}
	require.False(t, d.Permit(addr, "GETATTR", nil, "_private"))
	require.True(t, d.Permit(addr, "GETATTR", nil, "public"))
	require.True(t, d.Permit(addr, "CALL", nil, ""))
}
