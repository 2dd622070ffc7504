package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnyStatusReachesPublicEndpoints(t *testing.T) {
	en, err := New()
	require.NoError(t, err)

	for _, status := range []string{"Approved", "Pending", "Blocked", "Unknown"} {
		ok, err := en.Allowed(status, ObjectPing, ActionRead)
		require.NoError(t, err)
		require.Truef(t, ok, "status %s should reach /ping", status)

		ok, err = en.Allowed(status, ObjectRegister, ActionWrite)
		require.NoError(t, err)
		require.Truef(t, ok, "status %s should reach /register", status)

		ok, err = en.Allowed(status, ObjectCheckFingerprint, ActionRead)
		require.NoError(t, err)
		require.Truef(t, ok, "status %s should reach /check-fingerprint", status)
	}
}

func TestOnlyApprovedReachesFilesAndWS(t *testing.T) {
	en, err := New()
	require.NoError(t, err)

	ok, err := en.Allowed("Approved", ObjectFiles, ActionRead)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = en.Allowed("Approved", ObjectWS, ActionConnect)
	require.NoError(t, err)
	require.True(t, ok)

	for _, status := range []string{"Pending", "Blocked", "Unknown"} {
		ok, err := en.Allowed(status, ObjectFiles, ActionRead)
		require.NoError(t, err)
		require.Falsef(t, ok, "status %s must not reach /files", status)

		ok, err = en.Allowed(status, ObjectWS, ActionConnect)
		require.NoError(t, err)
		require.Falsef(t, ok, "status %s must not reach /ws", status)
	}
}
