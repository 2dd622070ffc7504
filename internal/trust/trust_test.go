package trust

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/bus"
	"github.com/runic-labs/rune/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	log := logging.New(logging.Options{})
	b := bus.New(log)
	t.Cleanup(func() { b.Close() })
	s, err := Open(filepath.Join(dir, ".known-clients"), b, log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterCreatesPendingEntry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register("fp1", Entry{Alias: "phone"}, "10.0.0.1"))

	e, ok := s.Get("fp1")
	require.True(t, ok)
	require.Equal(t, StatusPending, e.Status)
	require.Equal(t, "UNKNOWN", s.CheckStatus("nonexistent"))
	require.Equal(t, "PENDING", s.CheckStatus("fp1"))
}

func TestRegisterRefusesBlockedFingerprint(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register("fp1", Entry{}, "10.0.0.1"))
	require.NoError(t, s.SetStatus("fp1", StatusBlocked))

	err := s.Register("fp1", Entry{}, "10.0.0.1")
	require.Error(t, err)
	require.Equal(t, "BLOCKED", s.CheckStatus("fp1"))
}

func TestSetStatusTransitionsToApproved(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register("fp1", Entry{}, "10.0.0.1"))
	require.NoError(t, s.SetStatus("fp1", StatusApproved))
	require.Equal(t, "APPROVED", s.CheckStatus("fp1"))
}

func TestRegisterEvictsOldestPendingPerIPAtCap(t *testing.T) {
	s := newTestStore(t)
	ip := "10.0.0.5"
	for i := 0; i < maxPendingPerIP; i++ {
		fp := "fp" + string(rune('a'+i))
		require.NoError(t, s.Register(fp, Entry{}, ip))
	}
	_, ok := s.Get("fpa")
	require.True(t, ok)

	require.NoError(t, s.Register("fpnew", Entry{}, ip))

	_, stillThere := s.Get("fpa")
	require.False(t, stillThere, "oldest pending entry for the IP must be evicted once the cap is exceeded")

	count := 0
	for i := 0; i < maxPendingPerIP; i++ {
		fp := "fp" + string(rune('a'+i))
		if _, ok := s.Get(fp); ok {
			count++
		}
	}
	_, newOK := s.Get("fpnew")
	require.True(t, newOK)
	require.Equal(t, maxPendingPerIP-1, count)
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	log := logging.New(logging.Options{})
	b := bus.New(log)
	defer b.Close()

	path := filepath.Join(dir, ".known-clients")
	s1, err := Open(path, b, log)
	require.NoError(t, err)
	require.NoError(t, s1.Register("fp1", Entry{Alias: "tablet"}, "10.0.0.2"))
	require.NoError(t, s1.Close())

	s2, err := Open(path, b, log)
	require.NoError(t, err)
	defer s2.Close()
	e, ok := s2.Get("fp1")
	require.True(t, ok)
	require.Equal(t, "tablet", e.Alias)
}
