package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"quorumkeeper/internal/fle"
)

func openTestStore(t *testing.T) *EpochStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "epoch.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestEpochStoreDefaultsToZero(t *testing.T) {
	s := openTestStore(t)

	zxid, err := s.LastLoggedZxid()
	require.NoError(t, err)
	require.Equal(t, fle.Zxid(0), zxid)

	epoch, err := s.CurrentEpoch()
	require.NoError(t, err)
	require.Equal(t, fle.Epoch(0), epoch)
}

func TestEpochStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetLastLoggedZxid(fle.Zxid(0xABCD)))
	require.NoError(t, s.SetCurrentEpoch(fle.Epoch(7)))

	zxid, err := s.LastLoggedZxid()
	require.NoError(t, err)
	require.Equal(t, fle.Zxid(0xABCD), zxid)

	epoch, err := s.CurrentEpoch()
	require.NoError(t, err)
	require.Equal(t, fle.Epoch(7), epoch)
}

func TestEpochStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epoch.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.SetCurrentEpoch(fle.Epoch(3)))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	epoch, err := s2.CurrentEpoch()
	require.NoError(t, err)
	require.Equal(t, fle.Epoch(3), epoch)
}
