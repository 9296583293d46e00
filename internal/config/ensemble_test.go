package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumkeeper/internal/fle"
)

func TestReadEnsemble(t *testing.T) {
	e, err := ReadEnsemble("testdata/three_node_ensemble.yaml")
	require.NoError(t, err)

	assert.EqualValues(t, 1, e.Self)
	assert.Len(t, e.Peers, 4)
	assert.Equal(t, "127.0.0.1:7001", e.Peers[0].GetAddress())
	assert.True(t, e.Peers[3].Observer)
}

func TestEnsemblePeerInfosZerosObserverWeight(t *testing.T) {
	e, err := ReadEnsemble("testdata/three_node_ensemble.yaml")
	require.NoError(t, err)

	infos := e.PeerInfos()
	require.Len(t, infos, 4)

	var observer fle.PeerInfo
	for _, p := range infos {
		if p.Sid == 4 {
			observer = p
		}
	}
	assert.Equal(t, uint64(0), observer.Weight)
}

func TestEnsembleSelfLearnerType(t *testing.T) {
	e, err := ReadEnsemble("testdata/three_node_ensemble.yaml")
	require.NoError(t, err)

	lt, err := e.SelfLearnerType()
	require.NoError(t, err)
	assert.Equal(t, fle.Participant, lt)
}

func TestReadEnsembleMissingFile(t *testing.T) {
	_, err := ReadEnsemble("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}
