package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/dflow/internal/config"
)

func TestResolveRank_FlagTakesPriority(t *testing.T) {
	cluster := &config.Cluster{Hosts: []string{"a:1", "b:1"}}
	rank, err := resolveRank(1, cluster)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rank)
}

func TestResolveRank_EnvVar(t *testing.T) {
	t.Setenv("DFLOW_RANK", "1")
	cluster := &config.Cluster{Hosts: []string{"a:1", "b:1"}}
	rank, err := resolveRank(-1, cluster)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rank)
}

func TestResolveRank_HostAddrLookup(t *testing.T) {
	os.Unsetenv("DFLOW_RANK")
	t.Setenv("DFLOW_HOST_ADDR", "b:1")
	cluster := &config.Cluster{Hosts: []string{"a:1", "b:1"}}
	rank, err := resolveRank(-1, cluster)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rank)
}

func TestResolveRank_NoneGivenIsError(t *testing.T) {
	os.Unsetenv("DFLOW_RANK")
	os.Unsetenv("DFLOW_HOST_ADDR")
	cluster := &config.Cluster{Hosts: []string{"a:1"}}
	_, err := resolveRank(-1, cluster)
	require.Error(t, err)
}

func TestResolveRank_UnknownHostAddrIsError(t *testing.T) {
	os.Unsetenv("DFLOW_RANK")
	t.Setenv("DFLOW_HOST_ADDR", "nowhere:1")
	cluster := &config.Cluster{Hosts: []string{"a:1"}}
	_, err := resolveRank(-1, cluster)
	require.Error(t, err)
}
