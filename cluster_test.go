package rediswire_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediswire/rediswire"
)

func TestSlotHashing(t *testing.T) {
	// Reference slots from the Redis cluster specification's CRC16.
	assert.Equal(t, 12182, rediswire.Slot("foo"))
	assert.Equal(t, 5061, rediswire.Slot("bar"))

	// Hash tags force related keys onto the same slot.
	assert.Equal(t, rediswire.Slot("user"), rediswire.Slot("{user}.follows"))
	assert.Equal(t, rediswire.Slot("{user}.a"), rediswire.Slot("{user}.b"))

	// Empty or unterminated tags hash the whole key.
	assert.NotEqual(t, rediswire.Slot("{}a"), rediswire.Slot("{}b"))
	assert.NotEqual(t, rediswire.Slot("{open.a"), rediswire.Slot("{open.b"))

	for _, key := range []string{"", "a", "some:long:key"} {
		slot := rediswire.Slot(key)
		assert.GreaterOrEqual(t, slot, 0)
		assert.Less(t, slot, 16384)
	}
}

func TestClusterRoutingAndTargeting(t *testing.T) {
	srvA := newTestServer(t)
	srvB := newTestServer(t)
	ctx := context.Background()

	cluster, err := rediswire.DialCluster(ctx,
		[]string{srvA.Addr(), srvB.Addr()},
		rediswire.WithLogger(nopLogger{}))
	require.NoError(t, err)
	defer cluster.Close()

	require.NoError(t, cluster.AssignSlots(srvA.Addr(), 0, 8191))
	require.NoError(t, cluster.AssignSlots(srvB.Addr(), 8192, 16383))

	// "bar" (slot 5061) routes to A, "foo" (slot 12182) to B.
	_, err = cluster.Do(ctx, "bar", "SET", "bar", "on-a")
	require.NoError(t, err)
	_, err = cluster.Do(ctx, "foo", "SET", "foo", "on-b")
	require.NoError(t, err)

	nodeA, err := cluster.Node(srvA.Addr())
	require.NoError(t, err)
	value, ok, err := nodeA.Get(ctx, "bar")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "on-a", value)

	_, ok, err = nodeA.Get(ctx, "foo")
	require.NoError(t, err)
	assert.False(t, ok, "foo must not land on node A")

	nodeB, err := cluster.Node(srvB.Addr())
	require.NoError(t, err)
	value, ok, err = nodeB.Get(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "on-b", value)

	_, err = cluster.Node("nowhere:0")
	require.Error(t, err)
}

func TestClusterForEachNode(t *testing.T) {
	srvA := newTestServer(t)
	srvB := newTestServer(t)
	ctx := context.Background()

	cluster, err := rediswire.DialCluster(ctx,
		[]string{srvA.Addr(), srvB.Addr()},
		rediswire.WithLogger(nopLogger{}))
	require.NoError(t, err)
	defer cluster.Close()

	visited := make(map[string]bool)
	err = cluster.ForEachNode(ctx, func(addr string, c *rediswire.Client) error {
		visited[addr] = true
		return c.FlushAll(ctx)
	})
	require.NoError(t, err)
	assert.Len(t, visited, 2)
	assert.True(t, visited[srvA.Addr()])
	assert.True(t, visited[srvB.Addr()])
}

func TestClusterSingleNodeOwnsAllSlots(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	cluster, err := rediswire.DialCluster(ctx,
		[]string{srv.Addr()},
		rediswire.WithLogger(nopLogger{}))
	require.NoError(t, err)
	defer cluster.Close()

	for _, key := range []string{"foo", "bar", "baz"} {
		_, err := cluster.Do(ctx, key, "SET", key, "v")
		require.NoError(t, err)
	}
}
