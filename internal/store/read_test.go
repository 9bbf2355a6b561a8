package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Get(context.Background(), "000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMotifEntries_OrderedByLamport(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, l := range []uint64{3, 1, 2} {
		_, err := s.Append(ctx, createTestEntry(t, "joy", l), 0)
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, createTestEntry(t, "grief", 9), 0)
	require.NoError(t, err)

	entries, err := s.MotifEntries(ctx, "joy")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Lamport)
	assert.Equal(t, uint64(2), entries[1].Lamport)
	assert.Equal(t, uint64(3), entries[2].Lamport)

	none, err := s.MotifEntries(ctx, "absent")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMotifCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for l := uint64(1); l <= 3; l++ {
		_, err := s.Append(ctx, createTestEntry(t, "joy", l), 0)
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, createTestEntry(t, "grief", 1), 0)
	require.NoError(t, err)

	counts, err := s.MotifCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"joy": 3, "grief": 1}, counts)
}
