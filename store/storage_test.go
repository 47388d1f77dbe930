package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planbook/types"
)

func makeChunks(n int) []types.Chunk {
	chunks := make([]types.Chunk, n)
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

func TestPartitionChunks_SplitsIntoFixedBatches(t *testing.T) {
	batches := PartitionChunks(makeChunks(120), 50)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[1], 50)
	assert.Len(t, batches[2], 20)
}

func TestPartitionChunks_ExactMultiple(t *testing.T) {
	batches := PartitionChunks(makeChunks(100), 50)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[1], 50)
}

func TestPartitionChunks_FewerThanOneBatch(t *testing.T) {
	batches := PartitionChunks(makeChunks(7), 50)

	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 7)
}

func TestPartitionChunks_Empty(t *testing.T) {
	assert.Empty(t, PartitionChunks(nil, 50))
}

func TestPartitionChunks_PreservesOrder(t *testing.T) {
	batches := PartitionChunks(makeChunks(75), 50)

	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0][0].Index)
	assert.Equal(t, 49, batches[0][49].Index)
	assert.Equal(t, 50, batches[1][0].Index)
	assert.Equal(t, 74, batches[1][24].Index)
}

func TestPartitionChunks_DefaultsBatchSize(t *testing.T) {
	batches := PartitionChunks(makeChunks(60), 0)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], DefaultBatchSize)
}
