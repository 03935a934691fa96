package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fill copies s into the free space and commits it, as a read would.
func fill(t *testing.T, b *FrameBuffer, s string) {
	t.Helper()
	n := copy(b.Tail(), s)
	require.Equal(t, len(s), n, "test data does not fit")
	require.NoError(t, b.Commit(n))
}

func TestFrameBuffer_CommitAndLine(t *testing.T) {
	var b FrameBuffer
	require.Zero(t, b.Len())
	require.False(t, b.LineComplete())

	fill(t, &b, "StringFrom")
	require.False(t, b.LineComplete())
	require.Len(t, b.Tail(), Capacity-10)

	fill(t, &b, "Sensor1_2_3\n")
	require.True(t, b.LineComplete())
	require.Equal(t, "StringFromSensor1_2_3", string(b.Line()))
	require.Equal(t, "StringFromSensor1_2_3\n", string(b.Bytes()))
}

func TestFrameBuffer_NeverExceedsCapacity(t *testing.T) {
	var b FrameBuffer
	fill(t, &b, strings.Repeat("a", Capacity-1))
	require.False(t, b.Full())

	require.ErrorIs(t, b.Commit(2), ErrBufferOverflow)
	require.Equal(t, Capacity-1, b.Len(), "failed commit must not change the buffer")

	fill(t, &b, "b")
	require.True(t, b.Full())
	require.Empty(t, b.Tail())
	require.ErrorIs(t, b.Commit(1), ErrBufferOverflow)
	require.ErrorIs(t, b.Commit(-1), ErrBufferOverflow)
	require.Equal(t, Capacity, b.Len())
}

func TestFrameBuffer_SnapshotIsCopy(t *testing.T) {
	var b FrameBuffer
	fill(t, &b, "abc")
	snap := b.Snapshot()

	b.Reset()
	fill(t, &b, "xyz")
	require.Equal(t, "abc", string(snap))
	require.Equal(t, "xyz", string(b.Bytes()))
}

func TestFrameBuffer_Reset(t *testing.T) {
	var b FrameBuffer
	fill(t, &b, "line\n")
	b.Reset()
	require.Zero(t, b.Len())
	require.False(t, b.LineComplete())
	require.Len(t, b.Tail(), Capacity)
}
