package log

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendRecord(t *testing.T, l Log, data string) {
	t.Helper()
	ctx := l.Appender().Append()
	buf := ctx.Buffer(len(data))
	copy(buf, data)
	require.NoError(t, ctx.Commit(len(data)))
}

func TestMemoryLog_AppendAndPoll(t *testing.T) {
	l := NewMemoryLog()
	appendRecord(t, l, "one")
	appendRecord(t, l, "two")

	p := l.Poller()
	var got []string
	var positions []int64
	for p.Poll(func(pos int64, buf []byte) PollResult {
		got = append(got, string(buf))
		positions = append(positions, pos)
		return PollNext
	}) > 0 {
	}

	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, []int64{1, 2}, positions)
	assert.Equal(t, int64(2), p.Position())
	assert.Equal(t, int64(2), l.EndPosition())
}

func TestMemoryLog_PeekDoesNotAdvance(t *testing.T) {
	l := NewMemoryLog()
	appendRecord(t, l, "one")

	p := l.Poller()
	for i := 0; i < 3; i++ {
		n := p.Poll(func(pos int64, buf []byte) PollResult {
			assert.Equal(t, int64(1), pos)
			return Peek
		})
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, int64(0), p.Position())
}

func TestMemoryLog_AbortAppendsNothing(t *testing.T) {
	l := NewMemoryLog()
	ctx := l.Appender().Append()
	copy(ctx.Buffer(3), "abc")
	ctx.Abort()

	assert.True(t, ctx.Closed())
	assert.Equal(t, int64(0), l.EndPosition())
	assert.ErrorIs(t, ctx.Commit(3), ErrClosed)
}

func TestMemoryLog_CommitLengthIsExplicit(t *testing.T) {
	l := NewMemoryLog()
	ctx := l.Appender().Append()
	copy(ctx.Buffer(10), "abcdefghij")
	require.NoError(t, ctx.Commit(4))

	assert.Equal(t, []byte("abcd"), l.Record(1))
}

func TestMemoryLog_BufferGrowthPreservesContent(t *testing.T) {
	l := NewMemoryLog()
	ctx := l.Appender().Append()
	copy(ctx.Buffer(2), "ab")
	buf := ctx.Buffer(1024)
	require.GreaterOrEqual(t, len(buf), 1024)
	assert.Equal(t, "ab", string(buf[:2]))
	require.NoError(t, ctx.Commit(2))

	// The scratch buffer is reused; the committed record must be detached.
	copy(l.Appender().Append().Buffer(2), "zz")
	assert.Equal(t, []byte("ab"), l.Record(1))
}

func TestMemoryLog_Reposition(t *testing.T) {
	l := NewMemoryLog()
	for _, s := range []string{"a", "b", "c"} {
		appendRecord(t, l, s)
	}

	p := l.Poller()
	p.MoveToEnd()
	assert.Equal(t, 0, p.Poll(func(int64, []byte) PollResult { return PollNext }))

	p.MoveToPosition(1)
	var got string
	p.Poll(func(_ int64, buf []byte) PollResult { got = string(buf); return PollNext })
	assert.Equal(t, "b", got)

	p.MoveToStart()
	p.Poll(func(_ int64, buf []byte) PollResult { got = string(buf); return PollNext })
	assert.Equal(t, "a", got)
}

func TestMemoryLog_ClosedRejectsCommit(t *testing.T) {
	l := NewMemoryLog()
	ctx := l.Appender().Append()
	ctx.Buffer(1)
	l.Close()

	assert.ErrorIs(t, ctx.Commit(1), ErrClosed)
	assert.Equal(t, int64(0), l.EndPosition())
}

func TestMemoryLog_ConcurrentPollers(t *testing.T) {
	l := NewMemoryLog()
	const records = 200

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := l.Poller()
			for counts[i] < records {
				p.Poll(func(int64, []byte) PollResult {
					counts[i]++
					return PollNext
				})
			}
		}(i)
	}

	for i := 0; i < records; i++ {
		appendRecord(t, l, "x")
	}
	wg.Wait()

	for _, c := range counts {
		assert.Equal(t, records, c)
	}
}
