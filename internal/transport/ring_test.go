package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := NewRing(4)
	for _, m := range []string{"a", "b", "c"} {
		require.Equal(t, Sent, r.SendMessage([]byte(m)))
	}

	var got []string
	for r.Poll(func(buf []byte) bool { got = append(got, string(buf)); return true }) > 0 {
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRing_BackPressure(t *testing.T) {
	r := NewRing(2)
	assert.Equal(t, Sent, r.SendMessage([]byte("1")))
	assert.Equal(t, Sent, r.SendMessage([]byte("2")))
	assert.Equal(t, BackPressured, r.SendMessage([]byte("3")))

	r.Poll(func([]byte) bool { return true })
	assert.Equal(t, Sent, r.SendMessage([]byte("3")))
}

func TestRing_RejectedMessageIsRedelivered(t *testing.T) {
	r := NewRing(2)
	r.SendMessage([]byte("x"))

	assert.Equal(t, 1, r.Poll(func([]byte) bool { return false }))
	assert.Equal(t, 1, r.Len())

	var got string
	r.Poll(func(buf []byte) bool { got = string(buf); return true })
	assert.Equal(t, "x", got)
	assert.Equal(t, 0, r.Len())
}

func TestRing_SendCopies(t *testing.T) {
	r := NewRing(1)
	buf := []byte("abc")
	r.SendMessage(buf)
	buf[0] = 'z'

	r.Poll(func(got []byte) bool {
		assert.Equal(t, "abc", string(got))
		return true
	})
}

func TestRing_Closed(t *testing.T) {
	r := NewRing(2)
	r.SendMessage([]byte("queued"))
	r.Close()

	assert.Equal(t, Closed, r.SendMessage([]byte("late")))
	assert.Equal(t, 1, r.Poll(func([]byte) bool { return true }), "queued messages drain after close")
}

func TestRing_ConcurrentProducers(t *testing.T) {
	r := NewRing(8)
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; {
				if r.SendMessage([]byte{byte(i)}) == Sent {
					i++
				}
			}
		}()
	}

	received := 0
	for received < producers*perProducer {
		received += r.Poll(func([]byte) bool { return true })
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestSendResult_String(t *testing.T) {
	assert.Equal(t, "SENT", Sent.String())
	assert.Equal(t, "BACK_PRESSURED", BackPressured.String())
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
	assert.Equal(t, "CLOSED", Closed.String())
	assert.Equal(t, "FAILED", Failed.String())
}
