package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midi2/sdk/ump"
)

func TestNewRoundsCapacityUp(t *testing.T) {
	assert.Equal(t, 2, New(0).Cap())
	assert.Equal(t, 2, New(2).Cap())
	assert.Equal(t, 4, New(3).Cap())
	assert.Equal(t, 256, New(200).Cap())
}

func TestPushPopOrder(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		require.True(t, r.TryPush(ump.NewNoteOn(0, 0, uint8(i), 100)))
	}
	assert.Equal(t, 5, r.Len())

	for i := 0; i < 5; i++ {
		p, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, uint8(i), uint8(p.Word(0)>>8)&0x7f)
	}
	_, ok := r.TryPop()
	assert.False(t, ok)
}

func TestFullRingDropsNewest(t *testing.T) {
	r := New(4)
	for i := 0; i < 6; i++ {
		pushed := r.TryPush(ump.NewNoteOn(0, 0, uint8(i), 100))
		assert.Equal(t, i < 4, pushed, "push %d", i)
	}
	assert.Equal(t, uint64(2), r.Dropped())

	// The oldest backlog survives; notes 4 and 5 were the ones lost.
	got := r.Drain()
	require.Len(t, got, 4)
	for i, p := range got {
		assert.Equal(t, uint8(i), uint8(p.Word(0)>>8)&0x7f)
	}
}

func TestDrainEmpty(t *testing.T) {
	assert.Nil(t, New(4).Drain())
}

func TestWakeSignalsConsumer(t *testing.T) {
	r := New(4)
	require.True(t, r.TryPush(ump.NewNoteOn(0, 0, 1, 100)))

	select {
	case <-r.Wake():
	case <-time.After(time.Second):
		t.Fatal("no wake signal after push")
	}
	_, ok := r.TryPop()
	assert.True(t, ok)
}

func TestCloseSignalsDoneAndKeepsBacklog(t *testing.T) {
	r := New(4)
	require.True(t, r.TryPush(ump.NewNoteOn(0, 0, 1, 100)))

	assert.False(t, r.Closed())
	r.Close()
	r.Close()
	assert.True(t, r.Closed())

	select {
	case <-r.Done():
	default:
		t.Fatal("done channel not closed")
	}

	_, ok := r.TryPop()
	assert.True(t, ok)
}

func TestSingleProducerSingleConsumer(t *testing.T) {
	const total = 10000
	r := New(64)

	go func() {
		for i := 0; i < total; i++ {
			for !r.TryPush(ump.NewControlChange(0, 0, 7, uint32(i))) {
				time.Sleep(time.Microsecond)
			}
		}
		r.Close()
	}()

	next := uint32(0)
	for {
		p, ok := r.TryPop()
		if ok {
			require.Equal(t, next, p.Word(1))
			next++
			continue
		}
		select {
		case <-r.Wake():
		case <-r.Done():
			for _, p := range r.Drain() {
				require.Equal(t, next, p.Word(1))
				next++
			}
			require.Equal(t, uint32(total), next)
			return
		}
	}
}
