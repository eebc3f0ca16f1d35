package device

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_DecodesAndDrops(t *testing.T) {
	c := newCapture(1)
	c.onData([]byte{0x01, 0x00, 0xff})
	c.onData([]byte{0x7f})
	c.onData([]byte{0x00, 0x00})

	got := <-c.frames
	assert.Equal(t, []int16{1}, got)
	assert.Equal(t, int64(2), c.dropped.Load())
}

func TestSpeaker_ReadBlocksUntilWrite(t *testing.T) {
	s := newSpeaker()
	done := make(chan []byte, 1)
	go func() {
		p := make([]byte, 8)
		n, _ := s.Read(p)
		done <- p[:n]
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any audio was queued")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, s.WriteBlock([]int16{1, 2}))
	select {
	case b := <-done:
		assert.Equal(t, []byte{1, 0, 2, 0}, b)
	case <-time.After(time.Second):
		t.Fatal("Read did not wake up")
	}
}

func TestSpeaker_CloseDrainsWithSilence(t *testing.T) {
	s := newSpeaker()
	require.NoError(t, s.WriteBlock([]int16{5}))
	s.Close()

	p := make([]byte, 4)
	n, err := s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 0}, p[:n])

	p = []byte{9, 9, 9}
	n, err = s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 0}, p)

	assert.True(t, errors.Is(s.WriteBlock([]int16{1}), io.ErrClosedPipe))
}
