package surge

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_EmptyStreamEndsOnce(t *testing.T) {
	t.Parallel()

	p := NewPipe(2)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 8)
		n, err := p.Read(buf)
		assert.Zero(t, n)
		assert.Equal(t, io.EOF, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Read blocked on a closed empty pipe")
	}
}

func TestPipe_TransfersInOrderWithSmallReads(t *testing.T) {
	t.Parallel()

	p := NewPipe(1)
	var want bytes.Buffer
	go func() {
		chunk := []byte("0123456789")
		for i := 0; i < 20; i++ {
			want.Write(chunk)
			_, _ = p.Write(chunk)
			chunk[0]++ // Write copied the previous contents
		}
		_ = p.Close()
	}()

	var got bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := p.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, want.String(), got.String())
}

func TestPipe_CloseWithErrorReachesReader(t *testing.T) {
	t.Parallel()

	p := NewPipe(2)
	_, err := p.Write([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, p.CloseWithError(errBoom))

	b, err := io.ReadAll(p)
	assert.Equal(t, "a", string(b))
	assert.ErrorIs(t, err, errBoom)

	_, err = p.Write([]byte("b"))
	assert.ErrorIs(t, err, ErrClosedPipe)
}

func TestPipe_CloseReadUnblocksWriter(t *testing.T) {
	t.Parallel()

	p := NewPipe(1)
	_, err := p.Write([]byte("fills the queue"))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte("blocks"))
		errc <- err
	}()

	require.NoError(t, p.CloseRead())
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrClosedPipe), "err = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer stayed blocked after CloseRead")
	}

	_, err = p.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrClosedPipe)
}

func TestPipe_EmptyWriteIsNoop(t *testing.T) {
	t.Parallel()

	p := NewPipe(1)
	n, err := p.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, p.Close())
	_, err = p.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
}
