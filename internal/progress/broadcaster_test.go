package progress

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForMessages(t *testing.T, sock *fakeSocket, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sock.Messages()) >= n
	}, time.Second, 10*time.Millisecond)
	return sock.Messages()
}

func TestBroadcastProgressReachesSessionViewers(t *testing.T) {
	reg := newTestRegistry(Config{SessionCap: 5, SendBuffer: 8})
	defer reg.Shutdown()
	b := NewBroadcaster(reg, nil)

	viewers := []*fakeSocket{{}, {}}
	for _, sock := range viewers {
		_, err := reg.Admit("session-1", sock)
		require.NoError(t, err)
	}
	bystander := &fakeSocket{}
	_, err := reg.Admit("session-2", bystander)
	require.NoError(t, err)

	sent := b.BroadcastProgress("session-1", 42, "processing page 3", "ocr")
	assert.Equal(t, 2, sent)

	for _, sock := range viewers {
		msgs := waitForMessages(t, sock, 1)
		var frame ProgressMessage
		require.NoError(t, json.Unmarshal(msgs[0], &frame))
		assert.Equal(t, "progress", frame.Type)
		assert.Equal(t, "session-1", frame.SessionID)
		assert.Equal(t, 42, frame.Progress)
		assert.Equal(t, "processing page 3", frame.Message)
		assert.Equal(t, "ocr", frame.Stage)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bystander.Messages())
}

func TestBroadcastProgressClampsRange(t *testing.T) {
	reg := newTestRegistry(Config{SessionCap: 5, SendBuffer: 8})
	defer reg.Shutdown()
	b := NewBroadcaster(reg, nil)

	sock := &fakeSocket{}
	_, err := reg.Admit("session-1", sock)
	require.NoError(t, err)

	b.BroadcastProgress("session-1", -10, "", "")
	b.BroadcastProgress("session-1", 250, "", "")

	msgs := waitForMessages(t, sock, 2)
	var first, second ProgressMessage
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	require.NoError(t, json.Unmarshal(msgs[1], &second))
	assert.Equal(t, 0, first.Progress)
	assert.Equal(t, 100, second.Progress)
}

func TestBroadcastProgressUnknownSession(t *testing.T) {
	reg := newTestRegistry(Config{SessionCap: 5, SendBuffer: 8})
	defer reg.Shutdown()
	b := NewBroadcaster(reg, nil)

	assert.Equal(t, 0, b.BroadcastProgress("nobody-home", 50, "", ""))
}

// stuckSocket hangs every write until released; Close never blocks.
type stuckSocket struct {
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newStuckSocket() *stuckSocket {
	return &stuckSocket{release: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stuckSocket) WriteMessage(messageType int, data []byte) error {
	select {
	case <-s.release:
		return nil
	case <-s.closed:
		return errors.New("closed")
	}
}

func (s *stuckSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestBroadcastDropsFrameForSlowViewerWithoutEvicting(t *testing.T) {
	reg := newTestRegistry(Config{SessionCap: 5, SendBuffer: 1})
	defer reg.Shutdown()
	b := NewBroadcaster(reg, nil)

	slow := newStuckSocket()
	slowConn, err := reg.Admit("session-1", slow)
	require.NoError(t, err)

	healthy := &fakeSocket{}
	_, err = reg.Admit("session-1", healthy)
	require.NoError(t, err)

	// The slow viewer's buffer fills after a couple of messages; further
	// frames are dropped for it, but it stays connected and the healthy
	// viewer keeps receiving everything.
	for i := 1; i <= maxSendDrops/2; i++ {
		b.BroadcastProgress("session-1", i, "", "")
	}
	waitForMessages(t, healthy, maxSendDrops/2)

	assert.NotEqual(t, StateClosed, slowConn.State())
	assert.Equal(t, 2, reg.Metrics().TotalConnections)
}

func TestBroadcastEvictsPersistentlySaturatedViewer(t *testing.T) {
	reg := newTestRegistry(Config{SessionCap: 5, SendBuffer: 1})
	defer reg.Shutdown()
	b := NewBroadcaster(reg, nil)

	slow := newStuckSocket()
	slowConn, err := reg.Admit("session-1", slow)
	require.NoError(t, err)

	healthy := &fakeSocket{}
	_, err = reg.Admit("session-1", healthy)
	require.NoError(t, err)

	// The stuck writer never drains, so once the buffer fills every
	// broadcast is refused; past the drop allowance the connection is
	// closed while the healthy viewer stays untouched.
	assert.Eventually(t, func() bool {
		b.BroadcastProgress("session-1", 50, "", "")
		return slowConn.State() == StateClosed && reg.Metrics().TotalConnections == 1
	}, 2*time.Second, 10*time.Millisecond)
}
