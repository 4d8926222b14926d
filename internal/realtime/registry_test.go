package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carscope/carscope/internal/protocol"
)

// fakeSocket records frames written to it and can be told to fail.
type fakeSocket struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("write failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// types returns the decoded type field of every frame written so far.
func (f *fakeSocket) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, frame := range f.frames {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg.Type)
	}
	return out
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func connect(t *testing.T, r *Registry, clientID string) *fakeSocket {
	t.Helper()
	sock, _ := connectGen(t, r, clientID)
	return sock
}

func connectGen(t *testing.T, r *Registry, clientID string) (*fakeSocket, uint64) {
	t.Helper()
	sock := &fakeSocket{}
	gen, err := r.Connect(sock, clientID, "test-agent", "127.0.0.1")
	require.NoError(t, err)
	return sock, gen
}

func TestRegistry_Connect_SendsAck(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	sock := connect(t, r, "c1")

	require.Equal(t, []string{"connect"}, sock.types(t))
	assert.Equal(t, 1, r.ActiveCount())

	info, ok := r.ConnectionInfo("c1")
	require.True(t, ok)
	assert.True(t, info.IsActive)
	assert.Equal(t, "127.0.0.1", info.IPAddress)
}

func TestRegistry_Connect_AckWriteFailureRejects(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	sock := &fakeSocket{failWrites: true}
	_, err := r.Connect(sock, "c1", "", "")
	require.Error(t, err)
	assert.Equal(t, 0, r.ActiveCount())
}

func TestRegistry_Connect_ReconnectReplacesStaleSocket(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	old := connect(t, r, "c1")
	connect(t, r, "c1")

	assert.True(t, old.isClosed())
	assert.Equal(t, 1, r.ActiveCount())
}

func TestRegistry_DisconnectConn_StaleGenerationKeepsReplacement(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	_, oldGen := connectGen(t, r, "c1")
	replacement, newGen := connectGen(t, r, "c1")
	r.SubscribeToTask("c1", "task-1")

	// The replaced read loop exits and runs its cleanup. The fresh
	// registration must survive it untouched.
	r.DisconnectConn("c1", oldGen)

	assert.Equal(t, 1, r.ActiveCount())
	assert.False(t, replacement.isClosed())
	assert.Equal(t, 1, r.TaskSubscriberCount("task-1"))

	info, ok := r.ConnectionInfo("c1")
	require.True(t, ok)
	assert.True(t, info.IsActive)

	assert.True(t, r.Send("c1", protocol.New(protocol.TypePing)))

	r.DisconnectConn("c1", newGen)
	assert.Equal(t, 0, r.ActiveCount())
	assert.True(t, replacement.isClosed())
}

func TestRegistry_DisconnectConn_MatchingGenerationRemoves(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	sock, gen := connectGen(t, r, "c1")
	r.DisconnectConn("c1", gen)

	assert.True(t, sock.isClosed())
	assert.Equal(t, 0, r.ActiveCount())

	info, ok := r.ConnectionInfo("c1")
	require.True(t, ok)
	assert.False(t, info.IsActive)
}

func TestRegistry_Disconnect_RetainsInactiveInfo(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	sock := connect(t, r, "c1")
	r.Disconnect("c1")

	assert.True(t, sock.isClosed())
	assert.Equal(t, 0, r.ActiveCount())

	info, ok := r.ConnectionInfo("c1")
	require.True(t, ok)
	assert.False(t, info.IsActive)
}

func TestRegistry_Disconnect_RemovesSubscriptions(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	connect(t, r, "c1")
	r.SubscribeToTask("c1", "task-1")
	r.SubscribeToSession("c1", "sess-1")
	require.Equal(t, 1, r.TaskSubscriberCount("task-1"))

	r.Disconnect("c1")

	assert.Zero(t, r.TaskSubscriberCount("task-1"))
	assert.Zero(t, r.BroadcastToSession("sess-1", protocol.New(protocol.TypeConversationResponse)))
}

func TestRegistry_Disconnect_Idempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	connect(t, r, "c1")
	r.Disconnect("c1")
	r.Disconnect("c1")
	r.Disconnect("never-connected")

	assert.Equal(t, 0, r.ActiveCount())
}

func TestRegistry_Send_UnknownClientReturnsFalse(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	assert.False(t, r.Send("ghost", protocol.New(protocol.TypePing)))
}

func TestRegistry_Send_WriteFailureDropsClient(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	sock := connect(t, r, "c1")
	sock.mu.Lock()
	sock.failWrites = true
	sock.mu.Unlock()

	ok := r.Send("c1", protocol.New(protocol.TypePing))
	assert.False(t, ok)
	assert.Equal(t, 0, r.ActiveCount())
}

func TestRegistry_Broadcast_RespectsExclusions(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	s1 := connect(t, r, "c1")
	s2 := connect(t, r, "c2")

	sent := r.Broadcast(protocol.New(protocol.TypeSystemNotification), "c1")
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, s1.frameCount(), "excluded client only has the connect ack")
	assert.Equal(t, 2, s2.frameCount())
}

func TestRegistry_SubscribeToTask_IgnoresUnknownClients(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	r.SubscribeToTask("ghost", "task-1")
	assert.Zero(t, r.TaskSubscriberCount("task-1"))
}

func TestRegistry_BroadcastToTask_OnlyReachesSubscribers(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	sub := connect(t, r, "sub")
	other := connect(t, r, "other")
	r.SubscribeToTask("sub", "task-1")

	sent := r.BroadcastToTask("task-1", protocol.New(protocol.TypeSearchProgress))
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"connect", "search_progress"}, sub.types(t))
	assert.Equal(t, []string{"connect"}, other.types(t))
}

func TestRegistry_Unsubscribe_DropsEmptySets(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	connect(t, r, "c1")
	r.SubscribeToTask("c1", "task-1")
	r.UnsubscribeFromTask("c1", "task-1")

	assert.Zero(t, r.TaskSubscriberCount("task-1"))

	r.mu.RLock()
	_, exists := r.taskSubs["task-1"]
	r.mu.RUnlock()
	assert.False(t, exists, "empty subscriber set must be removed")
}

func TestRegistry_Unsubscribe_UnknownIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	r.UnsubscribeFromTask("ghost", "task-1")
	r.UnsubscribeFromSession("ghost", "sess-1")
}

func TestRegistry_PingAll_StampsLastPing(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	connect(t, r, "c1")
	connect(t, r, "c2")

	sent := r.PingAll()
	assert.Equal(t, 2, sent)

	info, ok := r.ConnectionInfo("c1")
	require.True(t, ok)
	require.NotNil(t, info.LastPing)
	assert.WithinDuration(t, time.Now(), *info.LastPing, time.Second)
}

func TestRegistry_AllConnectionsInfo_IncludesInactive(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)

	connect(t, r, "c1")
	connect(t, r, "c2")
	r.Disconnect("c2")

	infos := r.AllConnectionsInfo()
	assert.Len(t, infos, 2)
	assert.Equal(t, 1, r.ActiveCount())
}
