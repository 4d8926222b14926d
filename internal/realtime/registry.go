package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carscope/carscope/internal/protocol"
)

const defaultWriteTimeout = 10 * time.Second

// Registry is the single source of truth for live connections and
// their task/session subscriptions. All mutation goes through its
// methods; the maps are never exposed.
type Registry struct {
	mu           sync.RWMutex
	conns        map[string]*conn
	info         map[string]*protocol.ConnectionInfo
	taskSubs     map[string]map[string]struct{}
	sessionSubs  map[string]map[string]struct{}
	writeTimeout time.Duration
	nextGen      uint64
}

// NewRegistry creates an empty Registry. writeTimeout bounds each
// socket write; zero means 10s.
func NewRegistry(writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Registry{
		conns:        make(map[string]*conn),
		info:         make(map[string]*protocol.ConnectionInfo),
		taskSubs:     make(map[string]map[string]struct{}),
		sessionSubs:  make(map[string]map[string]struct{}),
		writeTimeout: writeTimeout,
	}
}

// Connect registers an upgraded socket under clientID and sends the
// connect acknowledgement. If the acknowledgement cannot be written the
// connection is rejected and the error propagated. The returned
// generation identifies this registration; pass it to DisconnectConn so
// cleanup cannot remove a replacement connection under the same id.
func (r *Registry) Connect(sock Socket, clientID, userAgent, ipAddress string) (uint64, error) {
	r.mu.Lock()
	r.nextGen++
	c := &conn{sock: sock, gen: r.nextGen}
	if old, ok := r.conns[clientID]; ok {
		// A reconnect under the same id replaces the stale socket.
		old.close()
	}
	r.conns[clientID] = c
	r.info[clientID] = &protocol.ConnectionInfo{
		ClientID:    clientID,
		ConnectedAt: time.Now(),
		UserAgent:   userAgent,
		IPAddress:   ipAddress,
		IsActive:    true,
	}
	r.mu.Unlock()

	ack := protocol.New(protocol.TypeConnect).
		WithText("connected").
		WithClientID(clientID)
	if !r.Send(clientID, ack) {
		return 0, fmt.Errorf("connect handshake failed for client %q", clientID)
	}

	slog.Info("client connected",
		"client_id", clientID,
		"ip", ipAddress)
	return c.gen, nil
}

// Disconnect removes the connection and every subscription that refers
// to it. Idempotent; unknown ids are a no-op. The connection info
// record is retained (marked inactive) for inspection.
func (r *Registry) Disconnect(clientID string) {
	r.disconnect(clientID, 0, false)
}

// DisconnectConn removes the connection only if the registration still
// belongs to the given generation. A read loop whose socket was
// replaced by a reconnect exits and must not tear down its successor.
func (r *Registry) DisconnectConn(clientID string, gen uint64) {
	r.disconnect(clientID, gen, true)
}

func (r *Registry) disconnect(clientID string, gen uint64, matchGen bool) {
	r.mu.Lock()
	c, ok := r.conns[clientID]
	if ok && matchGen && c.gen != gen {
		r.mu.Unlock()
		return
	}
	if ok {
		delete(r.conns, clientID)
	}
	if info, found := r.info[clientID]; found {
		info.IsActive = false
	}
	r.removeSubscriptionsLocked(clientID)
	r.mu.Unlock()

	if ok {
		c.close()
		slog.Info("client disconnected", "client_id", clientID)
	}
}

func (r *Registry) removeSubscriptionsLocked(clientID string) {
	for taskID, subs := range r.taskSubs {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(r.taskSubs, taskID)
		}
	}
	for sessionID, subs := range r.sessionSubs {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(r.sessionSubs, sessionID)
		}
	}
}

// Send delivers one envelope to one client. Returns false if the client
// is unknown or the write fails; a failed write disconnects the peer.
func (r *Registry) Send(clientID string, msg protocol.Message) bool {
	r.mu.RLock()
	c, ok := r.conns[clientID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	frame, err := msg.Encode()
	if err != nil {
		slog.Error("failed to encode message",
			"client_id", clientID,
			"type", string(msg.Type),
			"error", err)
		return false
	}

	if err := c.writeText(frame, r.writeTimeout); err != nil {
		slog.Warn("write failed, dropping client",
			"client_id", clientID,
			"error", err)
		// Drop only the connection whose write failed; a reconnect may
		// already own the id.
		r.DisconnectConn(clientID, c.gen)
		return false
	}
	return true
}

// Broadcast sends the envelope to every connected client not listed in
// exclude. Individual failures are absorbed; returns the success count.
func (r *Registry) Broadcast(msg protocol.Message, exclude ...string) int {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	sent := 0
	for _, clientID := range r.clientIDs() {
		if excluded[clientID] {
			continue
		}
		if r.Send(clientID, msg) {
			sent++
		}
	}
	return sent
}

// BroadcastToTask sends the envelope to the task's current subscriber
// set. Members that vanished since the snapshot are simply skipped.
func (r *Registry) BroadcastToTask(taskID string, msg protocol.Message) int {
	return r.sendToSet(r.taskMembers(taskID), msg)
}

// BroadcastToSession sends the envelope to the session's current
// subscriber set.
func (r *Registry) BroadcastToSession(sessionID string, msg protocol.Message) int {
	return r.sendToSet(r.sessionMembers(sessionID), msg)
}

func (r *Registry) sendToSet(clientIDs []string, msg protocol.Message) int {
	sent := 0
	for _, clientID := range clientIDs {
		if r.Send(clientID, msg) {
			sent++
		}
	}
	return sent
}

// SubscribeToTask adds clientID to the task's subscriber set. Only
// live connections may subscribe; a deactivated id must never linger
// in an index.
func (r *Registry) SubscribeToTask(clientID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.conns[clientID]; !live {
		return
	}
	if r.taskSubs[taskID] == nil {
		r.taskSubs[taskID] = make(map[string]struct{})
	}
	r.taskSubs[taskID][clientID] = struct{}{}
}

// UnsubscribeFromTask removes clientID from the task's subscriber set.
func (r *Registry) UnsubscribeFromTask(clientID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.taskSubs[taskID]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(r.taskSubs, taskID)
		}
	}
}

// SubscribeToSession adds clientID to the session's subscriber set.
func (r *Registry) SubscribeToSession(clientID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.conns[clientID]; !live {
		return
	}
	if r.sessionSubs[sessionID] == nil {
		r.sessionSubs[sessionID] = make(map[string]struct{})
	}
	r.sessionSubs[sessionID][clientID] = struct{}{}
}

// UnsubscribeFromSession removes clientID from the session's subscriber set.
func (r *Registry) UnsubscribeFromSession(clientID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.sessionSubs[sessionID]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(r.sessionSubs, sessionID)
		}
	}
}

// PingAll sends a ping envelope to every connection and stamps
// last_ping on each success. Stale peers are reaped by write failure,
// not here.
func (r *Registry) PingAll() int {
	ping := protocol.New(protocol.TypePing).WithText("ping")

	sent := 0
	for _, clientID := range r.clientIDs() {
		if r.Send(clientID, ping) {
			sent++
			r.UpdateLastPing(clientID)
		}
	}
	return sent
}

// UpdateLastPing stamps the client's last_ping with the current time.
func (r *Registry) UpdateLastPing(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.info[clientID]; ok {
		now := time.Now()
		info.LastPing = &now
	}
}

// ActiveCount returns the number of live connections.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectionInfo returns the metadata record for one client.
func (r *Registry) ConnectionInfo(clientID string) (protocol.ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.info[clientID]
	if !ok {
		return protocol.ConnectionInfo{}, false
	}
	return *info, true
}

// AllConnectionsInfo returns metadata for every known connection,
// including recently deactivated ones.
func (r *Registry) AllConnectionsInfo() []protocol.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.ConnectionInfo, 0, len(r.info))
	for _, info := range r.info {
		out = append(out, *info)
	}
	return out
}

// TaskSubscriberCount returns the size of a task's subscriber set.
func (r *Registry) TaskSubscriberCount(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.taskSubs[taskID])
}

func (r *Registry) clientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) taskMembers(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.taskSubs[taskID]))
	for id := range r.taskSubs[taskID] {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) sessionMembers(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessionSubs[sessionID]))
	for id := range r.sessionSubs[sessionID] {
		ids = append(ids, id)
	}
	return ids
}
