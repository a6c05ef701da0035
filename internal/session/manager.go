package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is how long a session survives without a heartbeat.
// DefaultSweepInterval is how often expired sessions are collected.
const (
	DefaultTimeout       = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Client is one connected device's session record.
type Client struct {
	SessionID     string    `json:"sessionId"`
	DeviceID      string    `json:"deviceId"`
	DeviceName    string    `json:"deviceName"`
	Platform      string    `json:"platform"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// EventType describes a connection-set change.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event is delivered to listeners whenever the connected set changes.
type Event struct {
	Type   EventType
	Client Client
	Count  int
}

// Manager tracks connected client sessions. Session IDs are generated
// fresh on every connect and never reused. A periodic sweep removes
// sessions whose heartbeat has lapsed.
type Manager struct {
	timeout       time.Duration
	sweepInterval time.Duration
	logger        *logrus.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	listeners []func(Event)

	stopOnce sync.Once
	done     chan struct{}
}

// NewManager creates a connection manager with the given heartbeat timeout.
// Zero durations fall back to the defaults.
func NewManager(timeout, sweepInterval time.Duration, logger *logrus.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Manager{
		timeout:       timeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		clients:       make(map[string]*Client),
		done:          make(chan struct{}),
	}
}

// OnChange registers a listener for connect/disconnect events. Register
// before Start; listeners run on the calling or sweep goroutine.
func (m *Manager) OnChange(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start launches the periodic expiry sweep.
func (m *Manager) Start() {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.done:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Connect registers a device and returns its new session. Calling connect
// twice for the same device yields two independent sessions.
func (m *Manager) Connect(deviceID, deviceName, platform string) *Client {
	client := &Client{
		SessionID:     uuid.NewString(),
		DeviceID:      deviceID,
		DeviceName:    deviceName,
		Platform:      platform,
		ConnectedAt:   time.Now(),
		LastHeartbeat: time.Now(),
	}

	m.mu.Lock()
	m.clients[client.SessionID] = client
	count := len(m.clients)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"session_id":  client.SessionID,
		"device_name": deviceName,
		"platform":    platform,
	}).Info("Client connected")
	m.fire(listeners, Event{Type: EventConnected, Client: *client, Count: count})
	return client
}

// Heartbeat refreshes a session's last-activity time. Returns false for
// unknown or already-expired sessions.
func (m *Manager) Heartbeat(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[sessionID]
	if !ok {
		return false
	}
	client.LastHeartbeat = time.Now()
	return true
}

// IsValidSession reports whether the session exists and has not timed out.
func (m *Manager) IsValidSession(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[sessionID]
	return ok && time.Since(client.LastHeartbeat) <= m.timeout
}

// Disconnect removes a session immediately. Disconnecting a session twice
// is not an error.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	client, ok := m.clients[sessionID]
	if ok {
		delete(m.clients, sessionID)
	}
	count := len(m.clients)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if !ok {
		return
	}
	m.logger.WithField("session_id", sessionID).Info("Client disconnected")
	m.fire(listeners, Event{Type: EventDisconnected, Client: *client, Count: count})
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Clients returns a snapshot of all tracked sessions.
func (m *Manager) Clients() []Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, *c)
	}
	return out
}

// sweep removes sessions whose heartbeat lapsed past the timeout and
// notifies listeners for each removal.
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var expired []Client
	for id, client := range m.clients {
		if now.Sub(client.LastHeartbeat) > m.timeout {
			expired = append(expired, *client)
			delete(m.clients, id)
		}
	}
	count := len(m.clients)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, client := range expired {
		m.logger.WithFields(logrus.Fields{
			"session_id":  client.SessionID,
			"device_name": client.DeviceName,
		}).Info("Session expired")
		m.fire(listeners, Event{Type: EventDisconnected, Client: client, Count: count})
	}
}

func (m *Manager) listenersLocked() []func(Event) {
	out := make([]func(Event), len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *Manager) fire(listeners []func(Event), evt Event) {
	for _, fn := range listeners {
		fn(evt)
	}
}
