// Package wsregistry is the process-wide connection registry for device
// and parent-portal WebSocket sockets, using a mutex-guarded map-of-maps
// to maintain device, child, and family indices over the live connections.
package wsregistry

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"heimdall/internal/metrics"
)

// Registry holds every connected device and parent-portal socket. All
// mutations serialize through a single mutex.
type Registry struct {
	mu sync.Mutex

	// deviceSockets maps device id -> its single socket. A new connect
	// evicts any prior socket for the same device id.
	deviceSockets map[string]*websocket.Conn
	// childDevices maps child id -> set of connected device ids.
	childDevices map[string]map[string]struct{}
	// deviceChild maps device id -> its child id, the reverse of
	// childDevices, so a lookup keyed only on device id (SendToDevice) can
	// still purge the child index entry.
	deviceChild map[string]string
	// parentSockets maps family id -> set of connected parent sockets
	// (multiple browser tabs are allowed).
	parentSockets map[string]map[*websocket.Conn]struct{}

	metrics *metrics.Metrics
}

// SetMetrics wires m into the registry so Connect/removeDevice drive the
// connected-device gauge. A nil receiver field (the default) disables it.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		deviceSockets: make(map[string]*websocket.Conn),
		childDevices:  make(map[string]map[string]struct{}),
		deviceChild:   make(map[string]string),
		parentSockets: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Connect registers a device's socket, evicting any prior socket for the
// same device id.
func (r *Registry) Connect(deviceID, childID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, alreadyConnected := r.deviceSockets[deviceID]
	if prior, ok := r.deviceSockets[deviceID]; ok && prior != conn {
		prior.Close()
	}
	r.deviceSockets[deviceID] = conn
	r.deviceChild[deviceID] = childID
	if !alreadyConnected && r.metrics != nil {
		r.metrics.ConnectedDevices.Inc()
	}

	if r.childDevices[childID] == nil {
		r.childDevices[childID] = make(map[string]struct{})
	}
	r.childDevices[childID][deviceID] = struct{}{}
}

// Disconnect removes a device's socket from every index.
func (r *Registry) Disconnect(deviceID, childID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeDevice(deviceID)
}

// removeDevice purges deviceID from every index. Callers must hold r.mu.
func (r *Registry) removeDevice(deviceID string) {
	if _, ok := r.deviceSockets[deviceID]; ok && r.metrics != nil {
		r.metrics.ConnectedDevices.Dec()
	}
	delete(r.deviceSockets, deviceID)
	childID, ok := r.deviceChild[deviceID]
	if !ok {
		return
	}
	delete(r.deviceChild, deviceID)
	if set, ok := r.childDevices[childID]; ok {
		delete(set, deviceID)
		if len(set) == 0 {
			delete(r.childDevices, childID)
		}
	}
}

// SendToDevice sends message to deviceID's socket, returning false if the
// device isn't connected or the send fails. On failure, the entry is
// removed from all indices under the same lock.
func (r *Registry) SendToDevice(deviceID string, message any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.deviceSockets[deviceID]
	if !ok {
		return false
	}
	if err := conn.WriteJSON(message); err != nil {
		r.removeDevice(deviceID)
		return false
	}
	return true
}

// SendToChildDevices sends message to every connected device of childID,
// returning the number of devices that received it.
func (r *Registry) SendToChildDevices(childID string, message any) int {
	r.mu.Lock()
	deviceIDs := make([]string, 0, len(r.childDevices[childID]))
	for id := range r.childDevices[childID] {
		deviceIDs = append(deviceIDs, id)
	}
	r.mu.Unlock()

	sent := 0
	for _, id := range deviceIDs {
		if r.SendToDevice(id, message) {
			sent++
		}
	}
	return sent
}

// ConnectParent registers a parent-portal socket for familyID.
func (r *Registry) ConnectParent(familyID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.parentSockets[familyID] == nil {
		r.parentSockets[familyID] = make(map[*websocket.Conn]struct{})
	}
	r.parentSockets[familyID][conn] = struct{}{}
}

// DisconnectParent removes a parent-portal socket.
func (r *Registry) DisconnectParent(familyID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.parentSockets[familyID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.parentSockets, familyID)
		}
	}
}

// NotifyParents sends message to every connected parent socket for
// familyID, returning the count of successful sends. Failing sockets are
// collected under the lock and removed in a second lock acquisition.
func (r *Registry) NotifyParents(familyID string, message any) int {
	r.mu.Lock()
	sockets := make([]*websocket.Conn, 0, len(r.parentSockets[familyID]))
	for conn := range r.parentSockets[familyID] {
		sockets = append(sockets, conn)
	}
	r.mu.Unlock()

	sent := 0
	var failed []*websocket.Conn
	for _, conn := range sockets {
		if err := conn.WriteJSON(message); err != nil {
			failed = append(failed, conn)
			continue
		}
		sent++
	}

	if len(failed) > 0 {
		r.mu.Lock()
		if set, ok := r.parentSockets[familyID]; ok {
			for _, conn := range failed {
				delete(set, conn)
			}
			if len(set) == 0 {
				delete(r.parentSockets, familyID)
			}
		}
		r.mu.Unlock()
	}
	return sent
}

// BroadcastToParents sends message to every connected parent socket across
// every family.
func (r *Registry) BroadcastToParents(message any) int {
	r.mu.Lock()
	familyIDs := make([]string, 0, len(r.parentSockets))
	for familyID := range r.parentSockets {
		familyIDs = append(familyIDs, familyID)
	}
	r.mu.Unlock()

	sent := 0
	for _, familyID := range familyIDs {
		sent += r.NotifyParents(familyID, message)
	}
	return sent
}

// IsConnected reports whether deviceID currently has a socket registered.
func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.deviceSockets[deviceID]
	return ok
}

// Message is the envelope every server->socket JSON message carries; it
// always has a "type" field.
type Message map[string]any

// NewMessage builds a Message with the given type and extra fields.
func NewMessage(msgType string, fields map[string]any) Message {
	m := Message{"type": msgType}
	for k, v := range fields {
		m[k] = v
	}
	return m
}

// MarshalJSON is implemented explicitly only to document that Message is a
// plain JSON object; the default map encoding already satisfies it.
var _ json.Marshaler = Message(nil)

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(m))
}
