package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/store"
)

// WSMessage is the envelope for agent<->controller messages.
type WSMessage struct {
	Type      string                `json:"type"` // command, command_result
	DeviceID  string                `json:"deviceId,omitempty"`
	RequestID string                `json:"requestId,omitempty"`
	Command   *device.Command       `json:"command,omitempty"`
	Result    *device.CommandResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
}

const defaultCommandTimeout = 30 * time.Second

// WSHub maintains agent connections keyed by device ID and correlates
// command responses by request id. A response whose request id is no longer
// pending (the caller timed out or cancelled) is dropped.
type WSHub struct {
	upgrader websocket.Upgrader
	store    store.Store

	mu      sync.RWMutex
	agents  map[string]*agentConn
	pending map[string]chan wsReply
}

// wsReply carries a correlated response to the waiting Execute call. Err is
// set for agent-side transport failures so they surface as errors, not as
// failed command results.
type wsReply struct {
	result *device.CommandResult
	err    string
}

type agentConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (a *agentConn) writeJSON(v interface{}) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(v)
}

func NewWSHub(st store.Store) *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		store:   st,
		agents:  map[string]*agentConn{},
		pending: map[string]chan wsReply{},
	}
}

// HandleAgentWS upgrades and stores the connection for a device; expects ?deviceId=xxx
func (h *WSHub) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		http.Error(w, "deviceId required", http.StatusBadRequest)
		return
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed device=%s err=%v", deviceID, err)
		return
	}
	ac := &agentConn{conn: c}
	h.mu.Lock()
	if old, ok := h.agents[deviceID]; ok {
		_ = old.conn.Close()
	}
	h.agents[deviceID] = ac
	h.mu.Unlock()
	if err := h.store.MarkDeviceConnected(deviceID, true); err != nil {
		log.Printf("mark device connected failed device=%s: %v", deviceID, err)
	}
	log.Printf("agent ws connected: %s", deviceID)
	go h.readLoop(deviceID, ac)
}

func (h *WSHub) readLoop(deviceID string, ac *agentConn) {
	defer func() {
		ac.conn.Close()
		h.mu.Lock()
		if h.agents[deviceID] == ac {
			delete(h.agents, deviceID)
		}
		h.mu.Unlock()
		if err := h.store.MarkDeviceConnected(deviceID, false); err != nil {
			log.Printf("mark device disconnected failed device=%s: %v", deviceID, err)
		}
		log.Printf("agent ws disconnected: %s", deviceID)
	}()
	for {
		var msg WSMessage
		if err := ac.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "command_result" {
			log.Printf("ws recv from %s type=%s (ignored)", deviceID, msg.Type)
			continue
		}
		h.deliver(deviceID, msg)
	}
}

func (h *WSHub) deliver(deviceID string, msg WSMessage) {
	h.mu.Lock()
	ch, ok := h.pending[msg.RequestID]
	if ok {
		delete(h.pending, msg.RequestID)
	}
	h.mu.Unlock()
	if !ok {
		log.Printf("ws dropped late result device=%s requestId=%s", deviceID, msg.RequestID)
		return
	}
	ch <- wsReply{result: msg.Result, err: msg.Error}
}

// Execute sends one command to a device and waits for its correlated result.
func (h *WSHub) Execute(ctx context.Context, deviceID string, cmd device.Command) (*device.CommandResult, error) {
	h.mu.RLock()
	ac := h.agents[deviceID]
	h.mu.RUnlock()
	if ac == nil {
		return nil, fmt.Errorf("device %s not connected", deviceID)
	}

	reqID := uuid.NewString()
	ch := make(chan wsReply, 1)
	h.mu.Lock()
	h.pending[reqID] = ch
	h.mu.Unlock()

	msg := WSMessage{Type: "command", DeviceID: deviceID, RequestID: reqID, Command: &cmd}
	if err := ac.writeJSON(msg); err != nil {
		h.forget(reqID)
		return nil, fmt.Errorf("ws send to %s: %w", deviceID, err)
	}

	timer := time.NewTimer(defaultCommandTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.err != "" {
			return nil, fmt.Errorf("device %s: %s", deviceID, reply.err)
		}
		if reply.result == nil {
			return nil, fmt.Errorf("device %s returned an empty result", deviceID)
		}
		return reply.result, nil
	case <-ctx.Done():
		h.forget(reqID)
		return nil, ctx.Err()
	case <-timer.C:
		h.forget(reqID)
		return nil, fmt.Errorf("command %s timed out on device %s", cmd.String(), deviceID)
	}
}

func (h *WSHub) forget(reqID string) {
	h.mu.Lock()
	delete(h.pending, reqID)
	h.mu.Unlock()
}

// Connected reports whether an agent for the device is currently attached.
func (h *WSHub) Connected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.agents[deviceID] != nil
}

// PortFor returns a device.Port backed by this hub. The port is bound to the
// device id, not the connection, so an agent reconnect is transparent to the
// wizard.
func (h *WSHub) PortFor(deviceID string) (device.Port, error) {
	if !h.Connected(deviceID) {
		return nil, fmt.Errorf("device %s not connected", deviceID)
	}
	return &wsPort{hub: h, deviceID: deviceID}, nil
}

type wsPort struct {
	hub      *WSHub
	deviceID string
}

func (p *wsPort) ExecuteCommand(ctx context.Context, cmd device.Command) (*device.CommandResult, error) {
	return p.hub.Execute(ctx, p.deviceID, cmd)
}
