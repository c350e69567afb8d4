package agent

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wan-doctor/pkg/device"
)

// wsEnvelope mirrors the controller's WebSocket message shape.
type wsEnvelope struct {
	Type      string                `json:"type"`
	DeviceID  string                `json:"deviceId,omitempty"`
	RequestID string                `json:"requestId,omitempty"`
	Command   *device.Command       `json:"command,omitempty"`
	Result    *device.CommandResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Client maintains the agent's connection to the controller, executing
// received commands on the local port and replying with correlated results.
type Client struct {
	endpoint string
	deviceID string
	token    string
	port     device.Port

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient builds a client for the given controller base URL, e.g.
// "http://controller:8080". Returns nil when required config is missing.
func NewClient(controller, deviceID, token string, port device.Port) *Client {
	if controller == "" || deviceID == "" {
		return nil
	}
	u, err := url.Parse(controller)
	if err != nil {
		return nil
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	u.Scheme = scheme
	u.Path = "/api/v1/ws/agent"
	q := u.Query()
	q.Set("deviceId", deviceID)
	u.RawQuery = q.Encode()
	return &Client{
		endpoint: u.String(),
		deviceID: deviceID,
		token:    token,
		port:     port,
	}
}

// Run dials the controller and reconnects on failure until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	if c == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		header := http.Header{}
		if c.token != "" {
			header.Set("Authorization", "Bearer "+c.token)
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			log.Printf("ws dial failed: %v (url=%s status=%d)", err, c.endpoint, status)
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		log.Printf("ws connected to controller url=%s", c.endpoint)
		c.readLoop(ctx, conn)
		log.Printf("ws disconnected, retrying in 5s")
		if !sleepCtx(ctx, 5*time.Second) {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		var msg wsEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "command" || msg.Command == nil {
			log.Printf("ws recv type=%s (ignored)", msg.Type)
			continue
		}
		go c.execute(ctx, msg)
	}
}

// execute runs one command and replies with its request id. Transport-level
// execution failures travel back in the Error field so the controller can
// distinguish them from command failures.
func (c *Client) execute(ctx context.Context, msg wsEnvelope) {
	cmdCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	log.Printf("executing command %s requestId=%s", msg.Command.String(), msg.RequestID)
	result, err := c.port.ExecuteCommand(cmdCtx, *msg.Command)
	reply := wsEnvelope{
		Type:      "command_result",
		DeviceID:  c.deviceID,
		RequestID: msg.RequestID,
	}
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Result = result
	}
	c.send(reply)
}

func (c *Client) send(msg wsEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("ws send failed: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
