// Package switcher speaks the obs-websocket v5 protocol to the vision
// mixer in each room and pools one authenticated connection per device.
package switcher

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// ErrConnClosed is returned by Call once the connection is gone.
var ErrConnClosed = errors.New("switcher: connection closed")

// Conn is an identified device connection.
type Conn interface {
	// Call performs one request and decodes the response data into out
	// when out is non-nil. A *DeviceError means the device rejected the
	// request; any other error means the connection is unusable.
	Call(ctx context.Context, requestType string, requestData interface{}, out interface{}) error
	Connected() bool
	Close() error
}

// Target addresses one device.
type Target struct {
	Endpoint string
	Password string
}

func (t Target) key() string {
	return t.Endpoint + "|" + t.Password
}

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestData struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type responseData struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

type client struct {
	ws     *websocket.Conn
	logger logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan responseData

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects, completes the Hello/Identify handshake and starts the
// response reader. The handshake respects the deadline on ctx.
func Dial(ctx context.Context, target Target, logger logging.Logger) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 0}
	ws, _, err := dialer.DialContext(ctx, target.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.Endpoint, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
		_ = ws.SetWriteDeadline(deadline)
	}

	c := &client{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan responseData),
		closed:  make(chan struct{}),
	}

	if err := c.identify(target.Password); err != nil {
		ws.Close()
		return nil, fmt.Errorf("identify with %s: %w", target.Endpoint, err)
	}

	_ = ws.SetReadDeadline(time.Time{})
	_ = ws.SetWriteDeadline(time.Time{})
	go c.readLoop()

	logger.WithFields(logging.Fields{"endpoint": target.Endpoint}).Debug("Device connection identified")
	return c, nil
}

func (c *client) identify(password string) error {
	var env envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("expected hello, got opcode %d", env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}

	identify := identifyData{RPCVersion: rpcVersion, EventSubscriptions: 0}
	if hello.Authentication != nil {
		if password == "" {
			return errors.New("device requires authentication but no password is configured")
		}
		identify.Authentication = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	payload, err := json.Marshal(identify)
	if err != nil {
		return fmt.Errorf("encode identify: %w", err)
	}
	if err := c.ws.WriteJSON(envelope{Op: opIdentify, D: payload}); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	// Ignore anything else the device volunteers before Identified.
	for {
		if err := c.ws.ReadJSON(&env); err != nil {
			return fmt.Errorf("read identified: %w", err)
		}
		if env.Op == opIdentified {
			return nil
		}
	}
}

// authResponse derives the identify secret from the salted challenge.
func authResponse(password, salt, challenge string) string {
	base := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(base[:])
	final := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(final[:])
}

func (c *client) readLoop() {
	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.shutdown(err)
			return
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp responseData
		if err := json.Unmarshal(env.D, &resp); err != nil {
			c.logger.WithError(err).Warn("Discarding malformed device response")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.ws.Close()
		c.mu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
		c.mu.Unlock()
	})
}

func (c *client) Call(ctx context.Context, requestType string, reqData interface{}, out interface{}) error {
	id := uuid.New().String()
	ch := make(chan responseData, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(requestData{RequestType: requestType, RequestID: id, RequestData: reqData})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("encode %s request: %w", requestType, err)
	}

	c.writeMu.Lock()
	err = c.ws.WriteJSON(envelope{Op: opRequest, D: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.shutdown(err)
		return fmt.Errorf("send %s request: %w", requestType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnClosed
		}
		if !resp.RequestStatus.Result {
			return &DeviceError{Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("decode %s response: %w", requestType, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.closed:
		return ErrConnClosed
	}
}

func (c *client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *client) Close() error {
	c.shutdown(ErrConnClosed)
	return nil
}
