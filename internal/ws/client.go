package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	// ErrNotConnected is returned by Send when no transport is open.
	ErrNotConnected = errors.New("not connected")
	// ErrNoIdentity is logged when Connect is called before SetIdentity.
	ErrNoIdentity = errors.New("identity not set")
)

const (
	dialTimeout       = 15 * time.Second
	writeTimeout      = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	readLimit         = 8 << 20
)

// Connection states reported through OnStateChange.
const (
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateReconnecting = "reconnecting"
	StateLost         = "lost"
)

// Client owns the WebSocket connection to one project channel. Inbound frames
// are routed to subscribers; outbound intents are framed with the current
// session header.
type Client struct {
	BaseURL string // e.g. "wss://forge.example.com/ws"
	Token   string // optional bearer token sent on the upgrade request

	// HeartbeatInterval is the ping period used to detect dead transports.
	// Zero disables pings.
	HeartbeatInterval time.Duration

	OnStateChange func(state string, err error)

	log     *slog.Logger
	session *Session
	router  *Router

	mu        sync.Mutex
	policy    *ReconnectPolicy
	conn      *websocket.Conn
	connected bool
	gen       uint64 // bumped whenever the current transport is replaced or dropped
	manual    bool   // set by Disconnect
	life      context.Context
	stop      context.CancelFunc
}

// NewClient creates a client for the given WebSocket root. The connection is
// not opened until Connect.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	s := NewSession()
	return &Client{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		HeartbeatInterval: heartbeatInterval,
		log:               logger,
		session:           s,
		router:            NewRouter(s, logger),
		policy:            NewReconnectPolicy(DefaultReconnectDelay, DefaultMaxReconnectAttempts),
	}
}

// SetReconnectPolicy replaces the reconnect policy. Call before Connect.
func (c *Client) SetReconnectPolicy(delay time.Duration, maxAttempts int) {
	c.mu.Lock()
	c.policy = NewReconnectPolicy(delay, maxAttempts)
	c.mu.Unlock()
}

// SetIdentity stores the identity resent on every handshake.
func (c *Client) SetIdentity(id Identity) {
	c.session.SetIdentity(id)
}

func (c *Client) SessionID() string { return c.session.SessionID() }

func (c *Client) ConnectionID() string { return c.session.ConnectionID() }

// Connected reports whether a transport is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReconnectAttempts is the number of automatic attempts since the last open.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Attempts()
}

// Subscribe registers a handler for inbound events.
func (c *Client) Subscribe(h Handler) Subscription {
	return c.router.Subscribe(h)
}

func (c *Client) Unsubscribe(id Subscription) bool {
	return c.router.Unsubscribe(id)
}

// Connect opens a transport to the project's channel, authenticates and asks
// for the online-user list. It reports whether the transport opened. A failed
// open is not retried.
func (c *Client) Connect(ctx context.Context, projectID string) bool {
	c.mu.Lock()
	if c.life == nil || c.life.Err() != nil {
		c.life, c.stop = context.WithCancel(context.Background())
	}
	c.manual = false
	c.mu.Unlock()
	return c.open(ctx, projectID)
}

func (c *Client) open(ctx context.Context, projectID string) bool {
	connID := c.session.begin(projectID)
	log := c.log.With("conn", connID)

	identity, ok := c.session.Identity()
	if !ok {
		log.Error("connection failed", "err", ErrNoIdentity)
		return false
	}

	c.notifyState(StateConnecting, nil)
	log.Info("starting websocket connection", "project", projectID)

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.endpoint(projectID), opts)
	if err != nil {
		log.Error("connection failed", "err", err)
		c.notifyState(StateDisconnected, err)
		return false
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "Manual disconnect")
		return false
	}
	prev := c.conn
	c.gen++
	gen := c.gen
	c.conn = conn
	c.connected = true
	c.policy.Reset()
	life := c.life
	c.mu.Unlock()

	if prev != nil {
		go prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	log.Info("websocket connected")
	go c.readLoop(life, conn, gen)
	if c.HeartbeatInterval > 0 {
		go c.heartbeatLoop(life, conn, gen)
	}

	auth := Auth{
		Type:         TypeAuth,
		UserID:       identity.UserID,
		Username:     identity.Username,
		Email:        identity.Email,
		ProjectID:    projectID,
		ConnectionID: connID,
		Timestamp:    time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(auth); err == nil {
		if err := c.write(ctx, conn, data); err != nil {
			log.Error("auth send error", "err", err)
		}
	}
	c.RequestOnlineUsers(ctx)

	c.notifyState(StateConnected, nil)
	return true
}

func (c *Client) endpoint(projectID string) string {
	return c.BaseURL + "/project/" + url.PathEscape(projectID)
}

func (c *Client) readLoop(life context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(life)
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.router.Dispatch(data)
	}
}

func (c *Client) heartbeatLoop(life context.Context, conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-life.Done():
			return
		case <-ticker.C:
			if !c.current(gen) {
				return
			}
			pingCtx, cancel := context.WithTimeout(life, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.log.Warn("heartbeat failed", "conn", c.ConnectionID(), "err", err)
				conn.CloseNow()
				return
			}
		}
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// handleClose runs when the read loop of transport gen ends. Only the current
// transport may trigger reconnection, and never after Disconnect.
func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	manual := c.manual
	c.mu.Unlock()

	c.log.Info("websocket disconnected", "conn", c.ConnectionID(),
		"code", int(websocket.CloseStatus(err)), "err", err)
	c.notifyState(StateDisconnected, err)
	if manual {
		return
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	delay, ok := c.policy.Next()
	attempt := c.policy.Attempts()
	life := c.life
	gen := c.gen
	c.mu.Unlock()

	if !ok {
		c.log.Warn("reconnect attempts exhausted", "conn", c.ConnectionID(), "attempts", attempt)
		c.notifyState(StateLost, fmt.Errorf("gave up after %d reconnect attempts", attempt))
		return
	}
	c.log.Info("reconnecting", "conn", c.ConnectionID(), "attempt", attempt, "delay", delay)
	c.notifyState(StateReconnecting, nil)

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-life.Done():
			return
		case <-t.C:
		}
		if !c.reconnectWanted(gen) {
			return
		}
		// A failed open counts as another unexpected closure.
		if !c.open(life, c.session.ProjectID()) && c.reconnectWanted(gen) && life.Err() == nil {
			c.scheduleReconnect()
		}
	}()
}

// reconnectWanted reports whether a reconnect scheduled while transport gen
// was current should still run. A caller's Connect or Disconnect in the
// meantime supersedes it.
func (c *Client) reconnectWanted(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.manual && !c.connected && c.gen == gen
}

// Disconnect closes the transport with a normal closure, drops every
// subscriber and cancels any pending reconnect. The client needs a new
// Connect (and, if changed, SetIdentity) to resume.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.gen++
	conn := c.conn
	c.conn = nil
	c.connected = false
	stop := c.stop
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "Manual disconnect")
	}
	if stop != nil {
		stop()
	}
	c.router.Clear()
	c.log.Info("websocket disconnected by client", "conn", c.ConnectionID())
	c.notifyState(StateDisconnected, nil)
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

// Send frames payload as {type, ...payload, sessionId, connectionId,
// timestamp} and writes it. It never panics; failures are logged and
// returned.
func (c *Client) Send(ctx context.Context, typ string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	connID := c.ConnectionID()
	if conn == nil || !connected {
		c.log.Error("cannot send - not connected", "conn", connID, "type", typ)
		return ErrNotConnected
	}

	data, err := c.frame(typ, payload)
	if err != nil {
		c.log.Error("send error", "conn", connID, "type", typ, "err", err)
		return err
	}
	if err := c.write(ctx, conn, data); err != nil {
		c.log.Error("send error", "conn", connID, "type", typ, "err", err)
		c.mu.Lock()
		if c.conn == conn {
			c.connected = false
		}
		c.mu.Unlock()
		return fmt.Errorf("send %s: %w", typ, err)
	}
	c.log.Debug("sent", "conn", connID, "type", typ)
	return nil
}

func (c *Client) frame(typ string, payload any) ([]byte, error) {
	fields := make(map[string]any)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", typ, err)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("payload for %s is not an object: %w", typ, err)
		}
		for k, v := range obj {
			fields[k] = v
		}
	}
	sessionID, connectionID := c.session.header()
	fields["type"] = typ
	fields["sessionId"] = sessionID
	fields["connectionId"] = connectionID
	fields["timestamp"] = time.Now().UnixMilli()
	return json.Marshal(fields)
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Outbound intents.

func (c *Client) RequestOnlineUsers(ctx context.Context) error {
	return c.Send(ctx, TypeGetOnlineUsers, struct{}{})
}

// ExecuteCode runs a single file.
func (c *Client) ExecuteCode(ctx context.Context, code, filePath string) error {
	return c.Send(ctx, TypeExecuteCode, ExecuteCodePayload{Code: code, FilePath: filePath})
}

// ExecuteFiles runs a multi-file program. files maps path to content.
func (c *Client) ExecuteFiles(ctx context.Context, files map[string]string, entryPoint string) error {
	return c.Send(ctx, TypeExecuteCode, ExecuteFilesPayload{Files: files, EntryPoint: entryPoint})
}

func (c *Client) SendInput(ctx context.Context, input string) error {
	return c.Send(ctx, TypeSendInput, SendInputPayload{Input: input})
}

func (c *Client) StopExecution(ctx context.Context) error {
	return c.Send(ctx, TypeStopExecution, struct{}{})
}

func (c *Client) SaveFile(ctx context.Context, fileID ID, content string) error {
	return c.Send(ctx, TypeFileSave, FileSavePayload{FileID: fileID, Content: content})
}

// CreateFile asks the server to create a file or folder. parentID nil means
// the project root.
func (c *Client) CreateFile(ctx context.Context, name, path, fileType string, parentID *ID) error {
	return c.Send(ctx, TypeFileCreate, FileCreatePayload{
		FileName: name,
		Path:     path,
		FileType: fileType,
		ParentID: parentID,
	})
}

func (c *Client) DeleteFile(ctx context.Context, fileID ID) error {
	return c.Send(ctx, TypeFileDelete, FileDeletePayload{FileID: fileID})
}

func (c *Client) RenameFile(ctx context.Context, newName string, fileID ID) error {
	return c.Send(ctx, TypeFileRename, FileRenamePayload{NewFileName: newName, FileID: fileID})
}

func (c *Client) KickUser(ctx context.Context, userID ID) error {
	return c.Send(ctx, TypeKickUser, KickUserPayload{UserID: userID})
}
