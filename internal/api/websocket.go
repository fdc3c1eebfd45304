package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/models"
)

// WebSocket message types for the parse watch protocol
const (
	// Client -> Server messages
	MsgTypeParseWatch   = "parse:watch"
	MsgTypeParseUnwatch = "parse:unwatch"
	MsgTypePing         = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WSMessage is the envelope of every websocket message. ID carries the
// session ID for parse messages.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSProgressResponse reports the state of a running session.
type WSProgressResponse struct {
	SessionID string               `json:"sessionId"`
	Status    models.SessionStatus `json:"status"`
	Progress  float64              `json:"progress"`
	Files     []WSFileProgress     `json:"files"`
}

// WSFileProgress is the per-file part of a progress message.
type WSFileProgress struct {
	FileID string            `json:"fileId"`
	Name   string            `json:"name"`
	Status models.FileStatus `json:"status"`
}

// WSErrorResponse describes a failed request or session.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes parse session progress to connected clients.
type WebSocketHandler struct {
	sessionMgr     SessionManager
	upgrader       websocket.Upgrader
	maxMessageSize int64
	pollInterval   time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler. maxMessageSize caps
// incoming client messages in bytes; zero keeps the default of 64KB.
func NewWebSocketHandler(sessionMgr SessionManager, maxMessageSize int64) *WebSocketHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = 64 * 1024
	}
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		maxMessageSize: maxMessageSize,
		pollInterval:   100 * time.Millisecond,
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
	}
}

func (c *wsConn) sendError(id, message, code string) {
	c.send(WSMessage{
		Type:    MsgTypeError,
		ID:      id,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

// HandleWebSocket upgrades the connection and serves parse:watch requests
// until the client disconnects.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsh.maxMessageSize)

	conn := &wsConn{ws: ws}
	fmt.Println("[WebSocket] Client connected")

	ctx, cancel := context.WithCancel(c.Request().Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		fmt.Println("[WebSocket] Client disconnected")
	}()

	watches := make(map[string]context.CancelFunc)

	conn.send(WSMessage{Type: MsgTypeConnected})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			return nil
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong})

		case MsgTypeParseWatch:
			if msg.ID == "" {
				conn.sendError("", "parse:watch needs a session id", "INVALID_PAYLOAD")
				continue
			}
			if _, ok := watches[msg.ID]; ok {
				continue
			}
			watchCtx, stop := context.WithCancel(ctx)
			watches[msg.ID] = stop
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				wsh.watchSession(watchCtx, conn, id)
			}(msg.ID)

		case MsgTypeParseUnwatch:
			if stop, ok := watches[msg.ID]; ok {
				stop()
				delete(watches, msg.ID)
			}

		default:
			conn.sendError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}
}

// watchSession sends a progress message whenever the session changes and a
// final complete or error message when it finishes.
func (wsh *WebSocketHandler) watchSession(ctx context.Context, conn *wsConn, id string) {
	ticker := time.NewTicker(wsh.pollInterval)
	defer ticker.Stop()

	var last *WSProgressResponse
	for {
		sess, ok := wsh.sessionMgr.GetSession(id)
		if !ok {
			conn.sendError(id, "session not found", "SESSION_NOT_FOUND")
			return
		}
		wsh.sessionMgr.TouchSession(id)

		switch sess.Status {
		case models.SessionStatusComplete:
			conn.send(WSMessage{Type: MsgTypeComplete, ID: id, Payload: mustJSON(sess)})
			return
		case models.SessionStatusError:
			conn.sendError(id, sess.Error, "PARSE_FAILED")
			return
		}

		progress := progressOf(sess)
		if last == nil || !sameProgress(last, progress) {
			conn.send(WSMessage{Type: MsgTypeProgress, ID: id, Payload: mustJSON(progress)})
			last = progress
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func progressOf(sess *models.ParseSession) *WSProgressResponse {
	p := &WSProgressResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		Progress:  sess.Progress,
		Files:     make([]WSFileProgress, len(sess.Files)),
	}
	for i, f := range sess.Files {
		p.Files[i] = WSFileProgress{FileID: f.FileID, Name: f.Name, Status: f.Status}
	}
	return p
}

func sameProgress(a, b *WSProgressResponse) bool {
	if a.Status != b.Status || a.Progress != b.Progress || len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if a.Files[i] != b.Files[i] {
			return false
		}
	}
	return true
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
