package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"

	orchestration "github.com/brightboard/tutor-core/core"
)

// StreamClient is the websocket counterpart of Server. Its Reader yields
// the raw frame bytes so the stream consumer can decode them with its
// own buffering; message boundaries are deliberately not preserved.
type StreamClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending bytes.Buffer
}

func Dial(ctx context.Context, url string) (*StreamClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &StreamClient{conn: conn}, nil
}

// Ask starts a turn for the question in the given session.
func (c *StreamClient) Ask(sessionID, question string) error {
	return c.writeControl(controlMessage{
		Action:    actionAsk,
		SessionID: sessionID,
		Question:  question,
	})
}

// AskWithContext starts a turn that builds on earlier conversation.
func (c *StreamClient) AskWithContext(sessionID, question string, bundle orchestration.ContextBundle) error {
	return c.writeControl(controlMessage{
		Action:    actionAsk,
		SessionID: sessionID,
		Question:  question,
		Context:   &bundle,
	})
}

// Stop interrupts the turn with the given id.
func (c *StreamClient) Stop(turnID string) error {
	return c.writeControl(controlMessage{Action: actionStop, TurnID: turnID})
}

// Rerun resubmits the connection's most recent question.
func (c *StreamClient) Rerun() error {
	return c.writeControl(controlMessage{Action: actionRerun})
}

func (c *StreamClient) writeControl(message controlMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send control message: %w", err)
	}
	return nil
}

// Read implements io.Reader over the incoming frame messages.
func (c *StreamClient) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for c.pending.Len() == 0 {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("websocket read failed: %w", err)
		}
		c.pending.Write(payload)
	}

	return c.pending.Read(p)
}

func (c *StreamClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

var _ io.Reader = (*StreamClient)(nil)
