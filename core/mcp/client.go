package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Conn is a connection to one tool server. Requests are serialized; the
// servers process one request at a time over their stdio channel.
//
// A single goroutine owns the read side and dispatches responses to
// waiting calls by request id. A call abandoned by context cancellation
// leaves its response to be read and dropped by that goroutine, so the
// connection stays usable for the next turn.
type Conn struct {
	serverID string

	mu     sync.Mutex
	w      io.Writer
	nextID atomic.Int64

	initialized bool

	r        *bufio.Reader
	readOnce sync.Once

	pendingMu sync.Mutex
	pending   map[int64]chan reply
	readErr   error
}

type reply struct {
	resp response
	err  error
}

func NewConn(serverID string, rw io.ReadWriter) *Conn {
	return &Conn{
		serverID: serverID,
		w:        rw,
		r:        bufio.NewReader(rw),
		pending:  map[int64]chan reply{},
	}
}

func (c *Conn) ServerID() string { return c.serverID }

// Initialize performs the protocol handshake. It is called lazily before the
// first real request.
func (c *Conn) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializeLocked(ctx)
}

func (c *Conn) initializeLocked(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	if _, err := c.roundTripLocked(ctx, "initialize", nil); err != nil {
		return fmt.Errorf("failed to initialize server %q: %w", c.serverID, err)
	}
	c.initialized = true
	return nil
}

// ListTools returns the server's tool catalog.
func (c *Conn) ListTools(ctx context.Context) ([]ToolDescription, error) {
	ctx, span := tracer.Start(ctx, "list tools")
	defer span.End()
	span.SetAttributes(attribute.String("tool.server_id", c.serverID))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.initializeLocked(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	raw, err := c.roundTripLocked(ctx, "tools/list", nil)
	if err != nil {
		err = fmt.Errorf("failed to list tools on server %q: %w", c.serverID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		err = fmt.Errorf("failed to decode tool list from server %q: %w", c.serverID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return result.Tools, nil
}

// Call invokes a named tool. A Result with IsError set is not a Go error:
// the caller feeds it back to the model as a structured failure.
func (c *Conn) Call(ctx context.Context, tool string, arguments json.RawMessage) (*Result, error) {
	ctx, span := tracer.Start(ctx, "call tool")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.server_id", c.serverID),
		attribute.String("tool.name", tool),
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.initializeLocked(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	params, err := json.Marshal(callParams{Name: tool, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call params for tool %q: %w", tool, err)
	}

	raw, err := c.roundTripLocked(ctx, "tools/call", params)
	if err != nil {
		err = fmt.Errorf("failed to call tool %q on server %q: %w", tool, c.serverID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		err = fmt.Errorf("failed to decode result of tool %q: %w", tool, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("tool.is_error", result.IsError))
	return &result, nil
}

// roundTripLocked writes one request and waits for the reader goroutine to
// deliver the matching response. A cancelled context abandons the wait; the
// response, whenever it arrives, is dropped by the reader.
func (c *Conn) roundTripLocked(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	encoded, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	waiter := make(chan reply, 1)
	c.pendingMu.Lock()
	if err := c.readErr; err != nil {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("connection to server %q is broken: %w", c.serverID, err)
	}
	c.pending[id] = waiter
	c.pendingMu.Unlock()

	c.readOnce.Do(func() { go c.readLoop() })

	if _, err := c.w.Write(append(encoded, '\n')); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to write %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case result := <-waiter:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", method, result.err)
		}

		resp := result.resp
		if resp.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// readLoop is the connection's only reader. Responses with no waiting
// call belong to abandoned requests and are dropped.
func (c *Conn) readLoop() {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			c.failPending(err)
			return
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.failPending(fmt.Errorf("undecodable response: %w", err))
			return
		}

		c.pendingMu.Lock()
		waiter, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()

		if ok {
			waiter <- reply{resp: resp}
		}
	}
}

func (c *Conn) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending marks the connection broken and fails every waiting call.
func (c *Conn) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	c.readErr = err
	for id, waiter := range c.pending {
		delete(c.pending, id)
		waiter <- reply{err: err}
	}
}
