// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "chat-42")
//	conn.EmitAudio(audio.AudioChunk{...})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/huddle/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Err fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// ID is returned by [Connection.ChatID].
	ID string

	// PushErr is returned by [Connection.Push].
	PushErr error

	// DisconnectErr is returned by [Connection.Disconnect].
	DisconnectErr error

	// PushCalls records the PCM buffer of every Push call.
	PushCalls [][]byte

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountOnAudio records how many times OnAudio was called.
	CallCountOnAudio int

	cb func(audio.AudioChunk)
}

// ChatID implements [audio.Connection].
func (c *Connection) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ID
}

// OnAudio implements [audio.Connection]. The callback replaces any earlier one;
// use [Connection.EmitAudio] to drive it.
func (c *Connection) OnAudio(cb func(audio.AudioChunk)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOnAudio++
	c.cb = cb
}

// Push implements [audio.Connection]. Records a copy of pcm and returns PushErr.
func (c *Connection) Push(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PushCalls = append(c.PushCalls, append([]byte(nil), pcm...))
	return c.PushErr
}

// Disconnect implements [audio.Connection]. Returns DisconnectErr.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectErr
}

// EmitAudio invokes the registered OnAudio callback synchronously.
func (c *Connection) EmitAudio(chunk audio.AudioChunk) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

// SetPushErr replaces PushErr under the lock.
func (c *Connection) SetPushErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PushErr = err
}

// PushCount returns the number of Push calls so far.
func (c *Connection) PushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.PushCalls)
}

// DisconnectCount returns the number of Disconnect calls so far.
func (c *Connection) DisconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChatID is the chatID argument passed to Connect.
	ChatID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect. When nil,
	// a fresh [Connection] is created per call and kept in Connections.
	ConnectResult audio.Connection

	// ConnectErr is the error returned by Connect.
	ConnectErr error

	// ConnectHook, if set, runs inside Connect before returning. Tests use it
	// to block or observe a join in progress.
	ConnectHook func(ctx context.Context, chatID string)

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections records every connection handed out by Connect.
	Connections []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, chatID string) (audio.Connection, error) {
	p.mu.Lock()
	hook := p.ConnectHook
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChatID: chatID})
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, chatID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.ConnectResult != nil {
		if c, ok := p.ConnectResult.(*Connection); ok {
			p.Connections = append(p.Connections, c)
		}
		return p.ConnectResult, nil
	}
	c := &Connection{ID: chatID}
	p.Connections = append(p.Connections, c)
	return c, nil
}

// SetConnectErr replaces ConnectErr under the lock.
func (p *Platform) SetConnectErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectErr = err
}

// ConnectCount returns the number of Connect calls so far.
func (p *Platform) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Last returns the most recently created connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}
