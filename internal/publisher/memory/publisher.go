// Package memory provides an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one published payload.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records published messages.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
	err      error
}

// New constructs a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the payload and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Close implements the publisher shutdown contract; it performs no action.
func (p *Publisher) Close() error { return nil }

// Messages returns everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
