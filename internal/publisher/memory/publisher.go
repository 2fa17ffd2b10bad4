// Package memory provides an in-memory Publisher for development and
// testing.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Published is one recorded message.
type Published struct {
	Topic   string
	Payload any
}

// Publisher records published payloads in order.
type Publisher struct {
	mu       sync.Mutex
	messages []Published
}

// NewPublisher constructs a Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the payload and returns its sequence number.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Published{Topic: topic, Payload: payload})
	return strconv.Itoa(len(p.messages)), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.messages))
	copy(out, p.messages)
	return out
}
