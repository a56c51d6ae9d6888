// Package transport holds in-memory test doubles for the ChatTransport and
// WorkspaceFS collaborator interfaces (internal/provider). Real
// transport/filesystem bindings are out of scope per spec.md §1.
package transport

import (
	"context"
	"sync"

	"agentsup.dev/supervisor/internal/provider"
)

// OutboundMessage is one message MemTransport.Send recorded.
type OutboundMessage struct {
	ChatID  string
	Text    string
	Buttons []provider.InlineButton
}

// MemTransport is an in-memory ChatTransport double: Send appends to Sent,
// and test code publishes inbound traffic via Inject.
type MemTransport struct {
	mu   sync.Mutex
	Sent []OutboundMessage

	inbound chan provider.InboundMessage
}

func NewMemTransport() *MemTransport {
	return &MemTransport{inbound: make(chan provider.InboundMessage, 64)}
}

func (m *MemTransport) Send(_ context.Context, chatID string, text string, buttons []provider.InlineButton) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, OutboundMessage{ChatID: chatID, Text: text, Buttons: buttons})
	return nil
}

func (m *MemTransport) Receive() <-chan provider.InboundMessage {
	return m.inbound
}

// Inject publishes an inbound message as if it had arrived over the wire.
func (m *MemTransport) Inject(msg provider.InboundMessage) {
	m.inbound <- msg
}

// Close closes the inbound channel; only safe once no more Inject calls will occur.
func (m *MemTransport) Close() {
	close(m.inbound)
}
