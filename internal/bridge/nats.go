// Package bridge republishes inbound realtime frames to NATS so other local
// services can react to them.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/deskwatch/deskwatch/internal/logging"
	"github.com/deskwatch/deskwatch/internal/realtime"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge forwards frames of selected types to <prefix>.<type>.
type NATSBridge struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
	detach []func()
}

// Connect dials natsURL and returns a bridge publishing under prefix.
func Connect(natsURL, prefix string) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL, nats.Name("deskwatch"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	b := New(nc, prefix)
	b.conn = nc
	return b, nil
}

// New wraps an existing publisher.
func New(pub Publisher, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = "deskwatch"
	}
	return &NATSBridge{pub: pub, prefix: strings.TrimRight(prefix, "."), log: logging.For("bridge")}
}

// Subject returns the subject frames of msgType are published on.
func (b *NATSBridge) Subject(msgType string) string {
	return b.prefix + "." + subjectToken(msgType)
}

// Attach registers a forwarding handler for every type in types. Publish
// errors are returned to the registry, which logs them.
func (b *NATSBridge) Attach(reg realtime.Registrar, types []string) {
	seen := make(map[string]bool, len(types))
	for _, msgType := range types {
		msgType = strings.TrimSpace(msgType)
		if msgType == "" || seen[msgType] {
			continue
		}
		seen[msgType] = true
		subject := b.Subject(msgType)
		b.detach = append(b.detach, reg.RegisterHandler(msgType, func(data json.RawMessage) error {
			if err := b.pub.Publish(subject, data); err != nil {
				return fmt.Errorf("nats publish %q: %w", subject, err)
			}
			return nil
		}))
		b.log.Info().Str("type", msgType).Str("subject", subject).Msg("forwarding frames to nats")
	}
}

// Close unregisters the forwarding handlers and drains the connection it owns.
func (b *NATSBridge) Close() {
	for _, fn := range b.detach {
		fn()
	}
	b.detach = nil
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.log.Warn().Err(err).Msg("nats drain")
		}
	}
}

// subjectToken maps a message type onto a single NATS subject token.
func subjectToken(msgType string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, msgType)
}
