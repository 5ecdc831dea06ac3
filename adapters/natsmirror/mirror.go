package natsmirror

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const subjectPrefix = "companion."

// Source is the local event bus.
type Source interface {
	Consume(ctx context.Context, topic string, handler func(payload []byte) error) error
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Mirror republishes local bus topics on NATS as companion.<topic>.
type Mirror struct {
	pub    Publisher
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials url with the same retry policy as the rest of the stack.
func Connect(url string, logger *zap.Logger) (*Mirror, error) {
	nc, err := nats.Connect(url,
		nats.Name("companion-client"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	m := New(nc, logger)
	m.conn = nc
	return m, nil
}

func New(pub Publisher, logger *zap.Logger) *Mirror {
	return &Mirror{pub: pub, logger: logger}
}

// Start subscribes to every topic. Mirroring stops when ctx is done.
func (m *Mirror) Start(ctx context.Context, src Source, topics ...string) error {
	for _, topic := range topics {
		subject := Subject(topic)
		err := src.Consume(ctx, topic, func(payload []byte) error {
			if err := m.pub.Publish(subject, payload); err != nil {
				return fmt.Errorf("publish to %s: %w", subject, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("mirror %s: %w", topic, err)
		}
	}
	m.logger.Info("Mirroring bus to NATS", zap.Strings("topics", topics))
	return nil
}

// Close drains the NATS connection if Connect opened it.
func (m *Mirror) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Drain()
}

func Subject(topic string) string {
	return subjectPrefix + topic
}
