package report

import (
	"fmt"
	"log"

	"FlowTagger/internal/config"
	"FlowTagger/internal/model"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
)

// NATSWriter publishes each result as a protobuf-encoded Struct.
type NATSWriter struct {
	nc      *nats.Conn
	subject string
	order   string
}

// NewNATSWriter connects to the NATS server in cfg.
func NewNATSWriter(cfg config.NATSConfig, order string) (model.Writer, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &NATSWriter{nc: nc, subject: cfg.Subject, order: order}, nil
}

// Type returns the writer type.
func (w *NATSWriter) Type() string {
	return "nats"
}

// Write publishes the result and waits for the server to acknowledge the flush.
func (w *NATSWriter) Write(result *model.Result, timestamp string) error {
	data, err := EncodeResult(result, w.order)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(w.subject)
	msg.Header.Set("Run-Timestamp", timestamp)
	msg.Data = data
	if err := w.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	if err := w.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush nats connection: %w", err)
	}
	log.Printf("Published result (%d bytes) to NATS subject '%s'", len(data), w.subject)
	return nil
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.nc == nil {
		return nil
	}
	if err := w.nc.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	log.Println("NATS connection drained and closed.")
	return nil
}

// EncodeResult serializes a result the way NATSWriter publishes it.
func EncodeResult(result *model.Result, order string) ([]byte, error) {
	s, err := ToStruct(result, order)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}
