package notify

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sink publishes one encoded event. key is the order id so that a
// partitioned transport keeps an order's events in sequence.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Options configures New.
type Options struct {
	Driver  string
	Brokers []string
	Topic   string
	NATSURL string
	Subject string
}

// New builds the sink named by opts.Driver.
func New(opts Options, log *zap.Logger) (Sink, error) {
	switch opts.Driver {
	case "", "log":
		return NewLogSink(log), nil
	case "sarama":
		return NewSaramaSink(opts.Brokers, opts.Topic)
	case "kafka":
		return NewKafkaSink(opts.Brokers, opts.Topic), nil
	case "nats":
		return NewNATSSink(opts.NATSURL, opts.Subject)
	default:
		return nil, errors.Errorf("unknown notify driver %q", opts.Driver)
	}
}

// LogSink writes events to the application log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

func (s *LogSink) Publish(_ context.Context, key string, payload []byte) error {
	s.log.Info("event", zap.String("key", key), zap.ByteString("payload", payload))
	return nil
}

func (s *LogSink) Close() error { return nil }

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
	// Fail, when set, is returned by Publish instead of recording.
	Fail error
}

func (s *MemorySink) Publish(_ context.Context, _ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	e, err := Decode(payload)
	if err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) SetFail(err error) {
	s.mu.Lock()
	s.Fail = err
	s.mu.Unlock()
}

func (s *MemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Close() error { return nil }
