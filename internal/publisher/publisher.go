// Package publisher runs the sensor poll loop: read, convert, and publish
// each reading as JSON to the broker.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/msolberg/weather-station/internal/convert"
	"github.com/msolberg/weather-station/internal/sensor"
	"github.com/msolberg/weather-station/internal/types"
)

type State int

const (
	Connecting State = iota
	Connected
	Publishing
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Publishing:
		return "publishing"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Broker is the connection the loop publishes through. *broker.Client
// satisfies it.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte) error
	Disconnect()
}

type Stats struct {
	Published uint64
	Skipped   uint64 // no temperature this cycle
	Failed    uint64 // publish errors
}

type Publisher struct {
	reader   sensor.Reader
	broker   Broker
	topic    string
	interval time.Duration
	location string
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	stats Stats
}

type Option func(*Publisher)

// WithLocation labels every published reading with loc ("indoor" or
// "outdoor"). Unlabelled readings are classified by their fields.
func WithLocation(loc string) Option {
	return func(p *Publisher) { p.location = loc }
}

func New(reader sensor.Reader, b Broker, topic string, interval time.Duration, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		reader:   reader,
		broker:   b,
		topic:    topic,
		interval: interval,
		logger:   logger.With("topic", topic),
		state:    Disconnected,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run connects, then polls the sensor every interval until ctx is cancelled,
// and disconnects before returning. The first cycle runs immediately.
// Cancellation is a clean stop and returns nil; a fatal sensor error is
// returned after the broker has been disconnected.
func (p *Publisher) Run(ctx context.Context) error {
	p.setState(Connecting)
	if err := p.broker.Connect(ctx); err != nil {
		p.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect: %w", err)
	}
	p.setState(Connected)

	defer func() {
		p.setState(Disconnecting)
		p.broker.Disconnect()
		p.setState(Disconnected)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := p.cycle(ctx); err != nil {
			return err
		}
		timer.Reset(p.interval)
	}
}

func (p *Publisher) cycle(ctx context.Context) error {
	p.setState(Publishing)
	defer p.setState(Connected)

	sample, err := p.reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}

	reading := ToReading(sample)
	if reading.TemperatureF == nil {
		p.count(func(s *Stats) { s.Skipped++ })
		p.logger.Warn("temperature unavailable, skipping publish")
		return nil
	}

	reading.Location = p.location

	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	if err := p.broker.Publish(p.topic, payload); err != nil {
		p.count(func(s *Stats) { s.Failed++ })
		p.logger.Error("failed to publish reading", "error", err)
		return nil
	}

	p.count(func(s *Stats) { s.Published++ })
	p.logger.Info("published reading", "payload", string(payload))
	return nil
}

// ToReading converts a sensor sample to the wire reading.
func ToReading(s sensor.Sample) types.Reading {
	r := types.Reading{
		Humidity: s.Humidity,
		Pressure: s.PressureMb,
		Gas:      s.Gas,
	}
	if s.TemperatureC != nil {
		r.TemperatureF = types.Float(convert.CToF(*s.TemperatureC))
	}
	return r
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		p.logger.Debug("publisher state", "from", prev.String(), "to", s.String())
	}
}

func (p *Publisher) count(f func(*Stats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}
