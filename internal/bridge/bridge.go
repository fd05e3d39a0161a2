// Package bridge connects spaces to the authoritative backend: an ordered,
// non-blocking outbound queue per physical connection, one logical stream
// per space, and a decoder for the inbound direction.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spacehub/internal/metrics"
)

const publishTimeout = 5 * time.Second

type outbound struct {
	subject string
	msg     Message
}

type Bridge struct {
	transport Transport
	id        string
	logger    zerolog.Logger

	out       chan outbound
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs []Subscription
}

// New starts the outbound pump. id identifies this process as the origin
// of the messages it publishes.
func New(transport Transport, id string, logger zerolog.Logger, queueSize int) *Bridge {
	if queueSize <= 0 {
		queueSize = 1024
	}
	b := &Bridge{
		transport: transport,
		id:        id,
		logger:    logger.With().Str("component", "bridge").Str("origin", id).Logger(),
		out:       make(chan outbound, queueSize),
		done:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *Bridge) ID() string { return b.id }

// Publish enqueues msg for subject without waiting for the network. A full
// queue or a closed bridge drops the message.
func (b *Bridge) Publish(subject string, msg Message) {
	select {
	case <-b.done:
		metrics.Dropped(metrics.ReasonBackendFailed)
		b.logger.Warn().Str("type", msg.Type).Str("space", msg.SpaceName).Msg("bridge closed, message dropped")
		return
	default:
	}

	select {
	case b.out <- outbound{subject: subject, msg: msg}:
	default:
		metrics.Dropped(metrics.ReasonBackendQueue)
		b.logger.Warn().Str("type", msg.Type).Str("space", msg.SpaceName).Msg("bridge queue full, message dropped")
	}
}

func (b *Bridge) pump() {
	defer close(b.pumpDone)
	for {
		select {
		case ob := <-b.out:
			b.send(ob)
		case <-b.done:
			for {
				select {
				case ob := <-b.out:
					b.send(ob)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) send(ob outbound) {
	data, err := json.Marshal(ob.msg)
	if err != nil {
		b.logger.Error().Err(err).Str("type", ob.msg.Type).Msg("encode bridge message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.transport.Publish(ctx, ob.subject, data); err != nil {
		metrics.Dropped(metrics.ReasonBackendFailed)
		b.logger.Error().Err(err).
			Str("subject", ob.subject).
			Str("type", ob.msg.Type).
			Str("space", ob.msg.SpaceName).
			Msg("backend publish failed")
		return
	}
	metrics.BackendMessages.WithLabelValues("out", ob.msg.Type).Inc()
}

// Listen decodes every message published on subject and hands it to
// handler, in order.
func (b *Bridge) Listen(subject string, handler func(Message)) error {
	sub, err := b.transport.Subscribe(subject, func(data []byte) {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.Dropped(metrics.ReasonDecode)
			b.logger.Error().Err(err).Str("subject", subject).Msg("decode bridge message")
			return
		}
		metrics.BackendMessages.WithLabelValues("in", msg.Type).Inc()
		handler(msg)
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Open announces that this process starts watching spaceName and returns
// the space's outbound stream.
func (b *Bridge) Open(spaceName string) *Stream {
	s := &Stream{bridge: b, spaceName: spaceName}
	s.Write(Message{Type: TypeJoinSpace})
	return s
}

// Close flushes queued messages, then unsubscribes and closes the transport.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		<-b.pumpDone

		b.mu.Lock()
		subs := b.subs
		b.subs = nil
		b.mu.Unlock()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		err = b.transport.Close()
	})
	return err
}

// Stream is the outbound channel of one space.
type Stream struct {
	bridge    *Bridge
	spaceName string
	closed    atomic.Bool
}

func (s *Stream) SpaceName() string { return s.spaceName }

// Write stamps msg with the space name and origin and enqueues it.
func (s *Stream) Write(msg Message) {
	if s.closed.Load() {
		return
	}
	msg.SpaceName = s.spaceName
	msg.Origin = s.bridge.id
	s.bridge.Publish(SubjectToBackend, msg)
}

// Close tells the backend this process stopped watching the space.
func (s *Stream) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.bridge.Publish(SubjectToBackend, Message{
		Type:      TypeLeaveSpace,
		SpaceName: s.spaceName,
		Origin:    s.bridge.id,
	})
}
