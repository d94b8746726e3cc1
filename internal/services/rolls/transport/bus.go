package transport

import (
	"context"
	"errors"
	"sync"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/rs/zerolog"
)

const mailboxSize = 64

var errNoHandler = errors.New("no handler registered")

// Bus is an in-process transport. Each registered handler drains its own
// mailbox on a dedicated goroutine, so deliveries to one target keep their
// send order and senders never run handler code.
type Bus struct {
	coordinatorID string
	logger        zerolog.Logger

	mu        sync.RWMutex
	mailboxes map[string]chan delivery

	pending sync.WaitGroup
	workers sync.WaitGroup
}

type delivery struct {
	ctx  context.Context
	data []byte
}

// NewBus builds a bus whose result reports go to coordinatorID.
func NewBus(coordinatorID string, logger *zerolog.Logger) *Bus {
	return &Bus{
		coordinatorID: coordinatorID,
		logger:        platformlog.OrComponent(logger, "bus"),
		mailboxes:     make(map[string]chan delivery),
	}
}

// Register attaches h for participantID, replacing any earlier handler. The
// returned func detaches it after queued deliveries drain.
func (b *Bus) Register(participantID string, h Handler) func() {
	mailbox := make(chan delivery, mailboxSize)
	b.mu.Lock()
	if previous, ok := b.mailboxes[participantID]; ok {
		close(previous)
	}
	b.mailboxes[participantID] = mailbox
	b.mu.Unlock()

	b.workers.Add(1)
	go b.drain(participantID, h, mailbox)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if current, ok := b.mailboxes[participantID]; ok && current == mailbox {
				delete(b.mailboxes, participantID)
				close(mailbox)
			}
		})
	}
}

// IsOnline reports whether participantID has a registered handler.
func (b *Bus) IsOnline(_ context.Context, participantID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[participantID]
	return ok, nil
}

// Endpoint returns the Transport used by the process identified as self.
func (b *Bus) Endpoint(self string) Transport {
	return busEndpoint{bus: b, self: self}
}

// Wait blocks until every accepted delivery has been handled.
func (b *Bus) Wait() {
	b.pending.Wait()
}

// Close detaches every handler and waits for their goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	for participantID, mailbox := range b.mailboxes {
		delete(b.mailboxes, participantID)
		close(mailbox)
	}
	b.mu.Unlock()
	b.workers.Wait()
}

func (b *Bus) send(ctx context.Context, target string, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	mailbox, ok := b.mailboxes[target]
	if !ok {
		return DeliveryError(target, errNoHandler)
	}
	b.pending.Add(1)
	select {
	case mailbox <- delivery{ctx: context.WithoutCancel(ctx), data: data}:
		return nil
	case <-ctx.Done():
		b.pending.Done()
		return DeliveryError(target, ctx.Err())
	}
}

func (b *Bus) drain(participantID string, h Handler, mailbox <-chan delivery) {
	defer b.workers.Done()
	for d := range mailbox {
		b.handle(participantID, h, d)
	}
}

func (b *Bus) handle(participantID string, h Handler, d delivery) {
	defer b.pending.Done()
	ctx, cancel := context.WithTimeout(d.ctx, timeouts.TransportSend)
	defer cancel()

	env, err := DecodeEnvelope(d.data)
	if err == nil {
		err = Deliver(ctx, h, env)
	}
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str(platformlog.FieldParticipantID, participantID).
			Str("kind", string(env.Kind)).
			Msg("bus delivery failed")
	}
}

type busEndpoint struct {
	bus  *Bus
	self string
}

func (e busEndpoint) SendRollRequest(ctx context.Context, participantID string, req domain.RollRequest) error {
	env, err := RequestEnvelope(e.self, participantID, req)
	if err != nil {
		return err
	}
	return e.bus.send(ctx, participantID, env)
}

func (e busEndpoint) ReportRollResult(ctx context.Context, report domain.ResultReport) error {
	env, err := ResultEnvelope(e.self, report)
	if err != nil {
		return err
	}
	return e.bus.send(ctx, e.bus.coordinatorID, env)
}
