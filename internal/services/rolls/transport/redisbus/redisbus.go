// Package redisbus carries roll envelopes over Redis pub/sub. Each
// participant subscribes to its own channel and the coordinator also
// subscribes to the coordinator channel; presence is a key refreshed on a
// heartbeat and expiring with a TTL.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultPrefix = "grouproll"

var errNoSubscriber = errors.New("no subscriber on channel")

// Options holds Redis connection settings.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeouts.TransportSend,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.TransportSend)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Config configures a Bus.
type Config struct {
	Client        *redis.Client
	Prefix        string
	ParticipantID string
	Coordinator   bool
	// Handler receives inbound envelopes. Nil drops them.
	Handler transport.Handler
	// PresenceTTL bounds how long a silent participant stays online.
	PresenceTTL time.Duration
	// Heartbeat refreshes presence; it defaults to a third of the TTL.
	Heartbeat time.Duration
	Logger    *zerolog.Logger
}

// Bus is one process's pub/sub endpoint.
type Bus struct {
	client      *redis.Client
	prefix      string
	self        string
	coordinator bool
	handler     transport.Handler
	ttl         time.Duration
	heartbeat   time.Duration
	logger      zerolog.Logger

	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	done      sync.WaitGroup
	closeOnce sync.Once
}

// Start subscribes, publishes presence and starts delivering envelopes. The
// subscription is live when Start returns.
func Start(ctx context.Context, cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	self := strings.TrimSpace(cfg.ParticipantID)
	if self == "" {
		return nil, errors.New("participant id is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = timeouts.PresenceTTL
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = cfg.PresenceTTL / 3
	}
	if cfg.Handler == nil {
		cfg.Handler = transport.HandlerFuncs{}
	}
	b := &Bus{
		client:      cfg.Client,
		prefix:      cfg.Prefix,
		self:        self,
		coordinator: cfg.Coordinator,
		handler:     cfg.Handler,
		ttl:         cfg.PresenceTTL,
		heartbeat:   cfg.Heartbeat,
		logger:      platformlog.OrComponent(cfg.Logger, "redisbus").With().Str(platformlog.FieldParticipantID, self).Logger(),
	}

	channels := []string{b.participantChannel(self)}
	if cfg.Coordinator {
		channels = append(channels, b.coordinatorChannel())
	}
	pubsub := cfg.Client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", strings.Join(channels, ","), err)
		}
	}
	if err := b.touch(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	b.pubsub = pubsub

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done.Add(2)
	go b.deliver(runCtx, pubsub.Channel())
	go b.keepAlive(runCtx)
	b.logger.Info().Strs("channels", channels).Msg("subscribed")
	return b, nil
}

// Close stops delivery and withdraws presence.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.pubsub.Close()
		b.done.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.TransportSend)
		defer cancel()
		if delErr := b.client.Del(ctx, b.presenceKey(b.self)).Err(); delErr != nil && err == nil {
			err = fmt.Errorf("withdraw presence: %w", delErr)
		}
	})
	return err
}

// SendRollRequest implements transport.Transport. A participant with no
// live subscription is a delivery failure.
func (b *Bus) SendRollRequest(ctx context.Context, participantID string, req domain.RollRequest) error {
	env, err := transport.RequestEnvelope(b.self, participantID, req)
	if err != nil {
		return err
	}
	return b.publish(ctx, participantID, b.participantChannel(participantID), env)
}

// ReportRollResult implements transport.Transport.
func (b *Bus) ReportRollResult(ctx context.Context, report domain.ResultReport) error {
	env, err := transport.ResultEnvelope(b.self, report)
	if err != nil {
		return err
	}
	return b.publish(ctx, "coordinator", b.coordinatorChannel(), env)
}

// IsOnline implements directory.Presence.
func (b *Bus) IsOnline(ctx context.Context, participantID string) (bool, error) {
	n, err := b.client.Exists(ctx, b.presenceKey(participantID)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return n > 0, nil
}

func (b *Bus) publish(ctx context.Context, target, channel string, env transport.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	receivers, err := b.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return transport.DeliveryError(target, err)
	}
	if receivers == 0 {
		return transport.DeliveryError(target, errNoSubscriber)
	}
	return nil
}

// deliver hands envelopes to the handler in arrival order.
func (b *Bus) deliver(ctx context.Context, messages <-chan *redis.Message) {
	defer b.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			env, err := transport.DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed envelope")
				continue
			}
			if err := transport.Deliver(ctx, b.handler, env); err != nil {
				b.logger.Warn().
					Err(err).
					Str("kind", string(env.Kind)).
					Str("from", env.From).
					Msg("envelope not handled")
			}
		}
	}
}

func (b *Bus) keepAlive(ctx context.Context) {
	defer b.done.Done()
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.touch(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn().Err(err).Msg("presence heartbeat failed")
			}
		}
	}
}

func (b *Bus) touch(ctx context.Context) error {
	if err := b.client.Set(ctx, b.presenceKey(b.self), time.Now().UTC().Format(time.RFC3339), b.ttl).Err(); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

func (b *Bus) participantChannel(participantID string) string {
	return b.prefix + ":participant:" + participantID
}

func (b *Bus) coordinatorChannel() string {
	return b.prefix + ":coordinator"
}

func (b *Bus) presenceKey(participantID string) string {
	return b.prefix + ":presence:" + participantID
}

var _ transport.Transport = (*Bus)(nil)
