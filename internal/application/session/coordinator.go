package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/hilthontt/roomdrop/internal/infrastructure/events"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/metrics"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Emitter queues an event to connections by id without blocking and reports
// how many accepted it.
type Emitter interface {
	Emit(ids []string, msg *ws.WSMessage) int
}

type ProfileFactory interface {
	Profile(userAgent string) domain.Profile
}

type ConnInfo struct {
	ID           string
	RequestedKey string
	UserAgent    string
	RemoteAddr   string
}

// Session binds one connection to its room for the connection's lifetime.
type Session struct {
	ID     string
	Key    domain.RoomKey
	Member domain.Member
}

type Options struct {
	Registry  domain.RoomRegistry
	Emitter   Emitter
	Profiles  ProfileFactory
	Publisher events.RoomPublisher
	Metrics   *metrics.Metrics
	Logger    logging.Logger
	Tracer    trace.Tracer

	// KeyspaceRetries bounds the attempts made when key allocation runs out.
	KeyspaceRetries      uint
	RetryInitialInterval time.Duration
}

type Coordinator struct {
	registry  domain.RoomRegistry
	emitter   Emitter
	profiles  ProfileFactory
	publisher events.RoomPublisher
	metrics   *metrics.Metrics
	logger    logging.Logger
	tracer    trace.Tracer

	retries         uint
	initialInterval time.Duration
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Publisher == nil {
		opts.Publisher = events.NopRoomPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("session")
	}
	if opts.KeyspaceRetries == 0 {
		opts.KeyspaceRetries = 3
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 50 * time.Millisecond
	}

	return &Coordinator{
		registry:        opts.Registry,
		emitter:         opts.Emitter,
		profiles:        opts.Profiles,
		publisher:       opts.Publisher,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		tracer:          opts.Tracer,
		retries:         opts.KeyspaceRetries,
		initialInterval: opts.RetryInitialInterval,
	}
}

// Connect enrolls a new connection. The new member receives update:user,
// then every member of the room, the new one included, receives
// update:users.
func (c *Coordinator) Connect(ctx context.Context, info ConnInfo) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "session.connect", trace.WithAttributes(
		attribute.String("conn.id", info.ID),
		attribute.String("room.requested_key", info.RequestedKey),
	))
	defer span.End()

	member := domain.NewMember(info.ID, c.profiles.Profile(info.UserAgent))
	requested := domain.RoomKey(info.RequestedKey)

	attempt := 0
	change, err := backoff.Retry(ctx, func() (domain.Change, error) {
		attempt++
		change, err := c.registry.CreateOrJoin(ctx, requested, member, c.announceJoin)
		if err == nil {
			return change, nil
		}
		if !errors.Is(err, domain.ErrKeyspaceExhausted) {
			return change, backoff.Permanent(err)
		}

		c.observeKeyspaceExhausted(info.ID, attempt)
		return change, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.retries))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrollment failed")
		return nil, fmt.Errorf("enroll connection %s: %w", info.ID, err)
	}

	span.SetAttributes(
		attribute.String("room.key", change.Key.String()),
		attribute.Int("room.members", len(change.Members)),
		attribute.Bool("room.created", change.Created),
	)

	c.observeRegistry()
	if change.Created && c.metrics != nil {
		c.metrics.RoomsCreated.Inc()
	}

	c.logger.Info(logging.Session, logging.Join, "member joined room", map[logging.ExtraKey]any{
		logging.ConnID:   info.ID,
		logging.RoomKey:  change.Key,
		logging.Members:  len(change.Members),
		logging.ClientIp: info.RemoteAddr,
	})

	if change.Created {
		c.publish(ctx, "room created", c.publisher.PublishRoomCreated, change)
	}
	c.publish(ctx, "member joined", c.publisher.PublishMemberJoined, change)

	return &Session{
		ID:     info.ID,
		Key:    change.Key,
		Member: change.Member,
	}, nil
}

// Disconnect removes the session's member. Survivors receive update:users;
// a room that became empty is gone and nobody is notified.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "session.disconnect", trace.WithAttributes(
		attribute.String("conn.id", s.ID),
		attribute.String("room.key", s.Key.String()),
	))
	defer span.End()

	change, err := c.registry.Leave(ctx, s.Key, s.ID, c.announceLeave)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn(logging.Session, logging.Leave, "leave failed", map[logging.ExtraKey]any{
			logging.ConnID:       s.ID,
			logging.RoomKey:      s.Key,
			logging.ErrorMessage: err.Error(),
		})
		return fmt.Errorf("leave room %s: %w", s.Key, err)
	}

	c.observeRegistry()
	c.logger.Info(logging.Session, logging.Leave, "member left room", map[logging.ExtraKey]any{
		logging.ConnID:  s.ID,
		logging.RoomKey: s.Key,
		logging.Members: len(change.Members),
	})

	c.publish(ctx, "member left", c.publisher.PublishMemberLeft, change)
	if change.Deleted {
		c.publish(ctx, "room deleted", c.publisher.PublishRoomDeleted, change)
	}

	return nil
}

// announceJoin runs under the registry's key lock.
func (c *Coordinator) announceJoin(change domain.Change) {
	c.emitter.Emit([]string{change.Member.ID}, ws.NewUserUpdate(change.Key, change.Member))
	c.emitter.Emit(domain.MemberIDs(change.Members), ws.NewUsersUpdate(change.Members))
}

// announceLeave runs under the registry's key lock.
func (c *Coordinator) announceLeave(change domain.Change) {
	if change.Deleted {
		return
	}
	c.emitter.Emit(domain.MemberIDs(change.Members), ws.NewUsersUpdate(change.Members))
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = 20 * c.initialInterval
	return b
}

func (c *Coordinator) observeKeyspaceExhausted(connID string, attempt int) {
	if c.metrics != nil {
		c.metrics.KeyAllocationFailures.Inc()
	}
	c.logger.Warn(logging.Session, logging.KeyAlloc, "room keyspace exhausted", map[logging.ExtraKey]any{
		logging.ConnID:  connID,
		logging.Attempt: attempt,
	})
}

func (c *Coordinator) observeRegistry() {
	if c.metrics != nil {
		c.metrics.ObserveRegistry(c.registry.Stats())
	}
}

// publish never fails the caller; the event stream is best effort.
func (c *Coordinator) publish(ctx context.Context, what string, fn func(context.Context, domain.Change) error, change domain.Change) {
	if err := fn(ctx, change); err != nil {
		c.logger.Error(logging.RabbitMQ, logging.Publishing, "failed to publish "+what, map[logging.ExtraKey]any{
			logging.RoomKey:      change.Key,
			logging.ErrorMessage: err.Error(),
		})
	}
}
