package relay

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/metrics"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Emitter interface {
	Emit(ids []string, msg *ws.WSMessage) int
}

type MemberLookup interface {
	MembersOf(ctx context.Context, key domain.RoomKey) ([]domain.Member, error)
}

type Options struct {
	Emitter Emitter
	Members MemberLookup
	// EnforceSameRoom rejects recipients outside the sender's room.
	EnforceSameRoom bool
	Metrics         *metrics.Metrics
	Logger          logging.Logger
	Tracer          trace.Tracer
}

// Service fans shares out to the recipients chosen by the sender.
type Service struct {
	emitter         Emitter
	members         MemberLookup
	enforceSameRoom bool
	metrics         *metrics.Metrics
	logger          logging.Logger
	tracer          trace.Tracer
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("relay")
	}

	return &Service{
		emitter:         opts.Emitter,
		members:         opts.Members,
		enforceSameRoom: opts.EnforceSameRoom && opts.Members != nil,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		tracer:          opts.Tracer,
	}
}

func (s *Service) ShareFiles(ctx context.Context, req domain.ShareRequest) (domain.Outcome, error) {
	return s.share(ctx, domain.ShareFiles, req, func() *ws.WSMessage {
		return ws.NewFilesShared(req.Files)
	})
}

func (s *Service) ShareText(ctx context.Context, req domain.ShareRequest) (domain.Outcome, error) {
	return s.share(ctx, domain.ShareText, req, func() *ws.WSMessage {
		return ws.NewTextShared(req.Text)
	})
}

// share emits one event per distinct recipient and acknowledges once. Ids
// that no longer resolve to a connection are skipped silently.
func (s *Service) share(ctx context.Context, kind domain.ShareKind, req domain.ShareRequest, build func() *ws.WSMessage) (domain.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "relay.share", trace.WithAttributes(
		attribute.String("share.kind", string(kind)),
		attribute.String("conn.id", req.From),
		attribute.String("room.key", req.RoomKey.String()),
	))
	defer span.End()

	recipients := distinct(req.To)
	if len(recipients) == 0 {
		return s.reject(span, kind, req, domain.ErrNoRecipients)
	}

	if s.enforceSameRoom {
		if err := s.authorize(ctx, req.RoomKey, recipients); err != nil {
			return s.reject(span, kind, req, err)
		}
	}

	delivered := s.emitter.Emit(recipients, build())
	outcome := domain.OutcomeOK()

	span.SetAttributes(
		attribute.Int("share.recipients", len(recipients)),
		attribute.Int("share.delivered", delivered),
	)
	if s.metrics != nil {
		s.metrics.ObserveShare(kind, outcome, delivered)
	}
	s.logger.Debug(logging.Relay, logging.Share, "share relayed", map[logging.ExtraKey]any{
		logging.Kind:       kind,
		logging.ConnID:     req.From,
		logging.RoomKey:    req.RoomKey,
		logging.Recipients: len(recipients),
		logging.Delivered:  delivered,
	})

	return outcome, nil
}

func (s *Service) reject(span trace.Span, kind domain.ShareKind, req domain.ShareRequest, err error) (domain.Outcome, error) {
	outcome := domain.OutcomeFor(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, outcome.Error)
	if s.metrics != nil {
		s.metrics.ObserveShare(kind, outcome, 0)
	}
	s.logger.Info(logging.Relay, logging.Share, "share rejected", map[logging.ExtraKey]any{
		logging.Kind:         kind,
		logging.ConnID:       req.From,
		logging.RoomKey:      req.RoomKey,
		logging.ErrorMessage: err.Error(),
	})

	return outcome, err
}

func (s *Service) authorize(ctx context.Context, key domain.RoomKey, recipients []string) error {
	members, err := s.members.MembersOf(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrForbiddenRecipient, err)
	}

	allowed := mapset.NewThreadUnsafeSet(domain.MemberIDs(members)...)
	for _, id := range recipients {
		if !allowed.Contains(id) {
			return fmt.Errorf("%w: %s", domain.ErrForbiddenRecipient, id)
		}
	}
	return nil
}

// distinct drops blanks and repeats, keeping the sender's order.
func distinct(ids []string) []string {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if seen.Add(id) {
			out = append(out, id)
		}
	}
	return out
}
