package rooms

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hilthontt/roomdrop/internal/application/relay"
	"github.com/hilthontt/roomdrop/internal/application/session"
	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/hilthontt/roomdrop/internal/infrastructure/json"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	"github.com/hilthontt/roomdrop/internal/presentation/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Handler struct {
	hub         *ws.Hub
	coordinator *session.Coordinator
	relay       *relay.Service
	logger      logging.Logger
	clientOpts  ws.ClientOptions
}

func NewHandler(
	hub *ws.Hub,
	coordinator *session.Coordinator,
	relay *relay.Service,
	logger logging.Logger,
	clientOpts ws.ClientOptions,
) *Handler {
	return &Handler{
		hub:         hub,
		coordinator: coordinator,
		relay:       relay,
		logger:      logger,
		clientOpts:  clientOpts,
	}
}

// ConnectHandler upgrades the request and runs the connection's session
// until the peer goes away.
func (h *Handler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	codec, err := ws.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	conn, err := h.hub.Upgrade(w, r)
	if err != nil {
		h.logger.Warn(logging.WebSocket, logging.Upgrade, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	client := ws.NewClient(conn, uuid.NewString(), codec, h.clientOpts)
	h.hub.Register(client)

	// The session outlives the request's deadline but keeps its trace.
	ctx := context.WithoutCancel(r.Context())

	sess, err := h.coordinator.Connect(ctx, session.ConnInfo{
		ID:           client.ID,
		RequestedKey: utils.RequestedRoomKey(r),
		UserAgent:    r.UserAgent(),
		RemoteAddr:   r.RemoteAddr,
	})
	if err != nil {
		h.hub.Unregister(client)
		_ = client.WriteNow(ws.NewError(domain.ErrorCode(err), "could not join a room"))
		client.Close()

		h.logger.Error(logging.Session, logging.Join, "connection could not join a room", map[logging.ExtraKey]any{
			logging.ConnID:       client.ID,
			logging.Codec:        client.Codec().Name(),
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	h.logger.Debug(logging.WebSocket, logging.Upgrade, "connection attached", map[logging.ExtraKey]any{
		logging.ConnID:  client.ID,
		logging.RoomKey: sess.Key,
		logging.Codec:   client.Codec().Name(),
	})

	go client.WritePump()

	defer func() {
		h.hub.Unregister(client)
		client.Close()
		_ = h.coordinator.Disconnect(ctx, sess)
	}()

	err = client.ReadPump(func(f ws.Frame) {
		h.dispatch(ctx, sess, client, f)
	})
	if err != nil {
		h.logger.Warn(logging.WebSocket, logging.Read, "connection closed unexpectedly", map[logging.ExtraKey]any{
			logging.ConnID:       client.ID,
			logging.RoomKey:      sess.Key,
			logging.ErrorMessage: err.Error(),
		})
	}
}

// dispatch handles one inbound frame. A panic closes only this connection.
func (h *Handler) dispatch(ctx context.Context, sess *session.Session, client *ws.Client, f ws.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error(logging.WebSocket, logging.Read, "panic while handling frame", map[logging.ExtraKey]any{
				logging.ConnID:       client.ID,
				logging.Event:        f.Event,
				logging.ErrorMessage: fmt.Sprint(rec),
			})
			client.Close()
		}
	}()

	var outcome domain.Outcome

	switch f.Event {
	case ws.ShareFilesEvent:
		var req shareFilesRequest
		if err := bind(f, &req); err != nil {
			outcome = domain.OutcomeFor(err)
			break
		}
		outcome, _ = h.relay.ShareFiles(ctx, domain.ShareRequest{
			From:    sess.ID,
			RoomKey: sess.Key,
			To:      req.To,
			Files:   req.files(),
		})

	case ws.ShareTextEvent:
		var req shareTextRequest
		if err := bind(f, &req); err != nil {
			outcome = domain.OutcomeFor(err)
			break
		}
		outcome, _ = h.relay.ShareText(ctx, domain.ShareRequest{
			From:    sess.ID,
			RoomKey: sess.Key,
			To:      req.To,
			Text:    req.Text,
		})

	default:
		h.logger.Debug(logging.WebSocket, logging.Read, "unknown event", map[logging.ExtraKey]any{
			logging.ConnID: client.ID,
			logging.Event:  f.Event,
		})
		outcome = domain.OutcomeFor(domain.ErrUnknownEvent)
	}

	h.ack(client, f, outcome)
}

func bind(f ws.Frame, v any) error {
	if err := f.Bind(v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) ack(client *ws.Client, f ws.Frame, outcome domain.Outcome) {
	if f.Ack == 0 {
		return
	}
	if !client.Enqueue(ws.NewAck(f.Ack, outcome)) {
		h.logger.Warn(logging.WebSocket, logging.Write, "ack dropped", map[logging.ExtraKey]any{
			logging.ConnID: client.ID,
			logging.Event:  f.Event,
		})
	}
}
