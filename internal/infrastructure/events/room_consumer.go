package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/roomdrop/internal/infrastructure/contracts"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RoomConsumer writes the room lifecycle stream to the structured log.
type RoomConsumer struct {
	rabbitmq *messaging.RabbitMQ
	queue    string
	logger   logging.Logger
}

func NewRoomConsumer(rabbitmq *messaging.RabbitMQ, queue string, logger logging.Logger) *RoomConsumer {
	if queue == "" {
		queue = messaging.RoomsQueue
	}
	return &RoomConsumer{
		rabbitmq: rabbitmq,
		queue:    queue,
		logger:   logger,
	}
}

func (c *RoomConsumer) Listen(ctx context.Context) error {
	return c.rabbitmq.ConsumeMessages(ctx, c.queue, contracts.RoomEvents, c.handle)
}

func (c *RoomConsumer) handle(_ context.Context, msg amqp.Delivery) error {
	payload, err := decodeRoomEvent(msg.Body)
	if err != nil {
		c.logger.Error(logging.RabbitMQ, logging.Consuming, "failed to decode room event", map[logging.ExtraKey]any{
			logging.RoutingKey:   msg.RoutingKey,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	c.logger.Info(logging.RabbitMQ, logging.Consuming, "room event received", map[logging.ExtraKey]any{
		logging.RoutingKey: msg.RoutingKey,
		logging.RoomKey:    payload.Key,
		logging.ConnID:     payload.MemberID,
		logging.Members:    payload.MemberCount,
	})
	return nil
}

func decodeRoomEvent(body []byte) (messaging.RoomEventData, error) {
	var message contracts.AmqpMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return messaging.RoomEventData{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var payload messaging.RoomEventData
	if err := json.Unmarshal(message.Data, &payload); err != nil {
		return messaging.RoomEventData{}, fmt.Errorf("unmarshal room event: %w", err)
	}
	return payload, nil
}
