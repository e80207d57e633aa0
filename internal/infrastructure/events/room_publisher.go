package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/hilthontt/roomdrop/internal/infrastructure/contracts"
	"github.com/hilthontt/roomdrop/internal/infrastructure/messaging"
)

// RoomPublisher announces room lifecycle changes to other services.
type RoomPublisher interface {
	PublishRoomCreated(ctx context.Context, change domain.Change) error
	PublishRoomDeleted(ctx context.Context, change domain.Change) error
	PublishMemberJoined(ctx context.Context, change domain.Change) error
	PublishMemberLeft(ctx context.Context, change domain.Change) error
}

type messagePublisher interface {
	PublishMessage(ctx context.Context, routingKey string, message contracts.AmqpMessage) error
}

type AMQPRoomPublisher struct {
	rabbitmq messagePublisher
}

func NewRoomPublisher(rabbitmq *messaging.RabbitMQ) *AMQPRoomPublisher {
	return &AMQPRoomPublisher{
		rabbitmq: rabbitmq,
	}
}

func (p *AMQPRoomPublisher) PublishRoomCreated(ctx context.Context, change domain.Change) error {
	return p.publish(ctx, contracts.EventRoomCreated, change)
}

func (p *AMQPRoomPublisher) PublishRoomDeleted(ctx context.Context, change domain.Change) error {
	return p.publish(ctx, contracts.EventRoomDeleted, change)
}

func (p *AMQPRoomPublisher) PublishMemberJoined(ctx context.Context, change domain.Change) error {
	return p.publish(ctx, contracts.EventMemberJoined, change)
}

func (p *AMQPRoomPublisher) PublishMemberLeft(ctx context.Context, change domain.Change) error {
	return p.publish(ctx, contracts.EventMemberLeft, change)
}

func (p *AMQPRoomPublisher) publish(ctx context.Context, routingKey string, change domain.Change) error {
	message, err := newRoomMessage(change)
	if err != nil {
		return err
	}
	return p.rabbitmq.PublishMessage(ctx, routingKey, message)
}

func newRoomMessage(change domain.Change) (contracts.AmqpMessage, error) {
	payload := messaging.RoomEventData{
		Key:         change.Key.String(),
		MemberID:    change.Member.ID,
		MemberName:  change.Member.Name,
		MemberCount: len(change.Members),
		OccurredAt:  time.Now().UTC(),
	}

	roomEventJSON, err := json.Marshal(payload)
	if err != nil {
		return contracts.AmqpMessage{}, err
	}

	return contracts.AmqpMessage{
		MemberID: change.Member.ID,
		Data:     roomEventJSON,
	}, nil
}

// NopRoomPublisher is used when messaging is disabled.
type NopRoomPublisher struct{}

func (NopRoomPublisher) PublishRoomCreated(context.Context, domain.Change) error  { return nil }
func (NopRoomPublisher) PublishRoomDeleted(context.Context, domain.Change) error  { return nil }
func (NopRoomPublisher) PublishMemberJoined(context.Context, domain.Change) error { return nil }
func (NopRoomPublisher) PublishMemberLeft(context.Context, domain.Change) error   { return nil }
