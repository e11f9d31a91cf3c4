// Package amqp consumes loyalty events from a RabbitMQ queue.
//
// Deliveries are acknowledged manually once the engine has settled them:
//
//	applied, buffered, duplicate, dropped  -> ack
//	malformed or invalid envelope          -> nack, no requeue
//	contract violation                     -> nack, no requeue
//	store failure or engine stopped        -> nack, requeue
//
// A store failure rolls back the whole event, cascade included, so the
// requeued delivery is processed from scratch. Other redeliveries are
// classified as duplicates.
package amqp

import (
	"errors"
	"log/slog"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

// Acknowledger settles one delivery. amqp091.Delivery satisfies it.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Action is what to do with a delivery once it has been processed.
type Action int

const (
	// ActionAck removes the message from the queue.
	ActionAck Action = iota
	// ActionReject discards the message without redelivery.
	ActionReject
	// ActionRequeue returns the message to the queue for another attempt.
	ActionRequeue
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionReject:
		return "reject"
	case ActionRequeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Settle maps a Submit error to a delivery action.
func Settle(err error) Action {
	switch {
	case err == nil:
		return ActionAck
	case errors.Is(err, event.ErrInvalidEvent), engine.IsContractError(err):
		return ActionReject
	default:
		return ActionRequeue
	}
}

func settle(ack Acknowledger, a Action) error {
	switch a {
	case ActionAck:
		return ack.Ack(false)
	case ActionReject:
		return ack.Nack(false, false)
	default:
		return ack.Nack(false, true)
	}
}

// Handler decodes message bodies and queues them on an engine.
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewHandler creates a Handler. The engine's Run loop must be running for
// queued messages to be settled.
func NewHandler(e *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, logger: logger}
}

// Handle processes one message. Invalid bodies are rejected immediately;
// everything else is settled from the engine's Run loop.
func (h *Handler) Handle(messageID string, body []byte, ack Acknowledger) {
	log := h.logger.With("message_id", messageID)

	ev, err := event.Decode(body)
	if err != nil {
		log.Warn("rejecting malformed message", "error", err)
		h.finish(log, ack, ActionReject)
		return
	}

	queued := h.engine.Enqueue(ev, func(out engine.Outcome, err error) {
		a := Settle(err)
		if a != ActionAck {
			log.Warn("message not applied", "event", ev.String(), "receipt", out.Receipt, "action", a.String(), "error", err)
		}
		h.finish(log, ack, a)
	})
	if !queued {
		log.Info("engine stopped, requeueing message", "event", ev.String())
		h.finish(log, ack, ActionRequeue)
	}
}

func (h *Handler) finish(log *slog.Logger, ack Acknowledger, a Action) {
	if err := settle(ack, a); err != nil {
		log.Error("failed to settle message", "action", a.String(), "error", err)
	}
}
