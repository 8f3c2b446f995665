package alerts

import (
	"context"
	"fmt"

	"leadgate_backend/internal/events"
	"leadgate_backend/platform/logger"
)

// Module wires alert emails to the domain events that warrant them.
type Module struct {
	sender *Sender
	log    *logger.Logger
}

func NewModule(sender *Sender, log *logger.Logger) *Module {
	return &Module{sender: sender, log: log}
}

// RegisterHandlers subscribes the alert handlers on the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.DeliveryDeadLettered{}.EventName(), events.HandlerFunc(m.onDeliveryDeadLettered))
	bus.Subscribe(events.SweepCompleted{}.EventName(), events.HandlerFunc(m.onSweepCompleted))
}

func (m *Module) onDeliveryDeadLettered(ctx context.Context, event events.Event) error {
	evt, ok := event.(events.DeliveryDeadLettered)
	if !ok {
		return nil
	}

	body := fmt.Sprintf(
		"Delivery %s for lead offer %s (tenant %s) exhausted its retries.\n\nLast error: %s\n",
		evt.DeliveryID, evt.LeadOfferID, evt.TenantID, evt.LastError,
	)
	if err := m.sender.Send(ctx, "Lead delivery dead-lettered", body); err != nil {
		m.log.Error("dead-letter alert failed", "delivery_id", evt.DeliveryID, "error", err)
	}
	return nil
}

func (m *Module) onSweepCompleted(ctx context.Context, event events.Event) error {
	evt, ok := event.(events.SweepCompleted)
	if !ok || evt.Errors == 0 {
		return nil
	}

	body := fmt.Sprintf(
		"Sweep started at %s finished with %d errors.\nRetried: %d, revived: %d, cooled: %d.\n",
		evt.StartedAt.Format("2006-01-02 15:04:05 MST"), evt.Errors, evt.Retried, evt.Revived, evt.Cooled,
	)
	if err := m.sender.Send(ctx, "Scheduler sweep reported errors", body); err != nil {
		m.log.Error("sweep alert failed", "error", err)
	}
	return nil
}
