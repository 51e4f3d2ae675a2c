package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/autoheal"
	"github.com/opscore/command-center/internal/bus"
)

// busReplayer hands replay requests to the delivery pipeline over the
// event bus. The pipeline service consumes replay_requested events.
type busReplayer struct {
	bus    *bus.Bus
	logger *zap.Logger
}

func (r *busReplayer) Replay(_ context.Context, tenantID string, deliveryIDs []string) (int, error) {
	ids := make([]interface{}, len(deliveryIDs))
	for i, id := range deliveryIDs {
		ids[i] = id
	}
	r.bus.Publish(tenantID, "autoheal", "replay_requested", map[string]interface{}{
		"delivery_ids": ids,
	})
	r.logger.Info("replay requested",
		zap.String("tenant_id", tenantID),
		zap.Int("deliveries", len(deliveryIDs)),
	)
	return len(deliveryIDs), nil
}

// busEscalator surfaces an incident to operators as a bus event.
type busEscalator struct {
	bus *bus.Bus
}

func (e *busEscalator) Escalate(_ context.Context, incident *autoheal.Incident, details map[string]interface{}) error {
	payload := map[string]interface{}{
		"endpoint":   incident.Endpoint,
		"severity":   incident.Severity,
		"alert_type": incident.AlertType,
	}
	for k, v := range details {
		payload[k] = v
	}
	e.bus.Publish(incident.TenantID, "autoheal", "escalation", payload)
	return nil
}
