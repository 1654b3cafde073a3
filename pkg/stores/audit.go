package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/titanworks/titan/pkg/telemetry"
)

// AuditedEventTypes are the lifecycle events mirrored into the audit table.
var AuditedEventTypes = []string{
	telemetry.EventTypeRunCompleted,
	telemetry.EventTypeRunFailed,
	telemetry.EventTypeRunSuperseded,
	telemetry.EventTypeIndexCleared,
	telemetry.EventTypeRecommendationCreated,
	telemetry.EventTypeRecommendationChanged,
	telemetry.EventTypeReservationReleased,
	telemetry.EventTypeNotificationSent,
	telemetry.EventTypeCompensationFailed,
	telemetry.EventTypePolicyReloaded,
}

// AttachAudit subscribes store to the lifecycle events worth keeping. Write
// failures are logged; auditing never blocks or fails the publisher.
func AttachAudit(events *telemetry.EventPublisher, store Store, logger *telemetry.Logger) {
	log := logger.NewComponentLogger("audit")
	events.Subscribe(func(event telemetry.Event) {
		entry := auditEntryFor(event)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.CreateAuditEntry(ctx, entry); err != nil {
			log.WithError(err).WithField("event_type", event.Type).Warn("Failed to write audit entry")
		}
	}, telemetry.FilterByType(AuditedEventTypes...))
}

func auditEntryFor(event telemetry.Event) *AuditEntry {
	actor := event.Source
	if a, ok := event.Data["actor"].(string); ok && a != "" {
		actor = a
	}
	if actor == "" {
		actor = "system"
	}

	var target *string
	switch {
	case event.RunID != "":
		target = &event.RunID
	case event.EquipmentID != "":
		target = &event.EquipmentID
	}

	details := map[string]interface{}{"message": event.Message}
	if event.EquipmentID != "" {
		details["equipment_id"] = event.EquipmentID
	}
	for k, v := range event.Data {
		details[k] = v
	}
	var detailStr *string
	if raw, err := json.Marshal(details); err == nil {
		s := string(raw)
		detailStr = &s
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &AuditEntry{
		Action:    event.Type,
		Actor:     actor,
		TargetID:  target,
		Details:   detailStr,
		Timestamp: ts,
	}
}
