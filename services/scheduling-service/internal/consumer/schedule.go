package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/engine"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

const ScheduleUpdatedTopic = "clinic.professional.schedule.updated.v1"

type ScheduleUpserter interface {
	UpsertSchedule(ctx context.Context, entry model.WeeklyScheduleEntry) (model.WeeklyScheduleEntry, error)
}

// ScheduleUpdate is the payload of a schedule update event. Start and end are
// "HH:MM" local clock times.
type ScheduleUpdate struct {
	ProfessionalID string `json:"professional_id"`
	Weekday        *int   `json:"weekday"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	IsActive       bool   `json:"is_active"`
}

func (u ScheduleUpdate) Entry() (model.WeeklyScheduleEntry, error) {
	if u.Weekday == nil {
		return model.WeeklyScheduleEntry{}, errors.New("weekday is required")
	}
	entry := model.WeeklyScheduleEntry{
		ProfessionalID: u.ProfessionalID,
		Weekday:        time.Weekday(*u.Weekday),
		IsActive:       u.IsActive,
	}
	if u.StartTime != "" || u.IsActive {
		start, err := config.ParseClock(u.StartTime)
		if err != nil {
			return entry, fmt.Errorf("start_time: %w", err)
		}
		end, err := config.ParseClock(u.EndTime)
		if err != nil {
			return entry, fmt.Errorf("end_time: %w", err)
		}
		entry.StartMinute, entry.EndMinute = start, end
	}
	return entry, entry.Validate()
}

// ScheduleHandler applies schedule update events. Malformed or rejected
// payloads are logged and dropped; only store failures are returned.
func ScheduleHandler(logger *slog.Logger, schedules ScheduleUpserter) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload ScheduleUpdate
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		entry, err := payload.Entry()
		if err != nil {
			logger.Error("invalid schedule update", "err", err, "topic", msg.Topic)
			return nil
		}
		if _, err := schedules.UpsertSchedule(ctx, entry); err != nil {
			if errors.Is(err, engine.ErrInvalidArgument) {
				logger.Error("schedule update rejected", "err", err, "professional_id", entry.ProfessionalID)
				return nil
			}
			return err
		}
		logger.Info("schedule updated from event",
			"professional_id", entry.ProfessionalID,
			"weekday", int(entry.Weekday),
			"active", entry.IsActive,
		)
		return nil
	}
}
