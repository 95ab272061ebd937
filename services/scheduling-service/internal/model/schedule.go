package model

import (
	"errors"
	"time"
)

const MinutesPerDay = 24 * 60

// WeeklyScheduleEntry is a professional's working window for one weekday, in
// minutes since local midnight. Entries are disabled with IsActive=false
// rather than removed.
type WeeklyScheduleEntry struct {
	ProfessionalID string
	Weekday        time.Weekday
	StartMinute    int
	EndMinute      int
	IsActive       bool
	UpdatedAt      time.Time
}

func (e WeeklyScheduleEntry) Validate() error {
	if e.ProfessionalID == "" {
		return errors.New("professional_id is required")
	}
	if e.Weekday < time.Sunday || e.Weekday > time.Saturday {
		return errors.New("weekday must be between 0 and 6")
	}
	if !e.IsActive {
		return nil
	}
	if e.StartMinute < 0 || e.EndMinute > MinutesPerDay || e.StartMinute >= e.EndMinute {
		return errors.New("start must be before end and within the day")
	}
	return nil
}
