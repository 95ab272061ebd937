package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/libs/lock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/engine"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// maxMemoryEvents bounds the retained outbox history of a MemoryStore.
const maxMemoryEvents = 1000

type scheduleKey struct {
	professionalID string
	weekday        time.Weekday
}

// MemoryEvent is an outbox event recorded by MemoryStore.
type MemoryEvent struct {
	EventID string
	outbox.Event
}

// MemoryStore keeps schedules and appointments in process memory. Writes made
// inside InTx are staged and applied on success, so a failed transaction
// leaves nothing behind.
type MemoryStore struct {
	mu            sync.RWMutex
	schedules     map[scheduleKey]model.WeeklyScheduleEntry
	appts         map[string]model.Appointment
	cancellations map[string]model.CancellationRecord
	events        []MemoryEvent

	txLocks *lock.KeyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules:     map[scheduleKey]model.WeeklyScheduleEntry{},
		appts:         map[string]model.Appointment{},
		cancellations: map[string]model.CancellationRecord{},
		txLocks:       lock.NewKeyedMutex(),
	}
}

func (s *MemoryStore) ActiveSchedule(_ context.Context, professionalID string, weekday time.Weekday) (*model.WeeklyScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.schedules[scheduleKey{professionalID, weekday}]
	if !ok || !entry.IsActive {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) ListSchedule(_ context.Context, professionalID string) ([]model.WeeklyScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WeeklyScheduleEntry
	for k, entry := range s.schedules {
		if k.professionalID == professionalID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (s *MemoryStore) UpsertSchedule(_ context.Context, entry model.WeeklyScheduleEntry) (model.WeeklyScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[scheduleKey{entry.ProfessionalID, entry.Weekday}] = entry
	return entry, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, engine.ErrRecordNotFound
	}
	return s.withCancellation(appt), nil
}

func (s *MemoryStore) ListByProfessionalAndDate(_ context.Context, professionalID string, day time.Time) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterDay(s.appts, nil, professionalID, day, true), nil
}

func (s *MemoryStore) ListDay(_ context.Context, professionalID string, day time.Time) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterDay(s.appts, nil, professionalID, day, false)
	for i := range out {
		out[i] = s.withCancellation(out[i])
	}
	return out, nil
}

// Events returns a copy of the recorded outbox events, oldest first.
func (s *MemoryStore) Events() []MemoryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MemoryEvent(nil), s.events...)
}

func (s *MemoryStore) InTx(ctx context.Context, professionalID string, fn func(engine.Tx) error) error {
	unlock, err := s.txLocks.Lock(ctx, professionalID)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &memoryTx{
		store:         s,
		appts:         map[string]model.Appointment{},
		cancellations: map[string]model.CancellationRecord{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, appt := range tx.appts {
		s.appts[id] = appt
	}
	for id, rec := range tx.cancellations {
		s.cancellations[id] = rec
	}
	s.events = append(s.events, tx.events...)
	if over := len(s.events) - maxMemoryEvents; over > 0 {
		s.events = append([]MemoryEvent(nil), s.events[over:]...)
	}
}

func (s *MemoryStore) withCancellation(appt model.Appointment) model.Appointment {
	if rec, ok := s.cancellations[appt.ID]; ok {
		appt.Cancellation = &rec
	}
	return appt
}

type memoryTx struct {
	store         *MemoryStore
	appts         map[string]model.Appointment
	cancellations map[string]model.CancellationRecord
	events        []MemoryEvent
}

func (tx *memoryTx) ListByProfessionalAndDate(_ context.Context, professionalID string, day time.Time) ([]model.Appointment, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return filterDay(tx.store.appts, tx.appts, professionalID, day, true), nil
}

func (tx *memoryTx) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if _, err := tx.GetForUpdate(ctx, appt.ID); err == nil {
		return model.Appointment{}, fmt.Errorf("appointment %s already exists", appt.ID)
	}
	if appt.Status.Occupying() {
		day := availability.DayStart(appt.StartTime, appt.StartTime.Location())
		current, _ := tx.ListByProfessionalAndDate(ctx, appt.ProfessionalID, day)
		iv := availability.Interval{Start: appt.StartTime, End: appt.EndTime()}
		for _, other := range current {
			if availability.Overlaps(iv, availability.Interval{Start: other.StartTime, End: other.EndTime()}) {
				return model.Appointment{}, engine.ErrOverlap
			}
		}
	}
	tx.appts[appt.ID] = appt
	return appt, nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id string) (model.Appointment, error) {
	if appt, ok := tx.appts[id]; ok {
		return appt, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	appt, ok := tx.store.appts[id]
	if !ok {
		return model.Appointment{}, engine.ErrRecordNotFound
	}
	return tx.store.withCancellation(appt), nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	appt, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return err
	}
	appt.Status = status
	appt.UpdatedAt = at
	tx.appts[id] = appt
	return nil
}

func (tx *memoryTx) InsertCancellation(_ context.Context, rec model.CancellationRecord) error {
	if _, ok := tx.cancellations[rec.AppointmentID]; ok {
		return fmt.Errorf("cancellation for %s already recorded", rec.AppointmentID)
	}
	tx.store.mu.RLock()
	_, exists := tx.store.cancellations[rec.AppointmentID]
	tx.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("cancellation for %s already recorded", rec.AppointmentID)
	}
	tx.cancellations[rec.AppointmentID] = rec
	return nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	tx.events = append(tx.events, MemoryEvent{EventID: uuid.NewString(), Event: evt})
	return nil
}

// filterDay returns the appointments of professionalID overlapping the civil
// day starting at day, with staged entries taking precedence over base.
func filterDay(base, staged map[string]model.Appointment, professionalID string, day time.Time, activeOnly bool) []model.Appointment {
	dayIv := availability.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	seen := map[string]bool{}
	var out []model.Appointment
	collect := func(a model.Appointment) {
		if seen[a.ID] || a.ProfessionalID != professionalID {
			return
		}
		seen[a.ID] = true
		if activeOnly && !a.Status.Occupying() {
			return
		}
		if !availability.Overlaps(dayIv, availability.Interval{Start: a.StartTime, End: a.EndTime()}) {
			return
		}
		out = append(out, a)
	}
	for _, a := range staged {
		collect(a)
	}
	for _, a := range base {
		collect(a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
