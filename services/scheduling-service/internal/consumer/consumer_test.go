package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type failingInbox struct{}

func (failingInbox) Record(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func (failingInbox) Forget(context.Context, string) error { return nil }

func message(offset int64, eventID string, value string) kafka.Message {
	return kafka.Message{
		Topic:  ScheduleUpdatedTopic,
		Offset: offset,
		Value:  []byte(value),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte(ScheduleUpdatedTopic)},
		},
	}
}

func TestRunSkipsDuplicatesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(1, "evt-1", `{}`),
		message(2, "evt-1", `{}`),
		message(3, "evt-2", `{}`),
	}}

	var mu sync.Mutex
	var handled int
	ctx, cancel := context.WithCancel(context.Background())
	c := NewWithReader(testLogger(), inbox.NewMemory(), reader, func(context.Context, kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled++
		if handled == 2 {
			cancel()
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatalf("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if handled != 2 {
		t.Fatalf("expected 2 handled events, got %d", handled)
	}
	if !reader.closed {
		t.Fatalf("expected reader to be closed")
	}
	if len(reader.committed) < 2 {
		t.Fatalf("expected duplicate and first event committed, got %v", reader.committed)
	}
}

func TestProcessLeavesOffsetOnInboxFailure(t *testing.T) {
	c := NewWithReader(testLogger(), failingInbox{}, &fakeReader{}, func(context.Context, kafka.Message) error {
		t.Fatalf("handler must not run when the inbox is unavailable")
		return nil
	})
	if c.process(context.Background(), message(1, "evt-1", `{}`)) {
		t.Fatalf("expected message to stay uncommitted")
	}
}

type recordingUpserter struct {
	mu       sync.Mutex
	entries  []model.WeeklyScheduleEntry
	err      error
	failures int
}

func (r *recordingUpserter) UpsertSchedule(_ context.Context, e model.WeeklyScheduleEntry) (model.WeeklyScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return model.WeeklyScheduleEntry{}, r.err
	}
	if r.failures > 0 {
		r.failures--
		return model.WeeklyScheduleEntry{}, errors.New("store unavailable")
	}
	r.entries = append(r.entries, e)
	return e, nil
}

func TestProcessHeaderlessMessagesAreNotDeduplicatedByKey(t *testing.T) {
	up := &recordingUpserter{}
	c := NewWithReader(testLogger(), inbox.NewMemory(), &fakeReader{}, ScheduleHandler(testLogger(), up))

	for i, body := range []string{
		`{"professional_id":"prof-1","weekday":1,"start_time":"08:00","end_time":"17:00","is_active":true}`,
		`{"professional_id":"prof-1","weekday":2,"start_time":"09:00","end_time":"12:00","is_active":true}`,
	} {
		msg := kafka.Message{Topic: ScheduleUpdatedTopic, Offset: int64(i + 1), Key: []byte("prof-1"), Value: []byte(body)}
		if !c.process(context.Background(), msg) {
			t.Fatalf("message %d should be committable", i+1)
		}
	}
	if len(up.entries) != 2 {
		t.Fatalf("expected both updates applied, got %d", len(up.entries))
	}
}

func TestRunRetriesAfterStoreFailure(t *testing.T) {
	body := `{"professional_id":"prof-1","weekday":1,"start_time":"08:00","end_time":"17:00","is_active":true}`
	reader := &fakeReader{msgs: []kafka.Message{
		message(1, "e1", body),
		message(2, "e1", body),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	up := &recordingUpserter{failures: 1}
	c := NewWithReader(testLogger(), inbox.NewMemory(), reader, ScheduleHandler(testLogger(), up))
	c.retryDelay = time.Millisecond

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		reader.mu.Lock()
		n := len(reader.committed)
		reader.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("expected both offsets committed, got %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if len(up.entries) != 1 {
		t.Fatalf("expected the update applied once, got %d", len(up.entries))
	}
	if reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Fatalf("unexpected commits %v", reader.committed)
	}
}

func TestProcessForgetsEventOnHandlerError(t *testing.T) {
	recorder := inbox.NewMemory()
	up := &recordingUpserter{failures: 1}
	c := NewWithReader(testLogger(), recorder, &fakeReader{}, ScheduleHandler(testLogger(), up))
	msg := message(1, "e1", `{"professional_id":"prof-1","weekday":1,"start_time":"08:00","end_time":"17:00","is_active":true}`)

	if c.process(context.Background(), msg) {
		t.Fatalf("store failure must leave the offset uncommitted")
	}
	if !c.process(context.Background(), msg) {
		t.Fatalf("redelivery should succeed")
	}
	if len(up.entries) != 1 {
		t.Fatalf("expected redelivered update applied, got %d", len(up.entries))
	}
}

func TestScheduleHandler(t *testing.T) {
	up := &recordingUpserter{}
	h := ScheduleHandler(testLogger(), up)

	err := h(context.Background(), message(1, "e1", `{"professional_id":"prof-1","weekday":1,"start_time":"08:00","end_time":"17:00","is_active":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.entries) != 1 {
		t.Fatalf("expected one upsert, got %d", len(up.entries))
	}
	got := up.entries[0]
	if got.Weekday != time.Monday || got.StartMinute != 480 || got.EndMinute != 1020 || !got.IsActive {
		t.Fatalf("unexpected entry %+v", got)
	}

	// Invalid payloads are dropped without an error so the offset advances.
	for _, body := range []string{
		`not json`,
		`{"professional_id":"prof-1","weekday":1,"start_time":"17:00","end_time":"08:00","is_active":true}`,
		`{"professional_id":"prof-1","weekday":9,"start_time":"08:00","end_time":"09:00","is_active":true}`,
		`{"professional_id":"prof-1","start_time":"08:00","end_time":"09:00","is_active":true}`,
	} {
		if err := h(context.Background(), message(2, "e2", body)); err != nil {
			t.Fatalf("expected invalid payload to be dropped, got %v", err)
		}
	}
	if len(up.entries) != 1 {
		t.Fatalf("invalid payloads must not upsert")
	}

	// Disabling a day needs no clock times.
	if err := h(context.Background(), message(3, "e3", `{"professional_id":"prof-1","weekday":2,"is_active":false}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.entries) != 2 || up.entries[1].IsActive {
		t.Fatalf("expected inactive entry to be stored")
	}

	up.err = errors.New("db down")
	if err := h(context.Background(), message(4, "e4", `{"professional_id":"prof-1","weekday":3,"start_time":"08:00","end_time":"12:00","is_active":true}`)); err == nil {
		t.Fatalf("expected store failure to propagate")
	}
}
