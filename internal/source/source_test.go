package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/database"
	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/session"
	"github.com/dukerupert/dosekeeper/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupCaches(t *testing.T) (linked, standalone *store.ReminderCache) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	kv := store.NewKVStore(db)
	return store.NewReminderCache(kv, store.NamespaceLinkedCache), store.NewReminderCache(kv, store.NamespaceStandalone)
}

type fakeGuard struct {
	err   error
	token string
}

func (g *fakeGuard) Authorize(ctx context.Context, op session.Operation) error { return g.err }
func (g *fakeGuard) Token() (string, bool)                                    { return g.token, g.err == nil }

type fakeLinked struct {
	reminders []model.Reminder
	medicines []model.Medicine
	listErr   error
	writeErr  error
	calls     int
	// during runs inside every backend call.
	during func()
}

func (f *fakeLinked) call() {
	f.calls++
	if f.during != nil {
		f.during()
	}
}

func (f *fakeLinked) ListLinked(ctx context.Context, token string) ([]model.Reminder, error) {
	f.call()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Reminder(nil), f.reminders...), nil
}

func (f *fakeLinked) ListMedicines(ctx context.Context, token string) ([]model.Medicine, error) {
	return f.medicines, nil
}

func (f *fakeLinked) CreateLinked(ctx context.Context, token string, r model.Reminder) (model.Reminder, error) {
	f.call()
	r.ID = "srv-1"
	return r, f.writeErr
}

func (f *fakeLinked) UpdateLinked(ctx context.Context, token string, r model.Reminder) (model.Reminder, error) {
	f.call()
	return r, f.writeErr
}

func (f *fakeLinked) DeleteLinked(ctx context.Context, token string, id string) error {
	f.call()
	return f.writeErr
}

func (f *fakeLinked) ToggleLinked(ctx context.Context, token string, id string, active bool) (model.Reminder, error) {
	f.call()
	return model.Reminder{ID: id, IsActive: active}, f.writeErr
}

func (f *fakeLinked) RecordLinked(ctx context.Context, token string, id string, action model.Action, at time.Time) (model.Reminder, error) {
	f.call()
	return model.Reminder{ID: id}.Apply(action, at), f.writeErr
}

func linkedReminder(id, medID string) model.Reminder {
	return model.Reminder{
		ID:         id,
		MedicineID: medID,
		Label:      "raw",
		TimeOfDay:  model.TimeOfDay{Hour: 8},
		Frequency:  model.FrequencyDaily,
		IsActive:   true,
	}
}

func TestGatedListRefusedIsEmptyAndDropsCache(t *testing.T) {
	linked, _ := setupCaches(t)
	linked.Put(linkedReminder("1", "m1"))

	backend := &fakeLinked{reminders: []model.Reminder{linkedReminder("1", "m1")}}
	a := NewGatedAdapter(&fakeGuard{err: &session.Refusal{Reason: model.ErrSessionExpired}}, backend, linked, discard)

	b, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !b.Refused || len(b.Reminders) != 0 {
		t.Errorf("batch = %+v, want empty refused", b)
	}
	if backend.calls != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls)
	}
	cached, _ := linked.Load()
	if len(cached) != 0 {
		t.Errorf("cache has %d records after refusal, want 0", len(cached))
	}
}

func TestGatedListAttachesLabels(t *testing.T) {
	linked, _ := setupCaches(t)
	backend := &fakeLinked{
		reminders: []model.Reminder{linkedReminder("1", "m1"), linkedReminder("2", "unknown")},
		medicines: []model.Medicine{{ID: "m1", Name: "Ibuprofen"}},
	}
	a := NewGatedAdapter(&fakeGuard{token: "t"}, backend, linked, discard)

	b, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !b.Confirmed || len(b.Reminders) != 2 {
		t.Fatalf("batch = %+v", b)
	}
	if b.Reminders[0].Label != "Ibuprofen" {
		t.Errorf("label = %q, want Ibuprofen", b.Reminders[0].Label)
	}
	if b.Reminders[1].Label != "raw" {
		t.Errorf("label = %q, want raw", b.Reminders[1].Label)
	}
	for _, r := range b.Reminders {
		if r.Kind != model.SourceLinked {
			t.Errorf("kind = %q, want linked", r.Kind)
		}
	}
	cached, _ := linked.Load()
	if len(cached) != 2 {
		t.Errorf("cached = %d, want 2", len(cached))
	}
}

func TestGatedListNetworkFailureServesCache(t *testing.T) {
	linked, _ := setupCaches(t)
	backend := &fakeLinked{listErr: model.ErrNetwork}
	a := NewGatedAdapter(&fakeGuard{token: "t"}, backend, linked, discard)

	if _, err := a.List(context.Background()); !errors.Is(err, model.ErrNetwork) {
		t.Errorf("empty cache err = %v, want ErrNetwork", err)
	}

	linked.Put(linkedReminder("1", "m1"))
	b, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if b.Confirmed || len(b.Reminders) != 1 {
		t.Errorf("batch = %+v, want one unconfirmed record", b)
	}
}

func TestGatedListServerRejectsSession(t *testing.T) {
	linked, _ := setupCaches(t)
	linked.Put(linkedReminder("1", "m1"))
	backend := &fakeLinked{listErr: model.ErrSessionExpired}
	a := NewGatedAdapter(&fakeGuard{token: "t"}, backend, linked, discard)

	b, err := a.List(context.Background())
	if err != nil || !b.Refused {
		t.Fatalf("batch = %+v, err = %v; want refused", b, err)
	}
	cached, _ := linked.Load()
	if len(cached) != 0 {
		t.Error("cache survived server-side session rejection")
	}
}

func TestGatedWriteRefused(t *testing.T) {
	linked, _ := setupCaches(t)
	backend := &fakeLinked{}
	a := NewGatedAdapter(&fakeGuard{err: &session.Refusal{Reason: model.ErrUnauthenticated}}, backend, linked, discard)

	_, err := a.Toggle(context.Background(), "1", false)
	if !errors.Is(err, model.ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated", err)
	}
	if backend.calls != 0 {
		t.Error("backend called without authorization")
	}
}

func TestGatedResultsDroppedMidCallAreNotCached(t *testing.T) {
	linked, _ := setupCaches(t)
	backend := &fakeLinked{reminders: []model.Reminder{linkedReminder("1", "m1")}}
	a := NewGatedAdapter(&fakeGuard{token: "t"}, backend, linked, discard)
	backend.during = a.DropCache

	if _, err := a.Toggle(context.Background(), "1", false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := a.Create(context.Background(), linkedReminder("", "m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !b.Refused || len(b.Reminders) != 0 {
		t.Errorf("batch = %+v, want refused", b)
	}
	cached, _ := linked.Load()
	if len(cached) != 0 {
		t.Errorf("cache = %+v, want empty after a drop during the call", cached)
	}

	backend.during = nil
	if _, err := a.Toggle(context.Background(), "1", true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if cached, _ := linked.Load(); len(cached) != 1 {
		t.Errorf("cached = %d, want 1 once the session is stable", len(cached))
	}
}

func TestGatedDeleteNotFoundIsSuccess(t *testing.T) {
	linked, _ := setupCaches(t)
	linked.Put(linkedReminder("1", "m1"))
	a := NewGatedAdapter(&fakeGuard{token: "t"}, &fakeLinked{writeErr: model.ErrNotFound}, linked, discard)

	if err := a.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := linked.Get("1"); ok {
		t.Error("deleted record still cached")
	}
}

type fakeStandalone struct {
	reminders []model.Reminder
	err       error
}

func (f *fakeStandalone) ListStandalone(ctx context.Context) ([]model.Reminder, error) {
	return f.reminders, f.err
}

func (f *fakeStandalone) CreateStandalone(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	if f.err != nil {
		return model.Reminder{}, f.err
	}
	r.ID = "srv-" + r.Label
	return r, nil
}

func (f *fakeStandalone) UpdateStandalone(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	return r, f.err
}

func (f *fakeStandalone) DeleteStandalone(ctx context.Context, id string) error {
	return f.err
}

func (f *fakeStandalone) ToggleStandalone(ctx context.Context, id string, active bool) (model.Reminder, error) {
	if f.err != nil {
		return model.Reminder{}, f.err
	}
	return model.Reminder{ID: id, IsActive: active, Label: "confirmed"}, nil
}

func (f *fakeStandalone) RecordStandalone(ctx context.Context, id string, action model.Action, at time.Time) (model.Reminder, error) {
	if f.err != nil {
		return model.Reminder{}, f.err
	}
	return model.Reminder{ID: id}.Apply(action, at), nil
}

func newClock() clock.FakeClock {
	clk := clock.NewFake()
	clk.Set(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	return clk
}

func TestOpenLocalOnly(t *testing.T) {
	_, standalone := setupCaches(t)
	a := NewOpenAdapter(nil, standalone, newClock(), discard)

	created, err := a.Create(context.Background(), model.Reminder{Label: "Stretch", TimeOfDay: model.TimeOfDay{Hour: 7}, Frequency: model.FrequencyDaily, IsActive: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Kind != model.SourceStandalone {
		t.Errorf("created = %+v", created)
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	b, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !b.Confirmed || len(b.Reminders) != 1 {
		t.Errorf("batch = %+v", b)
	}

	toggled, err := a.Toggle(context.Background(), created.ID, false)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if toggled.IsActive || toggled.Label != "Stretch" {
		t.Errorf("toggled = %+v", toggled)
	}

	if _, err := a.Toggle(context.Background(), "missing", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("toggle missing err = %v, want ErrNotFound", err)
	}
}

func TestOpenToggleRollsBackOnFailure(t *testing.T) {
	_, standalone := setupCaches(t)
	orig := model.Reminder{ID: "s1", Kind: model.SourceStandalone, Label: "Walk", IsActive: true, Frequency: model.FrequencyDaily}
	standalone.Put(orig)

	a := NewOpenAdapter(&fakeStandalone{err: model.ErrNetwork}, standalone, newClock(), discard)
	if _, err := a.Toggle(context.Background(), "s1", false); !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}

	got, ok, _ := standalone.Get("s1")
	if !ok || !got.IsActive {
		t.Errorf("record = %+v, want original active record", got)
	}
}

func TestOpenCreateFailureRemovesOptimisticRecord(t *testing.T) {
	_, standalone := setupCaches(t)
	a := NewOpenAdapter(&fakeStandalone{err: model.ErrNetwork}, standalone, newClock(), discard)

	if _, err := a.Create(context.Background(), model.Reminder{Label: "x"}); err == nil {
		t.Fatal("expected error")
	}
	local, _ := standalone.Load()
	if len(local) != 0 {
		t.Errorf("local = %+v, want empty", local)
	}
}

func TestOpenCreateAdoptsServerID(t *testing.T) {
	_, standalone := setupCaches(t)
	a := NewOpenAdapter(&fakeStandalone{}, standalone, newClock(), discard)

	created, err := a.Create(context.Background(), model.Reminder{Label: "walk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "srv-walk" {
		t.Errorf("id = %q, want srv-walk", created.ID)
	}
	local, _ := standalone.Load()
	if len(local) != 1 || local[0].ID != "srv-walk" {
		t.Errorf("local = %+v, want only the server record", local)
	}
}

func TestOpenDelete(t *testing.T) {
	_, standalone := setupCaches(t)
	standalone.Put(model.Reminder{ID: "s1", Kind: model.SourceStandalone})
	standalone.Put(model.Reminder{ID: "s2", Kind: model.SourceStandalone})

	failing := NewOpenAdapter(&fakeStandalone{err: model.ErrNetwork}, standalone, newClock(), discard)
	if err := failing.Delete(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok, _ := standalone.Get("s1"); !ok {
		t.Error("failed delete was not rolled back")
	}

	gone := NewOpenAdapter(&fakeStandalone{err: model.ErrNotFound}, standalone, newClock(), discard)
	if err := gone.Delete(context.Background(), "s2"); err != nil {
		t.Fatalf("delete not found: %v", err)
	}
	if _, ok, _ := standalone.Get("s2"); ok {
		t.Error("record survived delete")
	}
}

func TestOpenListNetworkFailureServesLocal(t *testing.T) {
	_, standalone := setupCaches(t)
	standalone.Put(model.Reminder{ID: "s1", Kind: model.SourceStandalone})
	a := NewOpenAdapter(&fakeStandalone{err: model.ErrNetwork}, standalone, newClock(), discard)

	b, err := a.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if b.Confirmed || len(b.Reminders) != 1 {
		t.Errorf("batch = %+v, want one unconfirmed record", b)
	}
}

func TestOpenRecord(t *testing.T) {
	_, standalone := setupCaches(t)
	standalone.Put(model.Reminder{ID: "s1", Kind: model.SourceStandalone, Label: "Walk", IsActive: true})
	clk := newClock()
	a := NewOpenAdapter(nil, standalone, clk, discard)

	at := clk.Now()
	got, err := a.Record(context.Background(), "s1", model.ActionTaken, at)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.LastCompletedAt == nil || !got.LastCompletedAt.Equal(at) {
		t.Errorf("last_completed_at = %v, want %v", got.LastCompletedAt, at)
	}
	if got.Label != "Walk" {
		t.Errorf("label = %q, want Walk", got.Label)
	}
}
