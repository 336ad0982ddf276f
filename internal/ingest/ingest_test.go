package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/storage/bolt"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

func openStore(t *testing.T) *bolt.Store {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "restwell.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fakeMonitor struct {
	mu      sync.Mutex
	signals []presence.Signal
	err     error
	fullFor int
}

func (m *fakeMonitor) Submit(sig presence.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fullFor > 0 {
		m.fullFor--
		return presence.ErrQueueFull
	}
	if m.err != nil {
		return m.err
	}
	m.signals = append(m.signals, sig)
	return nil
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"screen on", Envelope{Kind: KindScreen, Timestamp: 1, Type: usage.ScreenOn}, false},
		{"screen without type", Envelope{Kind: KindScreen, Timestamp: 1}, true},
		{"sleep confirmed", Envelope{Kind: KindSleepConfirmed, Timestamp: 1}, false},
		{"app open", Envelope{Kind: KindAppOpen, Timestamp: 1, Package: "com.example"}, false},
		{"app close without package", Envelope{Kind: KindAppClose, Timestamp: 1}, true},
		{"zero timestamp", Envelope{Kind: KindSleepConfirmed}, true},
		{"unknown kind", Envelope{Kind: "vibrate", Timestamp: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEnvelope) {
				t.Errorf("error %v does not wrap ErrInvalidEnvelope", err)
			}
		})
	}
}

func TestRecorderScreen(t *testing.T) {
	store := openStore(t)
	mon := &fakeMonitor{}
	r := NewRecorder(store, mon, zerolog.Nop())
	ctx := context.Background()

	if err := r.Record(ctx, Envelope{Kind: KindScreen, Timestamp: 100, Type: usage.ScreenOn}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.Screen().ListRange(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(events) != 1 || events[0].Type != usage.ScreenOn {
		t.Fatalf("stored events = %+v", events)
	}
	if len(mon.signals) != 1 || mon.signals[0].Kind != presence.SignalScreen || mon.signals[0].Screen != usage.ScreenOn {
		t.Fatalf("submitted signals = %+v", mon.signals)
	}
}

func TestRecorderStoppedMonitorStillStores(t *testing.T) {
	store := openStore(t)
	r := NewRecorder(store, &fakeMonitor{err: presence.ErrNotRunning}, zerolog.Nop())
	ctx := context.Background()

	if err := r.Record(ctx, Envelope{Kind: KindScreen, Timestamp: 100, Type: usage.ScreenOff}); err != nil {
		t.Fatalf("Record with stopped monitor: %v", err)
	}
	events, _ := store.Screen().ListRange(ctx, 0, 1000)
	if len(events) != 1 {
		t.Errorf("expected the event to be stored, got %d", len(events))
	}
}

func TestRecorderQueueFull(t *testing.T) {
	r := NewRecorder(openStore(t), &fakeMonitor{fullFor: 1}, zerolog.Nop())
	err := r.Record(context.Background(), Envelope{Kind: KindSleepConfirmed, Timestamp: 5})
	if !errors.Is(err, presence.ErrQueueFull) {
		t.Errorf("got %v, want ErrQueueFull", err)
	}
}

func TestRecorderAppSessions(t *testing.T) {
	store := openStore(t)
	mon := &fakeMonitor{}
	r := NewRecorder(store, mon, zerolog.Nop())
	ctx := context.Background()

	steps := []Envelope{
		{Kind: KindAppOpen, Timestamp: 100, Package: "com.example.reader"},
		{Kind: KindAppClose, Timestamp: 250, Package: "com.example.reader"},
		// A close with nothing open is ignored.
		{Kind: KindAppClose, Timestamp: 300, Package: "com.example.reader"},
	}
	for _, env := range steps {
		if err := r.Record(ctx, env); err != nil {
			t.Fatalf("Record(%+v): %v", env, err)
		}
	}

	sessions, err := store.AppUsage().ListOverlapping(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("ListOverlapping: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %+v", sessions)
	}
	if sessions[0].Start != 100 || sessions[0].End == nil || *sessions[0].End != 250 {
		t.Errorf("session = %+v", sessions[0])
	}
	if len(mon.signals) != 0 {
		t.Errorf("app events should not reach the monitor, got %+v", mon.signals)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
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
	r.closed = true
	return nil
}

func TestConsumerRun(t *testing.T) {
	store := openStore(t)
	mon := &fakeMonitor{fullFor: 2}
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"kind":"screen","timestamp":100,"type":"on"}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"kind":"app_open","timestamp":120,"package":"com.example"}`)},
		{Offset: 4, Value: []byte(`{"kind":"sleep_confirmed","timestamp":0}`)},
	}}
	c := NewConsumerWithReader(ConsumerConfig{Topic: "signals", GroupID: "restwell", PollTimeout: 10 * time.Millisecond},
		reader, NewRecorder(store, mon, zerolog.Nop()), zerolog.Nop())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if want := []int64{1, 2, 3, 4}; len(reader.committed) != len(want) {
		t.Fatalf("committed offsets = %v, want %v", reader.committed, want)
	}
	if len(mon.signals) != 1 || mon.signals[0].Timestamp != 100 {
		t.Errorf("submitted signals = %+v", mon.signals)
	}
	sessions, _ := store.AppUsage().ListOverlapping(context.Background(), 0, 1000)
	if len(sessions) != 1 || !sessions[0].Open() {
		t.Errorf("sessions = %+v", sessions)
	}

	if err := c.Close(); err != nil || !reader.closed {
		t.Errorf("Close: %v closed=%v", err, reader.closed)
	}
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsumerWithReader(ConsumerConfig{}, &fakeReader{}, NewRecorder(openStore(t), nil, zerolog.Nop()), zerolog.Nop())
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestNewConsumerValidates(t *testing.T) {
	rec := NewRecorder(nil, nil, zerolog.Nop())
	tests := []ConsumerConfig{
		{Topic: "signals", GroupID: "g"},
		{Brokers: []string{"localhost:9092"}, GroupID: "g"},
		{Brokers: []string{"localhost:9092"}, Topic: "signals"},
	}
	for _, cfg := range tests {
		if _, err := NewConsumer(cfg, rec, zerolog.Nop()); err == nil {
			t.Errorf("NewConsumer(%+v) should fail", cfg)
		}
	}
}
