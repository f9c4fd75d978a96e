package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
	"github.com/tjfontaine/trajectory-deriver/internal/derive"
	"github.com/tjfontaine/trajectory-deriver/internal/storage"
)

type memStore struct {
	mu     sync.Mutex
	saved  map[string]*derive.Result
	failOn string
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*derive.Result)}
}

func (m *memStore) SaveDerivation(_ context.Context, res *derive.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.Session.SessionID == m.failOn {
		return fmt.Errorf("disk full")
	}
	m.saved[res.Session.SessionID] = res
	return nil
}

func (m *memStore) GetSession(context.Context, string) (*domain.Session, error) {
	return nil, fmt.Errorf("not implemented")
}
func (m *memStore) ListSessions(context.Context, storage.ListOptions) ([]domain.Session, error) {
	return nil, fmt.Errorf("not implemented")
}
func (m *memStore) ListTurns(context.Context, string) ([]domain.Turn, error) { return nil, nil }
func (m *memStore) ListModelSpans(context.Context, string) ([]domain.ModelSpan, error) {
	return nil, nil
}
func (m *memStore) ListToolIntervals(context.Context, string) ([]domain.ToolInterval, error) {
	return nil, nil
}
func (m *memStore) ListErrors(context.Context, string) ([]domain.ErrorRecord, error) {
	return nil, nil
}
func (m *memStore) ListDiagnostics(context.Context, string) ([]domain.Diagnostic, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }

func sessionEvents(id string, n int) []domain.RawEvent {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []domain.RawEvent{
		{SessionID: id, Kind: domain.EventTurnStart, Timestamp: base},
	}
	for i := 0; i < n; i++ {
		events = append(events, domain.RawEvent{
			SessionID: id, Kind: domain.EventUserMsg,
			Timestamp: base.Add(time.Duration(i+1) * time.Second),
		})
	}
	events = append(events, domain.RawEvent{
		SessionID: id, Kind: domain.EventSessionEnd,
		Timestamp: base.Add(time.Duration(n+1) * time.Second),
	})
	return events
}

func TestRunBatch(t *testing.T) {
	store := newMemStore()
	r := New(store, derive.DefaultOptions(), 3, nil)

	sessions := map[string][]domain.RawEvent{
		"conv-a": sessionEvents("conv-a", 2),
		"conv-b": sessionEvents("conv-b", 4),
		"conv-c": sessionEvents("conv-c", 1),
	}

	report, err := r.RunBatch(context.Background(), sessions)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Derived)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Outcomes, 3)
	// Outcomes come back sorted regardless of completion order.
	assert.Equal(t, "conv-a", report.Outcomes[0].SessionID)
	assert.Equal(t, "conv-b", report.Outcomes[1].SessionID)
	assert.Equal(t, "conv-c", report.Outcomes[2].SessionID)
	assert.Len(t, store.saved, 3)
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	store := newMemStore()
	store.failOn = "conv-bad"
	r := New(store, derive.DefaultOptions(), 2, nil)

	sessions := map[string][]domain.RawEvent{
		"conv-bad": sessionEvents("conv-bad", 1),
		"conv-ok":  sessionEvents("conv-ok", 1),
	}

	report, err := r.RunBatch(context.Background(), sessions)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Derived)
	assert.Equal(t, 1, report.Failed)
	require.Error(t, report.Outcomes[0].Err)
	assert.Contains(t, report.Outcomes[0].ErrString, "disk full")
	require.NoError(t, report.Outcomes[1].Err)
	assert.Contains(t, store.saved, "conv-ok")
}

func TestRunBatch_DeterministicAcrossWorkerCounts(t *testing.T) {
	sessions := map[string][]domain.RawEvent{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("conv-%d", i)
		sessions[id] = sessionEvents(id, i+1)
	}

	var baseline map[string]*derive.Result
	for _, workers := range []int{1, 4, 8} {
		store := newMemStore()
		r := New(store, derive.DefaultOptions(), workers, nil)
		_, err := r.RunBatch(context.Background(), sessions)
		require.NoError(t, err)

		if baseline == nil {
			baseline = store.saved
			continue
		}
		assert.Equal(t, baseline, store.saved, "workers=%d", workers)
	}
}

func TestRunBatch_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(newMemStore(), derive.DefaultOptions(), 1, nil)
	_, err := r.RunBatch(ctx, map[string][]domain.RawEvent{
		"conv-a": sessionEvents("conv-a", 1),
	})
	require.Error(t, err)
}

func TestDeriveSession(t *testing.T) {
	store := newMemStore()
	r := New(store, derive.DefaultOptions(), 1, nil)

	err := r.DeriveSession(context.Background(), "conv-x", sessionEvents("conv-x", 2))
	require.NoError(t, err)
	assert.Contains(t, store.saved, "conv-x")
}
