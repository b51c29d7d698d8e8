package proofrequest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionToggle(t *testing.T) {
	s := NewSelection()
	assert.True(t, s.Toggle("a"))
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Toggle("a"))
	assert.Equal(t, 0, s.Len())
}

func TestSelectAllVisibleOnlyTouchesVisibleIDs(t *testing.T) {
	s := NewSelection("other-page")
	page := []string{"a", "b", "c"}

	s.SelectAllVisible(page)
	assert.Equal(t, []string{"a", "b", "c", "other-page"}, s.IDs())

	s.Clear()
	s.Toggle("a")
	s.Toggle("b")
	s.Toggle("c")
	s.Toggle("other-page")
	s.SelectAllVisible(page)
	assert.Equal(t, []string{"other-page"}, s.IDs())
}

func TestSelectAllVisibleTwiceRestoresSelection(t *testing.T) {
	page := []string{"a", "b", "c"}
	cases := map[string][]string{
		"empty":        {},
		"partial":      {"a", "x"},
		"full page":    {"a", "b", "c"},
		"off page":     {"x", "y"},
		"page and off": {"a", "b", "c", "x"},
	}
	for name, initial := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewSelection(initial...)
			before := s.IDs()

			s.SelectAllVisible(page)
			s.SelectAllVisible(page)

			assert.Equal(t, before, s.IDs())
		})
	}
}

func TestSelectionState(t *testing.T) {
	s := NewSelection("a")
	state := s.State([]string{"a", "b"})
	assert.False(t, state.AllVisibleSelected)
	assert.True(t, state.SomeVisibleSelected)
	assert.Equal(t, 1, state.Count)

	s.Toggle("b")
	assert.True(t, s.State([]string{"a", "b"}).AllVisibleSelected)
	assert.False(t, s.State(nil).AllVisibleSelected)
}

func TestBulkCancelPartialSuccess(t *testing.T) {
	store := NewMemoryStore(
		pendingRecord("id1", 0),
		withStatus(pendingRecord("id2", 1), StatusApproved),
	)
	coordinator := NewCoordinator(store, fixedClock(baseTime))

	result, err := coordinator.BulkApply(context.Background(), BulkCancel, []string{"id1", "id2"}, "dr-grey")
	require.NoError(t, err)

	assert.Equal(t, []string{"id1"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "id2", result.Failed[0].ID)
	assert.Equal(t, ReasonInvalidTransition, result.Failed[0].Reason)
	assert.True(t, result.Partial())

	id1, err := store.Get(context.Background(), "id1")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, id1.Status)
	require.Len(t, id1.AuditLog, 2)
	assert.Equal(t, "deny", id1.AuditLog[1].Action)
	assert.Equal(t, ReasonCancelled, id1.AuditLog[1].Detail)

	id2, err := store.Get(context.Background(), "id2")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, id2.Status)
	assert.Len(t, id2.AuditLog, 1)
}

func TestBulkResendDedupesAndReportsUnknownIDs(t *testing.T) {
	store := NewMemoryStore(pendingRecord("id1", 0))
	coordinator := NewCoordinator(store, fixedClock(baseTime))

	result, err := coordinator.BulkApply(context.Background(), BulkResend, []string{"id1", "id1", "ghost"}, "dr-grey")
	require.NoError(t, err)

	assert.Equal(t, []string{"id1"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, BulkFailure{ID: "ghost", Reason: ReasonNotFound, Message: ErrNotFound.Error()}, result.Failed[0])

	id1, _ := store.Get(context.Background(), "id1")
	assert.Len(t, id1.AuditLog, 2)
	assert.Equal(t, StatusPending, id1.Status)
}

func TestBulkExportIsReadOnly(t *testing.T) {
	store := NewMemoryStore(pendingRecord("id1", 0), withStatus(pendingRecord("id2", 1), StatusDenied))
	coordinator := NewCoordinator(store, fixedClock(baseTime))

	result, err := coordinator.BulkApply(context.Background(), BulkExport, []string{"id2", "id1"}, "dr-grey")
	require.NoError(t, err)

	assert.Equal(t, []string{"id2", "id1"}, result.Succeeded)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "id2", result.Records[0].ID)

	after, _ := store.List(context.Background())
	for _, r := range after {
		assert.Len(t, r.AuditLog, 1)
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s failingStore) BulkApplyTransition(ctx context.Context, ids []string, t Transition) ([]TransitionResult, error) {
	return nil, s.err
}

func TestBulkStoreFailureFailsEveryID(t *testing.T) {
	store := failingStore{MemoryStore: NewMemoryStore(pendingRecord("id1", 0)), err: errors.New("connection reset")}
	coordinator := NewCoordinator(store, fixedClock(baseTime))

	result, err := coordinator.BulkApply(context.Background(), BulkCancel, []string{"id1", "id2"}, "dr-grey")
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 2)
	for _, f := range result.Failed {
		assert.Equal(t, ReasonStoreError, f.Reason)
	}
}

func TestBulkUnknownAction(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryStore(), fixedClock(baseTime))
	_, err := coordinator.BulkApply(context.Background(), "archive", []string{"id1"}, "")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestBulkExportReportsEffectiveStatus(t *testing.T) {
	now := baseTime.Add(48 * time.Hour)
	lapsed := withExpiry(pendingRecord("lapsed", 0), baseTime.Add(time.Hour))
	store := NewMemoryStore(lapsed)
	coordinator := NewCoordinator(store, fixedClock(now))

	result, err := coordinator.BulkApply(context.Background(), BulkExport, []string{"lapsed"}, "dr-grey")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, StatusExpired, result.Records[0].EffectiveStatus)
	assert.Equal(t, StatusPending, result.Records[0].Status)

	payload, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"effectiveStatus":"expired"`)
}
