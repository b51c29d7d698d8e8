package proofrequest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	args := m.Called(ctx, eventType, source, data)
	return args.Error(0)
}

type stubAttachments map[string]string

func (s stubAttachments) ResolveURL(ctx context.Context, ref string) (string, bool) {
	url, ok := s[ref]
	return url, ok
}

func newTestService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock(baseTime.Add(time.Hour)))}, opts...)
	return NewService(store, stubAttachments{"scan-1": "https://files.example.com/scan-1"}, defaultCatalog(t), opts...)
}

func TestServiceCreatePublishesEvent(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, "proof_request.created", eventSource, mock.MatchedBy(func(data map[string]interface{}) bool {
		return data["patient_id"] == "p-1" && data["status"] == "pending"
	})).Return(nil).Once()

	store := NewMemoryStore()
	service := newTestService(t, store, WithPublisher(publisher))

	rec, err := service.Create(context.Background(), validDraft(), "dr-grey")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	require.Len(t, rec.AuditLog, 1)
	assert.Equal(t, "dr-grey", rec.AuditLog[0].Actor)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
	publisher.AssertExpectations(t)
}

func TestServiceCreateRejectsInvalidDraft(t *testing.T) {
	publisher := &mockPublisher{}
	store := NewMemoryStore()
	service := newTestService(t, store, WithPublisher(publisher))

	draft := validDraft()
	draft.RequestedFields = nil
	_, err := service.Create(context.Background(), draft, "dr-grey")

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, ValidationNoFieldsSelected, validationErr.Code)
	all, _ := store.List(context.Background())
	assert.Empty(t, all)
	publisher.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceCreateAppliesDefaultExpiry(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), WithDefaultExpiry(14*24*time.Hour))

	rec, err := service.Create(context.Background(), validDraft(), "dr-grey")
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, baseTime.Add(time.Hour).Add(14*24*time.Hour), *rec.ExpiresAt)
}

func TestServiceCreateFromTemplate(t *testing.T) {
	service := newTestService(t, NewMemoryStore())
	patient := PatientRef{ID: "p-9", Name: "Grace Hopper"}

	rec, err := service.CreateFromTemplate(context.Background(), "insurance-verification", TemplateOverrides{Patient: &patient}, "dr-grey")
	require.NoError(t, err)
	assert.Equal(t, PurposeInsuranceClaim, rec.Purpose)
	assert.Equal(t, "p-9", rec.Patient.ID)

	_, err = service.CreateFromTemplate(context.Background(), "unknown", TemplateOverrides{Patient: &patient}, "dr-grey")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = service.CreateFromTemplate(context.Background(), "insurance-verification", TemplateOverrides{}, "dr-grey")
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, ValidationMissingPatient, validationErr.Code)
}

func TestServiceTransition(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, "proof_request.approve", eventSource, mock.Anything).Return(nil).Once()

	store := NewMemoryStore(pendingRecord("r1", 0), withStatus(pendingRecord("r2", 1), StatusDenied))
	service := newTestService(t, store, WithPublisher(publisher))

	rec, err := service.Transition(context.Background(), "r1", EventApprove, "dr-grey", "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, rec.Status)

	_, err = service.Transition(context.Background(), "r2", EventApprove, "dr-grey", "")
	var transitionErr *InvalidTransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, StatusDenied, transitionErr.From)

	_, err = service.Transition(context.Background(), "missing", EventApprove, "dr-grey", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = service.Transition(context.Background(), "r1", "archive", "dr-grey", "")
	assert.ErrorIs(t, err, ErrUnknownEvent)

	publisher.AssertExpectations(t)
}

func TestServicePublishFailureDoesNotFailTransition(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	service := newTestService(t, NewMemoryStore(pendingRecord("r1", 0)), WithPublisher(publisher))
	rec, err := service.Transition(context.Background(), "r1", EventResend, "dr-grey", "")
	require.NoError(t, err)
	assert.NotNil(t, rec.LastSentAt)
}

func TestServiceQueryResolvesAttachments(t *testing.T) {
	withScan := pendingRecord("r1", 0)
	withScan.AttachmentRef = "scan-1"
	withMissing := pendingRecord("r2", 1)
	withMissing.AttachmentRef = "scan-404"

	service := newTestService(t, NewMemoryStore(withScan, withMissing, pendingRecord("r3", 2)))
	page, err := service.Query(context.Background(), DefaultQuery())
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	byID := map[string]View{}
	for _, v := range page.Items {
		byID[v.ID] = v
	}
	require.NotNil(t, byID["r1"].AttachmentURL)
	assert.Equal(t, "https://files.example.com/scan-1", *byID["r1"].AttachmentURL)
	assert.Nil(t, byID["r2"].AttachmentURL)
	assert.Nil(t, byID["r3"].AttachmentURL)
}

func TestServicePersistExpired(t *testing.T) {
	lapsed := withExpiry(pendingRecord("lapsed", 0), baseTime.Add(30*time.Minute))
	open := withExpiry(pendingRecord("open", 1), baseTime.Add(24*time.Hour))
	store := NewMemoryStore(lapsed, open)
	service := newTestService(t, store)

	before, err := service.Get(context.Background(), "lapsed")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, before.Status)
	assert.Equal(t, StatusExpired, before.EffectiveStatus)

	expired, err := service.PersistExpired(context.Background(), "scheduler")
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "lapsed", expired[0].ID)

	stored, _ := store.Get(context.Background(), "lapsed")
	assert.Equal(t, StatusExpired, stored.Status)
	assert.Equal(t, "markExpired", stored.AuditLog[len(stored.AuditLog)-1].Action)

	again, err := service.PersistExpired(context.Background(), "scheduler")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestServiceBulkCancelPublishesPerSuccess(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, "proof_request.deny", eventSource, mock.Anything).Return(nil).Once()

	store := NewMemoryStore(pendingRecord("id1", 0), withStatus(pendingRecord("id2", 1), StatusApproved))
	service := newTestService(t, store, WithPublisher(publisher))

	result, err := service.BulkApply(context.Background(), BulkCancel, []string{"id1", "id2"}, "dr-grey")
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, result.Succeeded)
	assert.Len(t, result.Failed, 1)
	publisher.AssertExpectations(t)
}

func TestServiceStats(t *testing.T) {
	service := newTestService(t, NewMemoryStore(pendingRecord("a", 0), withStatus(pendingRecord("b", 1), StatusApproved)))
	summary, err := service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Pending: 1, Approved: 1}, summary)
}

func TestServiceEventsCarryInstanceID(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishEvent", mock.Anything, "proof_request.resend", eventSource, mock.MatchedBy(func(data map[string]interface{}) bool {
		return data[eventInstanceKey] == "instance-a" && data["proof_request_id"] == "r1"
	})).Return(nil).Once()

	service := newTestService(t, NewMemoryStore(pendingRecord("r1", 0)), WithPublisher(publisher), WithInstanceID("instance-a"))
	_, err := service.Transition(context.Background(), "r1", EventResend, "dr-grey", "")
	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

type countingAttachments struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingAttachments) ResolveURL(ctx context.Context, ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[ref]++
	return "https://files.example.com/" + ref, true
}

type stalledAttachments struct{}

func (stalledAttachments) ResolveURL(ctx context.Context, ref string) (string, bool) {
	<-ctx.Done()
	return "", false
}

func TestServiceResolvesEachAttachmentOnce(t *testing.T) {
	var records []Record
	for i := 0; i < 20; i++ {
		r := pendingRecord(fmt.Sprintf("r%02d", i), i)
		r.AttachmentRef = fmt.Sprintf("scan-%d", i%3)
		records = append(records, r)
	}
	attachments := &countingAttachments{calls: map[string]int{}}
	service := NewService(NewMemoryStore(records...), attachments, defaultCatalog(t), WithClock(fixedClock(baseTime)))

	page, err := service.Query(context.Background(), DefaultQuery().WithPageSize(20))
	require.NoError(t, err)
	require.Len(t, page.Items, 20)
	for _, item := range page.Items {
		require.NotNil(t, item.AttachmentURL)
		assert.Equal(t, "https://files.example.com/"+item.AttachmentRef, *item.AttachmentURL)
	}
	assert.Equal(t, map[string]int{"scan-0": 1, "scan-1": 1, "scan-2": 1}, attachments.calls)
}

func TestServiceAttachmentBudgetBoundsReads(t *testing.T) {
	withScan := pendingRecord("r1", 0)
	withScan.AttachmentRef = "scan-1"
	service := NewService(NewMemoryStore(withScan), stalledAttachments{}, defaultCatalog(t),
		WithClock(fixedClock(baseTime)), WithAttachmentBudget(50*time.Millisecond))

	start := time.Now()
	page, err := service.Query(context.Background(), DefaultQuery())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].AttachmentURL)
}
