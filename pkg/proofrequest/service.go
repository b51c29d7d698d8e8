package proofrequest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/proof-portal/pkg/common/logger"
	"github.com/synaptica-ai/proof-portal/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	eventSource      = "proof-service"
	eventTypePrefix  = "proof_request."
	eventInstanceKey = "instance_id"

	attachmentWorkers       = 8
	defaultAttachmentBudget = 2 * time.Second
)

type Service struct {
	store         Store
	attachments   AttachmentStore
	templates     *TemplateCatalog
	coordinator   *Coordinator
	events        EventPublisher
	now           Clock
	defaultExpiry time.Duration
	instanceID    string

	attachmentBudget time.Duration
}

type Option func(*Service)

// WithInstanceID stamps published events so this instance can ignore its own
// events when they come back from the bus.
func WithInstanceID(id string) Option {
	return func(s *Service) { s.instanceID = id }
}

// WithAttachmentBudget bounds the time one read spends resolving attachment
// URLs. Links not resolved in time are left out.
func WithAttachmentBudget(d time.Duration) Option {
	return func(s *Service) { s.attachmentBudget = d }
}

func WithClock(now Clock) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithDefaultExpiry sets the expiry applied to drafts that carry none.
func WithDefaultExpiry(d time.Duration) Option {
	return func(s *Service) { s.defaultExpiry = d }
}

func NewService(store Store, attachments AttachmentStore, templates *TemplateCatalog, opts ...Option) *Service {
	s := &Service{
		store:       store,
		attachments: attachments,
		templates:   templates,
		now:         SystemClock,

		attachmentBudget: defaultAttachmentBudget,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coordinator = NewCoordinator(store, s.now)
	return s
}

func (s *Service) Query(ctx context.Context, params QueryParams) (Page, error) {
	start := time.Now()
	collection, err := s.store.List(ctx)
	if err != nil {
		return Page{}, err
	}
	page := QueryPage(collection, params, s.now())
	s.resolveAttachments(ctx, page.Items)
	metrics.ObserveQuery(time.Since(start).Seconds())
	return page, nil
}

// Matching returns every record the query matches, ignoring pagination.
func (s *Service) Matching(ctx context.Context, params QueryParams) ([]View, error) {
	collection, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return Select(collection, params, s.now()), nil
}

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	views := []View{NewView(rec, s.now())}
	s.resolveAttachments(ctx, views)
	return views[0], nil
}

func (s *Service) Stats(ctx context.Context) (Summary, error) {
	collection, err := s.store.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Stats(collection, s.now()), nil
}

func (s *Service) Templates() []Template {
	return s.templates.List()
}

func (s *Service) Create(ctx context.Context, draft Draft, actor string) (Record, error) {
	return s.create(ctx, draft, actor, "direct", "")
}

func (s *Service) CreateFromTemplate(ctx context.Context, templateID string, overrides TemplateOverrides, actor string) (Record, error) {
	draft, err := s.templates.Expand(templateID, overrides)
	if err != nil {
		return Record{}, err
	}
	return s.create(ctx, draft, actor, "template", templateID)
}

func (s *Service) create(ctx context.Context, draft Draft, actor, kind, templateID string) (Record, error) {
	now := s.now()
	if draft.ExpiresAt == nil && s.defaultExpiry > 0 {
		expires := now.Add(s.defaultExpiry)
		draft.ExpiresAt = &expires
	}

	rec, err := NewRecord(draft, uuid.New().String(), actor, now)
	if err != nil {
		return Record{}, err
	}
	created, err := s.store.Create(ctx, rec)
	if err != nil {
		return Record{}, err
	}

	metrics.ObserveCreated(kind)
	logger.Log.WithFields(logrus.Fields{
		"proof_request_id": created.ID,
		"actor":            actorOrSystem(actor),
		"source":           kind,
		"template_id":      templateID,
	}).Info("proof request created")
	s.publish(ctx, eventTypePrefix+"created", created, actor)
	return created, nil
}

// Transition applies one lifecycle event. Failures leave the stored record
// untouched.
func (s *Service) Transition(ctx context.Context, id string, event Event, actor, reason string) (Record, error) {
	if !event.Valid() {
		return Record{}, ErrUnknownEvent
	}
	rec, err := s.store.ApplyTransition(ctx, id, Transition{
		Event:  event,
		Actor:  actor,
		Reason: reason,
		At:     s.now(),
	})
	metrics.ObserveTransition(string(event), err == nil)

	entry := logger.Log.WithFields(logrus.Fields{
		"proof_request_id": id,
		"event":            event,
		"actor":            actorOrSystem(actor),
		eventInstanceKey:   s.instanceID,
	})
	if err != nil {
		entry.WithError(err).Warn("proof request transition rejected")
		return Record{}, err
	}
	entry.WithField("status", rec.Status).Info("proof request transitioned")
	s.publish(ctx, eventTypePrefix+string(event), rec, actor)
	return rec, nil
}

func (s *Service) BulkApply(ctx context.Context, action BulkAction, ids []string, actor string) (BulkResult, error) {
	result, err := s.coordinator.BulkApply(ctx, action, ids, actor)
	if err != nil {
		return result, err
	}
	metrics.ObserveBulk(string(action), len(result.Succeeded), len(result.Failed))

	logger.Log.WithFields(logrus.Fields{
		"action":    action,
		"actor":     actorOrSystem(actor),
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
	}).Info("bulk action applied")

	if action != BulkExport {
		for _, view := range result.Records {
			s.publish(ctx, eventTypePrefix+string(bulkEvent(action)), view.Record, actor)
		}
	}
	return result, nil
}

// PersistExpired writes markExpired for every pending request whose expiry
// has passed. Reads never need it; it only makes storage agree with the
// effective status.
func (s *Service) PersistExpired(ctx context.Context, actor string) ([]Record, error) {
	collection, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var lapsed []string
	for _, r := range collection {
		if IsLapsed(r, now) {
			lapsed = append(lapsed, r.ID)
		}
	}
	if len(lapsed) == 0 {
		return []Record{}, nil
	}

	results, err := s.store.BulkApplyTransition(ctx, lapsed, Transition{Event: EventMarkExpired, Actor: actor, At: now})
	if err != nil {
		return nil, err
	}
	expired := make([]Record, 0, len(results))
	for _, res := range results {
		metrics.ObserveTransition(string(EventMarkExpired), res.Err == nil)
		if res.Err != nil {
			// A concurrent writer may have resolved it first.
			var transitionErr *InvalidTransitionError
			if !errors.As(res.Err, &transitionErr) {
				logger.Log.WithError(res.Err).WithField("proof_request_id", res.ID).Warn("failed to persist expiry")
			}
			continue
		}
		expired = append(expired, res.Record)
		s.publish(ctx, eventTypePrefix+string(EventMarkExpired), res.Record, actor)
	}
	return expired, nil
}

// resolveAttachments looks up each distinct reference once, a few at a time,
// within the attachment budget.
func (s *Service) resolveAttachments(ctx context.Context, views []View) {
	if s.attachments == nil {
		return
	}
	refs := make(map[string]struct{})
	for _, v := range views {
		if v.AttachmentRef != "" {
			refs[v.AttachmentRef] = struct{}{}
		}
	}
	if len(refs) == 0 {
		return
	}

	if s.attachmentBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.attachmentBudget)
		defer cancel()
	}

	var (
		mu       sync.Mutex
		resolved = make(map[string]string, len(refs))
		g        errgroup.Group
	)
	g.SetLimit(attachmentWorkers)
	for ref := range refs {
		ref := ref
		g.Go(func() error {
			if url, ok := s.attachments.ResolveURL(ctx, ref); ok {
				mu.Lock()
				resolved[ref] = url
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range views {
		if url, ok := resolved[views[i].AttachmentRef]; ok {
			views[i].AttachmentURL = &url
		}
	}
}

func (s *Service) publish(ctx context.Context, eventType string, rec Record, actor string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishEvent(ctx, eventType, eventSource, map[string]interface{}{
		"proof_request_id": rec.ID,
		"patient_id":       rec.Patient.ID,
		"status":           string(rec.Status),
		"actor":            actorOrSystem(actor),
		eventInstanceKey:   s.instanceID,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish proof request event")
	}
}

func bulkEvent(action BulkAction) Event {
	if action == BulkCancel {
		return EventDeny
	}
	return EventResend
}
