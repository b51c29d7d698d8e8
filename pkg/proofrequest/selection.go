package proofrequest

import (
	"context"
	"sort"
)

// Selection is a set of record ids that survives paging. It is owned by the
// caller and is not safe for concurrent use.
type Selection struct {
	ids map[string]struct{}

	// lastAdded remembers what the previous SelectAllVisible call added so
	// that an immediate repeat on the same page undoes exactly that call.
	lastPage  []string
	lastAdded []string
}

func NewSelection(ids ...string) *Selection {
	s := &Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	s.forget()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// SelectAllVisible acts only on the ids of the current page: when all of them
// are selected they are removed, otherwise the missing ones are added.
func (s *Selection) SelectAllVisible(pageIDs []string) {
	if s.AllSelected(pageIDs) {
		remove := pageIDs
		if s.lastAdded != nil && sameIDs(s.lastPage, pageIDs) {
			remove = s.lastAdded
		}
		for _, id := range remove {
			delete(s.ids, id)
		}
		s.forget()
		return
	}

	added := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		added = append(added, id)
	}
	s.lastPage = append([]string(nil), pageIDs...)
	s.lastAdded = added
}

func (s *Selection) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// AllSelected reports whether every id in pageIDs is selected. An empty page
// counts as fully selected.
func (s *Selection) AllSelected(pageIDs []string) bool {
	for _, id := range pageIDs {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Remove drops ids from the selection, typically the ones a bulk action
// succeeded on.
func (s *Selection) Remove(ids ...string) {
	s.forget()
	for _, id := range ids {
		delete(s.ids, id)
	}
}

func (s *Selection) Clear() {
	s.forget()
	s.ids = make(map[string]struct{})
}

func (s *Selection) Len() int { return len(s.ids) }

// IDs returns the selected ids in lexical order.
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type SelectionState struct {
	Selected            []string `json:"selected"`
	Count               int      `json:"count"`
	AllVisibleSelected  bool     `json:"allVisibleSelected"`
	SomeVisibleSelected bool     `json:"someVisibleSelected"`
}

// State describes the selection relative to the ids currently on screen.
func (s *Selection) State(pageIDs []string) SelectionState {
	some := false
	for _, id := range pageIDs {
		if s.Contains(id) {
			some = true
			break
		}
	}
	return SelectionState{
		Selected:            s.IDs(),
		Count:               s.Len(),
		AllVisibleSelected:  len(pageIDs) > 0 && s.AllSelected(pageIDs),
		SomeVisibleSelected: some,
	}
}

func (s *Selection) forget() {
	s.lastPage = nil
	s.lastAdded = nil
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type BulkAction string

const (
	BulkResend BulkAction = "resend"
	BulkCancel BulkAction = "cancel"
	BulkExport BulkAction = "export"
)

func ParseBulkAction(raw string) (BulkAction, error) {
	switch a := BulkAction(raw); a {
	case BulkResend, BulkCancel, BulkExport:
		return a, nil
	}
	return "", ErrUnknownAction
}

type BulkFailure struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// BulkResult separates per-id outcomes. Records holds the resulting records
// of succeeded ids, in request order, with their effective status.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
	Records   []View        `json:"records,omitempty"`
}

func (r BulkResult) Partial() bool {
	return len(r.Failed) > 0 && len(r.Succeeded) > 0
}

func (r *BulkResult) fail(id string, err error) {
	r.Failed = append(r.Failed, BulkFailure{ID: id, Reason: failureReason(err), Message: err.Error()})
}

// Coordinator applies bulk actions one id at a time through the store. A
// failing id never aborts the rest.
type Coordinator struct {
	store Store
	now   Clock
}

func NewCoordinator(store Store, now Clock) *Coordinator {
	if now == nil {
		now = SystemClock
	}
	return &Coordinator{store: store, now: now}
}

func (c *Coordinator) BulkApply(ctx context.Context, action BulkAction, ids []string, actor string) (BulkResult, error) {
	ids = dedupe(ids)
	result := BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}

	var transition Transition
	switch action {
	case BulkExport:
		return c.export(ctx, ids, result)
	case BulkResend:
		transition = Transition{Event: EventResend, Actor: actor, At: c.now()}
	case BulkCancel:
		transition = Transition{Event: EventDeny, Actor: actor, Reason: ReasonCancelled, At: c.now()}
	default:
		return result, ErrUnknownAction
	}

	outcomes, err := c.store.BulkApplyTransition(ctx, ids, transition)
	if err != nil {
		for _, id := range ids {
			result.fail(id, err)
		}
		return result, nil
	}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			result.fail(outcome.ID, outcome.Err)
			continue
		}
		result.Succeeded = append(result.Succeeded, outcome.ID)
		result.Records = append(result.Records, NewView(outcome.Record, transition.At))
	}
	return result, nil
}

func (c *Coordinator) export(ctx context.Context, ids []string, result BulkResult) (BulkResult, error) {
	collection, err := c.store.List(ctx)
	if err != nil {
		for _, id := range ids {
			result.fail(id, err)
		}
		return result, nil
	}
	now := c.now()
	byID := make(map[string]Record, len(collection))
	for _, r := range collection {
		byID[r.ID] = r
	}
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			result.fail(id, ErrNotFound)
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
		result.Records = append(result.Records, NewView(r, now))
	}
	return result, nil
}
