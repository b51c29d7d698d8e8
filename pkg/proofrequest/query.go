package proofrequest

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type SortKey string

const (
	SortCreatedAt   SortKey = "createdAt"
	SortPatientName SortKey = "patientName"
	SortPurpose     SortKey = "purpose"
	SortUrgency     SortKey = "urgency"
	SortStatus      SortKey = "status"
)

func ParseSortKey(raw string) (SortKey, error) {
	switch k := SortKey(raw); k {
	case SortCreatedAt, SortPatientName, SortPurpose, SortUrgency, SortStatus:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", raw)
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

func ParseSortDirection(raw string) (SortDirection, error) {
	switch d := SortDirection(raw); d {
	case SortAsc, SortDesc:
		return d, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", raw)
}

// FilterAll disables a status or urgency filter.
const FilterAll = "all"

const DefaultPageSize = 10

type QueryParams struct {
	Search        string        `json:"search"`
	StatusFilter  string        `json:"status"`
	UrgencyFilter string        `json:"urgency"`
	SortKey       SortKey       `json:"sort"`
	SortDirection SortDirection `json:"direction"`
	Page          int           `json:"page"`
	PageSize      int           `json:"pageSize"`
}

// DefaultQuery lists everything newest first.
func DefaultQuery() QueryParams {
	return QueryParams{
		StatusFilter:  FilterAll,
		UrgencyFilter: FilterAll,
		SortKey:       SortCreatedAt,
		SortDirection: SortDesc,
		Page:          1,
		PageSize:      DefaultPageSize,
	}
}

// WithPageSize changes the page size and returns to the first page.
func (p QueryParams) WithPageSize(size int) QueryParams {
	if size != p.PageSize {
		p.Page = 1
	}
	p.PageSize = size
	return p
}

// WithSearch, WithStatusFilter and WithUrgencyFilter change the matching set,
// so they also return to the first page.
func (p QueryParams) WithSearch(search string) QueryParams {
	p.Search = search
	p.Page = 1
	return p
}

func (p QueryParams) WithStatusFilter(filter string) QueryParams {
	p.StatusFilter = filter
	p.Page = 1
	return p
}

func (p QueryParams) WithUrgencyFilter(filter string) QueryParams {
	p.UrgencyFilter = filter
	p.Page = 1
	return p
}

type Page struct {
	Items         []View `json:"items"`
	FilteredCount int    `json:"filteredCount"`
	TotalPages    int    `json:"totalPages"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
}

// IDs returns the ids of the records on this page, in display order.
func (p Page) IDs() []string {
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.ID
	}
	return ids
}

// QueryPage runs search, filter, sort and pagination in that order over the
// whole collection. The input slice is not modified.
func QueryPage(collection []Record, params QueryParams, now time.Time) Page {
	matched := Select(collection, params, now)

	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	page := params.Page
	if page < 1 {
		page = 1
	}

	total := len(matched)
	result := Page{
		Items:         []View{},
		FilteredCount: total,
		TotalPages:    total / size,
		Page:          page,
		PageSize:      size,
	}

	if total%size != 0 {
		result.TotalPages++
	}

	// Compared before multiplying so a huge page number cannot overflow.
	if page > result.TotalPages {
		return result
	}
	start := (page - 1) * size
	end := min(start+size, total)
	result.Items = append(result.Items, matched[start:end]...)
	return result
}

// Select runs the search, filter and sort stages and returns every matching
// record. Exports use it so their contents match the displayed count.
func Select(collection []Record, params QueryParams, now time.Time) []View {
	needle := strings.ToLower(strings.TrimSpace(params.Search))
	matched := make([]View, 0, len(collection))
	for _, r := range collection {
		if !matchesSearch(r, needle) {
			continue
		}
		view := NewView(r, now)
		if !matchesFilter(view, params) {
			continue
		}
		matched = append(matched, view)
	}

	if params.SortKey != "" {
		compare := comparator(params.SortKey)
		if params.SortDirection == SortDesc {
			asc := compare
			compare = func(a, b View) int { return asc(b, a) }
		}
		slices.SortStableFunc(matched, compare)
	}
	return matched
}

func matchesSearch(r Record, needle string) bool {
	if needle == "" {
		return true
	}
	for _, field := range []string{r.Patient.Name, r.Purpose, r.ID, r.Patient.Email} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func matchesFilter(v View, params QueryParams) bool {
	if params.StatusFilter != "" && params.StatusFilter != FilterAll && string(v.EffectiveStatus) != params.StatusFilter {
		return false
	}
	if params.UrgencyFilter != "" && params.UrgencyFilter != FilterAll && string(v.Urgency) != params.UrgencyFilter {
		return false
	}
	return true
}

// comparator orders views ascending by key. Enum keys compare by their raw
// token, not by severity.
func comparator(key SortKey) func(a, b View) int {
	switch key {
	case SortPatientName:
		return func(a, b View) int { return strings.Compare(a.Patient.Name, b.Patient.Name) }
	case SortPurpose:
		return func(a, b View) int { return strings.Compare(a.Purpose, b.Purpose) }
	case SortUrgency:
		return func(a, b View) int { return strings.Compare(string(a.Urgency), string(b.Urgency)) }
	case SortStatus:
		return func(a, b View) int { return strings.Compare(string(a.EffectiveStatus), string(b.EffectiveStatus)) }
	default:
		return func(a, b View) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
}

type Summary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Expired  int `json:"expired"`
}

// Stats counts records by effective status.
func Stats(collection []Record, now time.Time) Summary {
	var s Summary
	for _, r := range collection {
		s.Total++
		switch EffectiveStatus(r, now) {
		case StatusPending:
			s.Pending++
		case StatusApproved:
			s.Approved++
		case StatusDenied:
			s.Denied++
		case StatusExpired:
			s.Expired++
		}
	}
	return s
}
