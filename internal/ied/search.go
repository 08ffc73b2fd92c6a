package ied

import (
	"context"
	"strings"
)

// SearchQuery selects devices for SearchPage.
type SearchQuery struct {
	Term   string
	Status string // a Status, "all" or empty
	Limit  int    // 0 means no limit
	Offset int
}

// SearchResult is one page of matches. Total counts every match.
type SearchResult struct {
	Devices []Device `json:"devices"`
	Total   int      `json:"total"`
}

// Search returns the devices whose name, type, model or IP contains term
// (case-insensitive) and whose status matches statusFilter. An empty term
// matches everything, as does the filter "all". Results keep insertion
// order.
func (r *Registry) Search(ctx context.Context, term, statusFilter string) ([]Device, error) {
	res, err := r.SearchPage(ctx, SearchQuery{Term: term, Status: statusFilter})
	if err != nil {
		return nil, err
	}
	return res.Devices, nil
}

// SearchPage is Search with pagination applied after matching.
func (r *Registry) SearchPage(ctx context.Context, q SearchQuery) (SearchResult, error) {
	status, err := parseStatusFilter(q.Status)
	if err != nil {
		return SearchResult{}, err
	}
	if q.Limit < 0 {
		return SearchResult{}, invalid("limit", "must not be negative")
	}
	if q.Offset < 0 {
		return SearchResult{}, invalid("offset", "must not be negative")
	}

	term := strings.ToLower(q.Term)
	matched := make([]Device, 0)
	total := 0
	for i, d := range r.snapshot() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return SearchResult{}, err
			}
		}
		if status != "" && d.Status != status {
			continue
		}
		if !matchesTerm(d, term) {
			continue
		}
		total++
		if total <= q.Offset || (q.Limit > 0 && len(matched) >= q.Limit) {
			continue
		}
		matched = append(matched, *d.DeepCopy())
	}
	return SearchResult{Devices: matched, Total: total}, nil
}

// parseStatusFilter returns "" for the match-all filter.
func parseStatusFilter(filter string) (Status, error) {
	if filter == "" || filter == StatusFilterAll {
		return "", nil
	}
	s := Status(filter)
	if !s.Valid() {
		return "", invalid("status", "%q is not all, pending, connected or disconnected", filter)
	}
	return s, nil
}

// matchesTerm expects term already lower-cased.
func matchesTerm(d *Device, term string) bool {
	if term == "" {
		return true
	}
	for _, field := range []string{d.Name, d.Type, d.Model, d.IP} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}
