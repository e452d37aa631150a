package aggregate

import (
	"sort"
	"time"

	"github.com/hopwise/traderoute/internal/quote"
)

// Response is one provider's outcome for one route id: a route, or an error,
// never both. Warnings may accompany a route.
type Response struct {
	Provider   quote.ProviderID
	RouteID    string
	Route      *quote.Route
	Warnings   []string
	Err        error
	AnsweredAt time.Time
}

type providerRecord struct {
	answered  bool
	err       error
	warnings  []string
	responses map[string]Response
}

// State accumulates provider responses for one quote request. A provider
// that has not answered yet is distinct from one that answered with zero
// routes or an error.
type State struct {
	// RequestKey tags the request these responses answer.
	RequestKey string
	enabled    []quote.ProviderID
	records    map[quote.ProviderID]*providerRecord
}

func newState(requestKey string, enabled []quote.ProviderID) *State {
	records := make(map[quote.ProviderID]*providerRecord, len(enabled))
	for _, pid := range enabled {
		records[pid] = &providerRecord{responses: map[string]Response{}}
	}
	return &State{
		RequestKey: requestKey,
		enabled:    append([]quote.ProviderID(nil), enabled...),
		records:    records,
	}
}

func (s *State) record(resp Response) {
	rec, ok := s.records[resp.Provider]
	if !ok {
		return
	}
	rec.answered = true
	if resp.Err != nil {
		rec.err = resp.Err
		rec.warnings = resp.Warnings
		return
	}
	if resp.Route != nil {
		rec.responses[resp.RouteID] = resp
	}
	rec.warnings = resp.Warnings
}

// Enabled returns the providers this state fans out to, in canonical order.
func (s *State) Enabled() []quote.ProviderID {
	return append([]quote.ProviderID(nil), s.enabled...)
}

// Answered reports whether the provider has recorded any outcome.
func (s *State) Answered(pid quote.ProviderID) bool {
	rec, ok := s.records[pid]
	return ok && rec.answered
}

// Complete reports whether every enabled provider has answered, successfully
// or with an error.
func (s *State) Complete() bool {
	if len(s.enabled) == 0 {
		return false
	}
	for _, pid := range s.enabled {
		if !s.records[pid].answered {
			return false
		}
	}
	return true
}

// Lookup resolves a (provider, route id) pointer into the state.
func (s *State) Lookup(pid quote.ProviderID, routeID string) (*quote.Route, bool) {
	rec, ok := s.records[pid]
	if !ok {
		return nil, false
	}
	resp, ok := rec.responses[routeID]
	if !ok || resp.Route == nil {
		return nil, false
	}
	return resp.Route, true
}

// Routes returns every usable route, grouped by canonical provider order.
func (s *State) Routes() []*quote.Route {
	var out []*quote.Route
	for _, pid := range s.enabled {
		rec := s.records[pid]
		// Within a provider, iterate its response ids deterministically.
		ids := make([]string, 0, len(rec.responses))
		for routeID := range rec.responses {
			ids = append(ids, routeID)
		}
		sort.Strings(ids)
		for _, routeID := range ids {
			out = append(out, rec.responses[routeID].Route)
		}
	}
	return out
}

// ProviderError returns the recorded error for a provider, if any.
func (s *State) ProviderError(pid quote.ProviderID) error {
	rec, ok := s.records[pid]
	if !ok {
		return nil
	}
	return rec.err
}

// Errors returns all recorded provider errors keyed by provider.
func (s *State) Errors() map[quote.ProviderID]error {
	out := map[quote.ProviderID]error{}
	for _, pid := range s.enabled {
		if err := s.records[pid].err; err != nil {
			out[pid] = err
		}
	}
	return out
}

// Warnings returns non-fatal warnings recorded for a provider.
func (s *State) Warnings(pid quote.ProviderID) []string {
	rec, ok := s.records[pid]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.warnings...)
}

// Clone copies the state's maps. Route pointers are shared; callers must not
// mutate routes read from a snapshot (confirming a route deep-copies it).
func (s *State) Clone() *State {
	out := newState(s.RequestKey, s.enabled)
	for pid, rec := range s.records {
		cp := out.records[pid]
		cp.answered = rec.answered
		cp.err = rec.err
		cp.warnings = append([]string(nil), rec.warnings...)
		for routeID, resp := range rec.responses {
			cp.responses[routeID] = resp
		}
	}
	return out
}
