package fioapi

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/lumafield/fio-dashboard/fiomark"
)

// ResponseKind tells which of the two list shapes the backend answered with.
type ResponseKind string

const (
	KindArray   ResponseKind = "array"
	KindWrapped ResponseKind = "wrapped"
)

// TestRunResponse is the one canonical shape of a test run listing.
type TestRunResponse struct {
	Kind  ResponseKind
	Items []fiomark.TestRun
	// Total is only known for wrapped responses that carry it.
	Total *int
	// Raw holds the undecoded items, in the same order, for validation.
	Raw []json.RawMessage
	// Skipped counts items that were not even objects.
	Skipped int
}

func (r *TestRunResponse) TotalOrLen() int {
	if r.Total != nil {
		return *r.Total
	}
	return len(r.Items)
}

type wrappedResponse struct {
	Data     []json.RawMessage `json:"data"`
	TestRuns []json.RawMessage `json:"test_runs"`
	Total    *int              `json:"total"`
}

// DecodeTestRunResponse resolves a listing body that is either a bare array of
// test runs or an object wrapping them as {"data": [...], "total": n}. The
// backend's own {"test_runs": [...]} wrapper is accepted as well.
func DecodeTestRunResponse(body []byte) (*TestRunResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	var resp TestRunResponse
	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.Wrap(err, "decoding test run array")
		}
		resp.Kind = KindArray
	case '{':
		var wrapped wrappedResponse
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, errors.Wrap(err, "decoding wrapped test runs")
		}
		switch {
		case wrapped.Data != nil:
			items = wrapped.Data
		case wrapped.TestRuns != nil:
			items = wrapped.TestRuns
		default:
			return nil, errors.New("wrapped response has no data field")
		}
		resp.Kind = KindWrapped
		resp.Total = wrapped.Total
	default:
		return nil, errors.Errorf("unexpected response starting with %q", trimmed[0])
	}

	resp.Items = make([]fiomark.TestRun, 0, len(items))
	resp.Raw = make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		var r fiomark.TestRun
		// one malformed record must not fail the listing
		if err := json.Unmarshal(item, &r); err != nil {
			resp.Skipped++
			continue
		}
		resp.Items = append(resp.Items, r)
		resp.Raw = append(resp.Raw, item)
	}
	return &resp, nil
}

// ValidItems returns the items whose raw form passes the record validator.
func (r *TestRunResponse) ValidItems() []fiomark.TestRun {
	valid := make([]fiomark.TestRun, 0, len(r.Items))
	for i := range r.Items {
		var raw interface{}
		if i < len(r.Raw) && json.Unmarshal(r.Raw[i], &raw) == nil && !fiomark.ValidateRaw(raw) {
			continue
		}
		valid = append(valid, r.Items[i])
	}
	return valid
}
