package fiomark

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type FilterCategory string

const (
	FilterHostnames   FilterCategory = "hostnames"
	FilterProtocols   FilterCategory = "protocols"
	FilterDriveTypes  FilterCategory = "drive_types"
	FilterDriveModels FilterCategory = "drive_models"
	FilterBlockSizes  FilterCategory = "block_sizes"
	FilterPatterns    FilterCategory = "patterns"
	FilterSyncs       FilterCategory = "syncs"
	FilterQueueDepths FilterCategory = "queue_depths"
	FilterDirects     FilterCategory = "directs"
	FilterNumJobs     FilterCategory = "num_jobs"
	FilterTestSizes   FilterCategory = "test_sizes"
	FilterDurations   FilterCategory = "durations"
)

// FilterCategories lists every category in a stable order.
var FilterCategories = []FilterCategory{
	FilterHostnames, FilterProtocols, FilterDriveTypes, FilterDriveModels,
	FilterBlockSizes, FilterPatterns, FilterSyncs, FilterQueueDepths,
	FilterDirects, FilterNumJobs, FilterTestSizes, FilterDurations,
}

// fieldValue extracts the canonical string form of the field a category
// constrains. ok is false when the field is null.
func (c FilterCategory) fieldValue(r *TestRun) (string, bool) {
	switch c {
	case FilterHostnames:
		return derefString(r.Hostname)
	case FilterProtocols:
		return derefString(r.Protocol)
	case FilterDriveTypes:
		return derefString(r.DriveType)
	case FilterDriveModels:
		return derefString(r.DriveModel)
	case FilterBlockSizes:
		return string(r.BlockSize), r.BlockSize != ""
	case FilterPatterns:
		return r.ReadWritePattern, r.ReadWritePattern != ""
	case FilterSyncs:
		return derefInt(r.Sync)
	case FilterQueueDepths:
		return strconv.Itoa(r.QueueDepth), r.QueueDepth > 0
	case FilterDirects:
		return derefInt(r.Direct)
	case FilterNumJobs:
		return derefInt(r.NumJobs)
	case FilterTestSizes:
		return derefString(r.TestSize)
	case FilterDurations:
		return cast.ToString(r.Duration), r.Duration > 0
	}
	return "", false
}

func (c FilterCategory) known() bool {
	for _, k := range FilterCategories {
		if c == k {
			return true
		}
	}
	return false
}

func derefString(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func derefInt(i *int) (string, bool) {
	if i == nil {
		return "", false
	}
	return strconv.Itoa(*i), true
}

// FilterState maps a category to its allowed values. An empty list means
// "no constraint" for that category.
type FilterState map[FilterCategory][]string

// Active reports whether at least one known category carries values.
func (f FilterState) Active() bool {
	for c, values := range f {
		if c.known() && len(values) > 0 {
			return true
		}
	}
	return false
}

// Validate rejects categories the engine does not know about.
func (f FilterState) Validate() error {
	for c := range f {
		if !c.known() {
			return errors.Errorf("unknown filter category %q", c)
		}
	}
	return nil
}

// Query renders the state as the comma separated query parameters the
// results backend accepts.
func (f FilterState) Query() url.Values {
	q := url.Values{}
	for _, c := range FilterCategories {
		if values := f[c]; len(values) > 0 {
			q.Set(string(c), strings.Join(values, ","))
		}
	}
	return q
}

// Key is a deterministic representation used for memoization.
func (f FilterState) Key() string {
	var parts []string
	for _, c := range FilterCategories {
		values := append([]string(nil), f[c]...)
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)
		parts = append(parts, string(c)+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, "&")
}

// ApplyFilters keeps the records that match every non-empty category.
// With no active category the input slice itself is returned.
func ApplyFilters(records []TestRun, filters FilterState) []TestRun {
	if !filters.Active() {
		return records
	}
	indexes := MatchingIndexes(records, filters)
	matched := make([]TestRun, 0, len(indexes))
	for _, i := range indexes {
		matched = append(matched, records[i])
	}
	return matched
}

// MatchingIndexes returns the positions of the records ApplyFilters keeps,
// for callers holding data aligned with the records.
func MatchingIndexes(records []TestRun, filters FilterState) []int {
	allowed := make(map[FilterCategory]map[string]struct{})
	for c, values := range filters {
		if !c.known() || len(values) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		allowed[c] = set
	}

	indexes := make([]int, 0, len(records))
	for i := range records {
		if matchesAll(&records[i], allowed) {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func matchesAll(r *TestRun, allowed map[FilterCategory]map[string]struct{}) bool {
	for c, set := range allowed {
		v, ok := c.fieldValue(r)
		if !ok {
			return false
		}
		if _, hit := set[v]; !hit {
			return false
		}
	}
	return true
}

// ParseFilterQuery reads filters from query parameters. Values may be
// repeated or comma separated.
func ParseFilterQuery(q url.Values) (FilterState, error) {
	f := FilterState{}
	for _, c := range FilterCategories {
		for _, raw := range q[string(c)] {
			f[c] = append(f[c], splitList(raw)...)
		}
	}
	return f, f.Validate()
}

// LoadFilterFile reads a filter preset from a YAML or JSON file. Scalar
// values such as queue depths may be written as numbers.
func LoadFilterFile(path string) (FilterState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading filter file %s", path)
	}

	raw := map[string]interface{}{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing filter file %s", path)
	}

	f := FilterState{}
	for k, v := range raw {
		var values []string
		switch list := v.(type) {
		case nil:
		case string:
			values = splitList(list)
		case int, float64, bool:
			values = []string{cast.ToString(list)}
		default:
			values, err = cast.ToStringSliceE(v)
			if err != nil {
				return nil, errors.Wrapf(err, "filter category %s", k)
			}
		}
		f[FilterCategory(k)] = values
	}
	return f, f.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FilterOptions collects the distinct non-null values per category, the
// choices a filter control offers. Block sizes are ordered by byte value.
func FilterOptions(records []TestRun) map[FilterCategory][]string {
	seen := make(map[FilterCategory]map[string]struct{}, len(FilterCategories))
	for _, c := range FilterCategories {
		seen[c] = map[string]struct{}{}
	}
	for i := range records {
		for _, c := range FilterCategories {
			if v, ok := c.fieldValue(&records[i]); ok {
				seen[c][v] = struct{}{}
			}
		}
	}

	options := make(map[FilterCategory][]string, len(seen))
	for c, set := range seen {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		switch c {
		case FilterBlockSizes:
			sort.Sort(ByBlockSize(values))
		case FilterSyncs, FilterQueueDepths, FilterDirects, FilterNumJobs, FilterDurations:
			sort.Slice(values, func(i, j int) bool {
				return cast.ToFloat64(values[i]) < cast.ToFloat64(values[j])
			})
		default:
			sort.Strings(values)
		}
		options[c] = values
	}
	return options
}

// HostDiskCombinations lists the distinct "host - protocol - model" labels.
func HostDiskCombinations(records []TestRun) []string {
	set := map[string]struct{}{}
	for i := range records {
		r := &records[i]
		set[r.HostLabel()+" - "+labelOrUnknown(r.Protocol)+" - "+labelOrUnknown(r.DriveModel)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
