package filters

import (
	"fmt"
	"os"
	"strings"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

// suggestDistance bounds how far a mistyped list name may be from a match.
const suggestDistance = 3

// FilterList is a named, ordered set of filters with a default entry.
type FilterList struct {
	Name               string   `json:"name" yaml:"name"`
	DefaultFilterIndex int      `json:"defaultFilterIndex" yaml:"default_filter_index"`
	Filters            []Filter `json:"filters" yaml:"filters"`
}

// DefaultFilter returns the configured default, or Unfiltered when the
// index is out of range.
func (l *FilterList) DefaultFilter() Filter {
	if l == nil || l.DefaultFilterIndex < 0 || l.DefaultFilterIndex >= len(l.Filters) {
		return UnfilteredFilter
	}
	return l.Filters[l.DefaultFilterIndex]
}

// ByName returns the filter with the given name.
func (l *FilterList) ByName(name string) (Filter, bool) {
	if l == nil {
		return Filter{}, false
	}
	for _, f := range l.Filters {
		if f.Name() == name {
			return f, true
		}
	}
	return Filter{}, false
}

// Purpose: Find a filter list by name.
// Key aspects: Case-sensitive match; the error suggests the closest name.
// Upstream: main startup, session loading.
// Downstream: levenshtein.ComputeDistance.
func FindFilterList(lists []FilterList, name string) (*FilterList, error) {
	for i := range lists {
		if lists[i].Name == name {
			return &lists[i], nil
		}
	}
	best := ""
	bestDist := suggestDistance + 1
	for _, l := range lists {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(l.Name))
		if d < bestDist {
			best, bestDist = l.Name, d
		}
	}
	if best != "" {
		return nil, fmt.Errorf("filters: unknown filter list %q (did you mean %q?)", name, best)
	}
	return nil, fmt.Errorf("filters: unknown filter list %q", name)
}

// listsFile is the on-disk layout of a filter lists definition.
type listsFile struct {
	FilterLists []FilterList `yaml:"filter_lists"`
}

// LoadFilterLists reads filter lists from a YAML file.
func LoadFilterLists(path string) ([]FilterList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filters: read %s: %w", path, err)
	}
	var f listsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("filters: parse %s: %w", path, err)
	}
	return f.FilterLists, nil
}
