// Package session loads a review session file: the interval under review,
// station channels, inline waveform segments, detections and the event.
//
// Inline waveforms are moved into the sample store on Materialize so every
// later stage works on claim checks only.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"fkreview/appstate"
	"fkreview/filters"
	"fkreview/model"
	"fkreview/samplestore"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidSession wraps every validation problem.
var ErrInvalidSession = errors.New("session: invalid session")

// gzipMagic prefixes a gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// ChannelSegments is the segment batch for one UI channel row.
type ChannelSegments struct {
	Name     string                   `json:"name"`
	Segments []model.UiChannelSegment `json:"segments"`
}

// Session is the on-disk review session.
type Session struct {
	Interval         model.TimeRange          `json:"interval"`
	Stations         []model.Station          `json:"stations"`
	Channels         []model.Channel          `json:"channels"`
	FilterLists      []filters.FilterList     `json:"filterLists"`
	ChannelFilters   map[string]string        `json:"channelFilters"`
	ChannelSegments  []ChannelSegments        `json:"channelSegments"`
	SignalDetections []*model.SignalDetection `json:"signalDetections"`
	Event            *model.Event             `json:"event"`
	Distances        []model.Distance         `json:"distances"`
}

// Purpose: Read a session file.
// Key aspects: Plain or gzip-compressed JSON, detected from the content.
// Upstream: main startup, cmd/sessioncheck.
// Downstream: Decode.
func Load(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("session: %s: %w", path, err)
	}
	return s, nil
}

// Decode reads a session from r.
func Decode(r io.Reader) (*Session, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if bytes.HasPrefix(raw, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &s, nil
}

// Purpose: List everything in the session the pipeline cannot run with.
// Key aspects: An empty result means the session is usable. Problems are
// reported in file order so they can be fixed top to bottom.
// Upstream: Validate, cmd/sessioncheck.
// Downstream: None.
func (s *Session) Problems() []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	if s.Interval.EndTime <= s.Interval.StartTime {
		add("interval: end %v is not after start %v", s.Interval.EndTime, s.Interval.StartTime)
	}
	rows := make(map[string]bool, len(s.ChannelSegments))
	for i, batch := range s.ChannelSegments {
		if strings.TrimSpace(batch.Name) == "" {
			add("channelSegments[%d]: empty name", i)
		}
		rows[batch.Name] = true
		for j, seg := range batch.Segments {
			for k, ds := range seg.ChannelSegment.DataSegments {
				where := fmt.Sprintf("channelSegments[%d].segments[%d].dataSegments[%d]", i, j, k)
				switch ds.Data.Kind() {
				case model.DataInline:
					values, _ := ds.Data.Inline()
					if len(values)%2 != 0 {
						add("%s: inline data has odd length %d", where, len(values))
					} else if ds.SampleCount > 0 && len(values) != 2*ds.SampleCount {
						add("%s: %d values for sampleCount %d", where, len(values), ds.SampleCount)
					}
				case model.DataClaimCheck:
				default:
					add("%s: no data", where)
				}
				if ds.SampleRateHz <= 0 {
					add("%s: sampleRateHz must be > 0", where)
				}
			}
		}
	}
	names := make([]string, 0, len(s.ChannelFilters))
	for name := range s.ChannelFilters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !rows[name] {
			add("channelFilters: %s has no channel segments", name)
		}
	}
	seen := make(map[string]bool, len(s.SignalDetections))
	for i, sd := range s.SignalDetections {
		switch {
		case sd == nil:
			add("signalDetections[%d]: null", i)
		case sd.ID == "":
			add("signalDetections[%d]: empty id", i)
		case seen[sd.ID]:
			add("signalDetections[%d]: duplicate id %s", i, sd.ID)
		default:
			seen[sd.ID] = true
		}
	}
	if h := s.Event.CurrentHypothesis(); h != nil {
		for _, a := range h.Associations {
			if !seen[a.SignalDetectionID] {
				add("event: associated detection %s is not in the session", a.SignalDetectionID)
			}
		}
	}
	return out
}

// Validate returns ErrInvalidSession listing every problem, or nil.
func (s *Session) Validate() error {
	problems := s.Problems()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSession, strings.Join(problems, "; "))
}

// RawChannels returns the session channels plus every station channel,
// first occurrence of a name wins.
func (s *Session) RawChannels() []model.Channel {
	out := make([]model.Channel, 0, len(s.Channels))
	seen := make(map[string]bool)
	add := func(ch model.Channel) {
		if ch.Name == "" || seen[ch.Name] {
			return
		}
		seen[ch.Name] = true
		out = append(out, ch)
	}
	for _, ch := range s.Channels {
		add(ch)
	}
	for _, st := range s.Stations {
		for _, ch := range st.Channels {
			if ch.Station.Name == "" {
				ch.Station = model.EntityRef{Name: st.Name}
			}
			add(ch)
		}
	}
	return out
}

// ChannelsForStation returns the raw channels recorded at station.
func (s *Session) ChannelsForStation(station string) []model.Channel {
	var out []model.Channel
	for _, ch := range s.RawChannels() {
		if ch.Station.Name == station {
			out = append(out, ch)
		}
	}
	return out
}

// Purpose: Move inline waveforms into the sample store.
// Key aspects: Each inline buffer is stored under its claim-check id and
// replaced by the reference; segments that already hold claim checks pass
// through. The receiver is not modified.
// Upstream: main startup.
// Downstream: samplestore.ClaimCheckID, Store.Store.
func (s *Session) Materialize(store samplestore.Store) ([]appstate.ChannelSegments, int, error) {
	out := make([]appstate.ChannelSegments, 0, len(s.ChannelSegments))
	stored := 0
	for _, batch := range s.ChannelSegments {
		segs := make([]model.UiChannelSegment, 0, len(batch.Segments))
		for _, seg := range batch.Segments {
			seg = seg.Clone()
			for i, ds := range seg.ChannelSegment.DataSegments {
				values, ok := ds.Data.Inline()
				if !ok {
					continue
				}
				domain := model.TimeRange{StartTime: ds.StartTime, EndTime: ds.EndTime}
				count := ds.SampleCount
				if count == 0 {
					count = len(values) / 2
				}
				id, err := samplestore.ClaimCheckID(domain, seg.ChannelSegmentDescriptor, seg.ChannelSegment.TimeseriesType, seg.ChannelSegment.WfFilterID, samplestore.WaveformShape{
					Type:         ds.Type,
					StartTime:    ds.StartTime,
					EndTime:      ds.EndTime,
					SampleCount:  count,
					SampleRateHz: ds.SampleRateHz,
				})
				if err != nil {
					return nil, stored, err
				}
				if err := store.Store(id, values); err != nil {
					return nil, stored, fmt.Errorf("session: store %s: %w", seg.ChannelSegmentDescriptor.Channel.Name, err)
				}
				stored++
				ds.SampleCount = count
				ds.Data = model.ClaimCheckData(model.ClaimCheck{ID: id, SampleRateHz: ds.SampleRateHz, DomainTimeRange: domain})
				seg.ChannelSegment.DataSegments[i] = ds
			}
			segs = append(segs, seg)
		}
		out = append(out, appstate.ChannelSegments{Name: batch.Name, Segments: segs})
	}
	return out, stored, nil
}

// Purpose: Load the session into the application state.
// Key aspects: Channel filter names resolve against list; unknown names
// are logged and left on the default filter.
// Upstream: main startup.
// Downstream: Materialize, appstate.State setters.
func (s *Session) Apply(state *appstate.State, list *filters.FilterList, store samplestore.Store) (int, error) {
	batches, stored, err := s.Materialize(store)
	if err != nil {
		return stored, err
	}
	state.SetInterval(appstate.Interval{StartTime: s.Interval.StartTime, EndTime: s.Interval.EndTime})
	state.AddRawChannels(s.RawChannels())
	state.AddChannelSegments(batches)

	names := make([]string, 0, len(s.ChannelFilters))
	for name := range s.ChannelFilters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		filterName := s.ChannelFilters[name]
		f, ok := list.ByName(filterName)
		if !ok {
			log.Printf("Session: channel %s asks for unknown filter %q; using the default", name, filterName)
			continue
		}
		state.SetFilterForChannel(name, f)
	}
	return stored, nil
}

// DetectionByID finds a detection.
func (s *Session) DetectionByID(id string) *model.SignalDetection {
	for _, sd := range s.SignalDetections {
		if sd != nil && sd.ID == id {
			return sd
		}
	}
	return nil
}

// Summary counts what a session holds.
type Summary struct {
	Stations         int `json:"stations"`
	RawChannels      int `json:"rawChannels"`
	ChannelRows      int `json:"channelRows"`
	Segments         int `json:"segments"`
	InlineSamples    int `json:"inlineSamples"`
	ClaimChecks      int `json:"claimChecks"`
	SignalDetections int `json:"signalDetections"`
	Associated       int `json:"associated"`
	FilterLists      int `json:"filterLists"`
}

// Summarize counts the session contents.
func (s *Session) Summarize() Summary {
	sum := Summary{
		Stations:         len(s.Stations),
		RawChannels:      len(s.RawChannels()),
		ChannelRows:      len(s.ChannelSegments),
		SignalDetections: len(s.SignalDetections),
		FilterLists:      len(s.FilterLists),
	}
	for _, batch := range s.ChannelSegments {
		sum.Segments += len(batch.Segments)
		for _, seg := range batch.Segments {
			for _, ds := range seg.ChannelSegment.DataSegments {
				if values, ok := ds.Data.Inline(); ok {
					sum.InlineSamples += len(values) / 2
				} else if _, ok := ds.Data.ClaimCheck(); ok {
					sum.ClaimChecks++
				}
			}
		}
	}
	if h := s.Event.CurrentHypothesis(); h != nil {
		sum.Associated = len(h.Associations)
	}
	return sum
}
