// Package perf implements the Performance timeline surface: now(),
// mark/measure, and the process-wide entry list
// clearMarks/clearMeasures/getEntries* read.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// EntryType distinguishes mark entries from measure entries.
type EntryType string

const (
	TypeMark EntryType = "mark"
	TypeMeasure EntryType = "measure"
)

// Entry is one PerformanceEntry: a named mark or measure with a start
// time and (for measures) a duration, both in milliseconds relative to
// the Performance object's timeOrigin.
type Entry struct {
	Name string
	Type EntryType
	StartTime float64
	Duration float64
	Detail any
}

// restrictedNames are navigation-timing entry names rejected for
// user-supplied mark/measure, since the host doesn't implement real
// navigation timing.
var restrictedNames = map[string]bool{
	"navigationStart": true, "unloadEventStart": true, "unloadEventEnd": true,
	"redirectStart": true, "redirectEnd": true, "fetchStart": true,
	"domainLookupStart": true, "domainLookupEnd": true, "connectStart": true,
	"connectEnd": true, "requestStart": true, "responseStart": true, "responseEnd": true,
	"domLoading": true, "domInteractive": true, "domContentLoadedEventStart": true,
	"domContentLoadedEventEnd": true, "domComplete": true, "loadEventStart": true, "loadEventEnd": true,
}

// Performance holds the process-wide mark/measure entry list and the
// timeOrigin every StartTime is relative to.
type Performance struct {
	mu sync.Mutex
	timeOrigin time.Time
	entries []Entry
}

// New constructs a Performance whose timeOrigin is the moment of
// construction, the runtime's process start in practice.
func New() *Performance {
	return &Performance{timeOrigin: time.Now()}
}

// Now returns monotonic milliseconds since timeOrigin.
func (p *Performance) Now() float64 {
	return float64(time.Since(p.timeOrigin)) / float64(time.Millisecond)
}

// MarkOptions configures Mark's optional detail/startTime overrides.
type MarkOptions struct {
	Detail any
	StartTime *float64
}

// Mark records a named instant entry. A restricted navigation-timing
// name is rejected.
func (p *Performance) Mark(name string, opts MarkOptions) (Entry, error) {
	if restrictedNames[name] {
		return Entry{}, errs.New(errs.InvalidInput, "mark name is a restricted navigation-timing name: "+name)
	}
	startTime := p.Now()
	if opts.StartTime != nil {
		startTime = *opts.StartTime
	}
	e := Entry{Name: name, Type: TypeMark, StartTime: startTime, Detail: opts.Detail}
	p.mu.Lock()
	p.entries = append(p.entries, e)
	p.mu.Unlock()
	return e, nil
}

// MeasureOptions configures Measure's start/end boundaries, either named
// marks or explicit millisecond offsets.
type MeasureOptions struct {
	Start any // string (mark name) or float64 (timestamp)
	End any
	Detail any
}

// Measure records a named duration entry between two points, each either
// a previously recorded mark name or an explicit millisecond timestamp.
func (p *Performance) Measure(name string, opts MeasureOptions) (Entry, error) {
	start, err := p.resolveTimePoint(opts.Start, 0)
	if err != nil {
		return Entry{}, err
	}
	end, err := p.resolveTimePoint(opts.End, p.Now())
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Name: name, Type: TypeMeasure, StartTime: start, Duration: end - start, Detail: opts.Detail}
	p.mu.Lock()
	p.entries = append(p.entries, e)
	p.mu.Unlock()
	return e, nil
}

func (p *Performance) resolveTimePoint(v any, fallback float64) (float64, error) {
	switch t := v.(type) {
	case nil:
		return fallback, nil
	case float64:
		return t, nil
	case string:
		p.mu.Lock()
		defer p.mu.Unlock()
		for i := len(p.entries) - 1; i >= 0; i-- {
			if p.entries[i].Name == t && p.entries[i].Type == TypeMark {
				return p.entries[i].StartTime, nil
			}
		}
		return 0, errs.New(errs.NotFound, "no mark named: "+t)
	default:
		return 0, errs.New(errs.InvalidInput, "measure start/end must be a mark name or timestamp")
	}
}

// ClearMarks removes mark entries; if name is empty, all marks are
// removed, otherwise only marks with that name.
func (p *Performance) ClearMarks(name string) {
	p.clearByType(TypeMark, name)
}

// ClearMeasures removes measure entries; if name is empty, all measures
// are removed, otherwise only measures with that name.
func (p *Performance) ClearMeasures(name string) {
	p.clearByType(TypeMeasure, name)
}

func (p *Performance) clearByType(t EntryType, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.entries[:0:0]
	for _, e := range p.entries {
		if e.Type == t && (name == "" || e.Name == name) {
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
}

// GetEntries returns every recorded entry in chronological order.
func (p *Performance) GetEntries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// GetEntriesByName returns recorded entries with the given name (and, if
// entryType is non-empty, type).
func (p *Performance) GetEntriesByName(name string, entryType EntryType) []Entry {
	var out []Entry
	for _, e := range p.GetEntries() {
		if e.Name != name {
			continue
		}
		if entryType != "" && e.Type != entryType {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetEntriesByType returns recorded entries of the given type.
func (p *Performance) GetEntriesByType(entryType EntryType) []Entry {
	var out []Entry
	for _, e := range p.GetEntries() {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}
