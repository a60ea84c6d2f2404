package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventCandidate is a detected step-change in aggregate usage,
// attributed to the user contributing the largest share of the jump.
// Candidates live for one query; the deduplicator decides which
// survive into the response.
type EventCandidate struct {
	TimestampMs int64
	Value       float64
	User        string
	Delta       float64
}

// Event is the public shape of a surviving candidate, matching the
// frontend's annotation format. The ranking magnitude is stripped.
type Event struct {
	X    int64   `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type windowEntry struct {
	ts     int64
	cores  map[string]float64
	memory map[string]float64
}

// EventDetector scans a bounded sliding window of recent buckets for
// sudden upward steps in aggregate core count or memory allocation.
// It is a fast heuristic, not a changepoint detector: each window
// state compares its first bucket (the baseline) against every later
// bucket and keeps the largest positive delta per metric.
type EventDetector struct {
	size      int
	minGrowth float64
	window    []windowEntry
	cores     map[int64]EventCandidate
	memory    map[int64]EventCandidate
}

// NewEventDetector returns a detector over a window of windowSize
// buckets that flags growth of at least minGrowth (e.g. 1.5 for a
// 50% jump over the baseline).
func NewEventDetector(windowSize int, minGrowth float64) *EventDetector {
	return &EventDetector{
		size:      windowSize,
		minGrowth: minGrowth,
		window:    make([]windowEntry, 0, windowSize),
		cores:     make(map[int64]EventCandidate),
		memory:    make(map[int64]EventCandidate),
	}
}

// Observe admits one bucket's per-user cores and memory maps, evicting
// the oldest bucket once the window is full, and evaluates the new
// window state.
func (d *EventDetector) Observe(ts int64, userCores, userMemory map[string]float64) {
	if len(d.window) == d.size {
		d.window = append(d.window[:0], d.window[1:]...)
	}
	d.window = append(d.window, windowEntry{ts: ts, cores: userCores, memory: userMemory})
	d.scan()
}

func sumValues(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

func (d *EventDetector) scan() {
	base := d.window[0]
	baseCores := sumValues(base.cores)
	baseMemory := sumValues(base.memory)

	var maxCoresDelta, maxMemoryDelta float64
	var coresIdx, memoryIdx int
	for i := 1; i < len(d.window); i++ {
		if delta := sumValues(d.window[i].cores) - baseCores; delta > maxCoresDelta {
			maxCoresDelta = delta
			coresIdx = i
		}
		if delta := sumValues(d.window[i].memory) - baseMemory; delta > maxMemoryDelta {
			maxMemoryDelta = delta
			memoryIdx = i
		}
	}

	// A zero baseline has an undefined growth ratio; skip that metric
	// for this window state.
	if baseCores > 0 && maxCoresDelta > 0 && (baseCores+maxCoresDelta)/baseCores >= d.minGrowth {
		peak := d.window[coresIdx]
		d.record(d.cores, base.cores, peak.cores, peak.ts, baseCores+maxCoresDelta)
	}
	if baseMemory > 0 && maxMemoryDelta > 0 && (baseMemory+maxMemoryDelta)/baseMemory >= d.minGrowth {
		peak := d.window[memoryIdx]
		d.record(d.memory, base.memory, peak.memory, peak.ts, baseMemory+maxMemoryDelta)
	}
}

// record attributes the step to the user with the largest per-user
// delta between baseline and peak, then keeps the candidate unless an
// earlier one at the same timestamp has a strictly greater magnitude.
func (d *EventDetector) record(candidates map[int64]EventCandidate, base, peak map[string]float64, ts int64, value float64) {
	var user string
	var best float64
	for login, count := range peak {
		delta := count - base[login]
		if user == "" || delta > best || (delta == best && login < user) {
			user = login
			best = delta
		}
	}
	if user == "" {
		return
	}
	if prev, ok := candidates[ts]; ok && prev.Delta >= best {
		return
	}
	candidates[ts] = EventCandidate{TimestampMs: ts, Value: value, User: user, Delta: best}
}

// Events deduplicates both candidate sets, suppressing candidates
// within minInterval of a larger one.
func (d *EventDetector) Events(minInterval time.Duration) (cores, memory []Event) {
	return DedupEvents(d.cores, minInterval, ""), DedupEvents(d.memory, minInterval, " TB")
}

// DedupEvents ranks candidates by descending magnitude and greedily
// keeps each one only if it is at least minInterval away from every
// already-kept candidate; a larger nearby event masks the rest. The
// result is ordered ascending by timestamp.
func DedupEvents(candidates map[int64]EventCandidate, minInterval time.Duration, unit string) []Event {
	ranked := make([]EventCandidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Delta != ranked[j].Delta {
			return ranked[i].Delta > ranked[j].Delta
		}
		return ranked[i].TimestampMs < ranked[j].TimestampMs
	})

	minMs := minInterval.Milliseconds()
	var kept []EventCandidate
	for _, c := range ranked {
		masked := false
		for _, k := range kept {
			gap := c.TimestampMs - k.TimestampMs
			if gap < 0 {
				gap = -gap
			}
			if gap < minMs {
				masked = true
				break
			}
		}
		if !masked {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].TimestampMs < kept[j].TimestampMs })

	events := make([]Event, 0, len(kept))
	for _, c := range kept {
		events = append(events, Event{
			X:    c.TimestampMs,
			Y:    c.Value,
			Text: fmt.Sprintf("%s: +%s%s", c.User, groupThousands(c.Delta), unit),
		})
	}
	return events
}

// groupThousands formats v with no decimals and comma-grouped digits,
// matching the annotation labels the frontend expects.
func groupThousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
