// Package metrics collects timings of counter operations.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"zgo.at/zstd/ztime"
)

type metrics struct {
	mu    *sync.Mutex
	stats map[string]ztime.Durations
}

var collected = metrics{
	mu:    new(sync.Mutex),
	stats: make(map[string]ztime.Durations, 8),
}

func (m metrics) add(tag string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.stats[tag]
	if !ok {
		t = ztime.NewDurations(4096)
	}
	t.Append(d)
	m.stats[tag] = t
}

// Metrics is a list of collected timings, one entry per tag.
type Metrics []struct {
	Tag   string
	Times ztime.Durations
}

// List metrics, sorted by name.
func List() Metrics {
	collected.mu.Lock()
	defer collected.mu.Unlock()

	sorted := make([]string, 0, len(collected.stats))
	for k := range collected.stats {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	x := make(Metrics, 0, len(sorted))
	for _, k := range sorted {
		x = append(x, struct {
			Tag   string
			Times ztime.Durations
		}{Tag: k, Times: collected.stats[k]})
	}
	return x
}

// Reset removes all collected metrics.
func Reset() {
	collected.mu.Lock()
	defer collected.mu.Unlock()
	collected.stats = make(map[string]ztime.Durations, 8)
}

// Print a table of all metrics to w.
func Print(w io.Writer) {
	l := List()
	if len(l) == 0 {
		return
	}
	fmt.Fprintf(w, "%-20s %6s %10s %10s %10s\n", "metric", "n", "total", "min", "max")
	for _, m := range l {
		fmt.Fprintf(w, "%-20s %6d %10s %10s %10s\n", m.Tag, m.Times.Len(),
			m.Times.Sum().Round(time.Microsecond),
			m.Times.Min().Round(time.Microsecond),
			m.Times.Max().Round(time.Microsecond))
	}
}

// Metric is a single metric that's being recorded.
type Metric struct {
	tag   string
	start time.Time
}

// Start recording performance metrics with the given tag.
func Start(tag string) *Metric {
	return &Metric{tag: tag, start: time.Now()}
}

// Done finishes recording this performance metrics, and actually records it.
func (t *Metric) Done() {
	collected.add(t.tag, time.Since(t.start))
}

// AddTag adds another part to this metric's tag, for example:
//
//	m := metrics.Start("counter.init")
//	defer m.Done()
//
//	if err != nil {
//	    m.AddTag("failed")
//	    return err
//	}
//
// This will record the failed entries as "counter.init·failed", separate from
// the regular "counter.init" entries.
func (t *Metric) AddTag(tag string) {
	t.tag += "·" + tag
}
