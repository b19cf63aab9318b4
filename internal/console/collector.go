// internal/console/collector.go
package console

import (
	"strconv"
	"strings"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pagelens/internal/browser"
)

// Entry is one console message.
type Entry struct {
	Level       Level    `json:"level"`
	Message     string   `json:"message"`
	Args        []string `json:"args"`
	TimestampMs int64    `json:"timestampMs"`
}

// Collector accumulates console events for one page, enforcing the level filter and
// the byte budget as events arrive. Add may be called from the page's event goroutine
// while Snapshot is called from another.
type Collector struct {
	levels    map[Level]bool
	sanitizer *Sanitizer
	maxBytes  int

	mu       sync.Mutex
	logs     []Entry
	size     int
	total    int
	filtered int
	dropped  int
	stopped  bool
	// full latches on the first drop so the kept logs stay a prefix of the stream.
	full bool
}

// NewCollector creates a collector. A nil sanitizer leaves text as is; a non-positive
// maxBytes disables the budget.
func NewCollector(levels map[Level]bool, sanitizer *Sanitizer, maxBytes int) *Collector {
	return &Collector{levels: levels, sanitizer: sanitizer, maxBytes: maxBytes}
}

// Add records ev. It is the page's console handler.
func (c *Collector) Add(ev browser.ConsoleEvent) {
	level := levelForType(ev.Type)
	if !c.levels[level] {
		c.mu.Lock()
		if !c.stopped {
			c.filtered++
		}
		c.mu.Unlock()
		return
	}

	entry := Entry{
		Level:       level,
		Message:     strings.Join(ev.Args, " "),
		Args:        append([]string{}, ev.Args...),
		TimestampMs: ev.Timestamp.UnixMilli(),
	}
	if c.sanitizer != nil {
		entry = c.sanitizer.SanitizeEntry(entry)
	}
	size := entrySize(entry)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.total++
	if c.full || (c.maxBytes > 0 && c.size+size > c.maxBytes) {
		c.full = true
		c.dropped++
		return
	}
	c.size += size
	c.logs = append(c.logs, entry)
}

// Stop makes further Add calls no-ops.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Stats are the collector's counters.
type Stats struct {
	Kept     int
	Total    int
	Dropped  int
	Filtered int
	Bytes    int
}

// Snapshot returns a copy of the retained entries and the counters.
func (c *Collector) Snapshot() ([]Entry, Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logs := make([]Entry, len(c.logs))
	copy(logs, c.logs)
	return logs, Stats{
		Kept:     len(c.logs),
		Total:    c.total,
		Dropped:  c.dropped,
		Filtered: c.filtered,
		Bytes:    c.size,
	}
}

// entrySize is the entry's JSON size plus the separator it takes in an array.
func entrySize(e Entry) int {
	b, err := json.Marshal(e)
	if err != nil {
		return len(e.Message) + 64
	}
	return len(b) + 1
}

func fieldIndex(field string, i int) string {
	return field + "[" + strconv.Itoa(i) + "]"
}
