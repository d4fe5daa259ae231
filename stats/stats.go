package stats

import (
	"fmt"
	"sort"
	"sync"
)

type Stage string

const (
	StageDecode  Stage = "decode"
	StageMessage Stage = "message"
	StageStore   Stage = "store"
)

type EventType string

const (
	EventTypeScanned    EventType = "scanned"
	EventTypeIngested   EventType = "ingested"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeSkipped    EventType = "skipped"
	EventTypeAttachment EventType = "attachment"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage   Stage
	Type    EventType
	Archive string
	Err     error
	Detail  string
}

type Summary struct {
	Scanned     int
	Ingested    int
	Duplicates  int
	Skipped     int
	Attachments int
	Errors      int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"ingested", s.Ingested,
		"duplicates", s.Duplicates,
		"skipped", s.Skipped,
		"attachments", s.Attachments,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector accumulates events. Both pipelines feed it synchronously from a
// single goroutine, but the mutex keeps Snapshot safe from anywhere.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeIngested:
		c.summary.Ingested++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeAttachment:
		c.summary.Attachments++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
