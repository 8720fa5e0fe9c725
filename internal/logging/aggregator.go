package logging

import (
	"log/slog"
	"sync"
	"time"
)

// counter accumulates one event type between flushes.
type counter struct {
	component string
	event     string
	count     int64
	first     time.Time
	fields    []slog.Attr // from the most recent Record call
}

// Aggregator coalesces high-frequency events (output chunks, watch events)
// into periodic summary records so the log stays readable under load.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	counters map[string]*counter

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewAggregator creates an aggregator flushing every intervalSecs seconds.
// A nil logger drops recorded events.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		counters: make(map[string]*counter),
		done:     make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop halts the flush goroutine and emits any pending summaries.
// Safe to call multiple times.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.flush()
	})
}

// Record counts one occurrence of an event. Fields are kept from the most
// recent call so the summary carries current context.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	key := component + "\x00" + event

	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[key]
	if !ok {
		c = &counter{component: component, event: event, first: time.Now()}
		a.counters[key] = c
	}
	c.count++
	if len(fields) > 0 {
		c.fields = fields
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.counters) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.counters
	a.counters = make(map[string]*counter)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	for _, c := range pending {
		attrs := []any{
			slog.String("component", c.component),
			slog.String("event", c.event),
			slog.Int64("count", c.count),
			slog.Duration("window", time.Since(c.first).Round(time.Millisecond)),
		}
		for _, f := range c.fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
