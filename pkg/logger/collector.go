package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Publisher ships alert batches somewhere durable; the Kafka producer in production.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, key []byte, v interface{}) error
}

// AlertConfig controls how warnings and errors are batched onto the alerts topic.
type AlertConfig struct {
	Topic       string
	Symbol      string        // message key and batch label
	Interval    time.Duration // flush period
	MaxDistinct int           // distinct alerts that force an early flush
	Publisher   Publisher
}

// Alert is one distinct (level, message, fields, caller) tuple with how often
// it was seen inside the flush window.
type Alert struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// AlertBatch is the payload of one message on the alerts topic.
type AlertBatch struct {
	Symbol   string    `json:"symbol"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
	Alerts   []Alert   `json:"alerts"`
}

// AlertCollector deduplicates repeated warnings and errors so a flapping feed
// produces one alert per window instead of a flood.
type AlertCollector struct {
	cfg     AlertConfig
	mu      sync.Mutex
	pending map[string]*Alert
	stop    chan struct{}
	once    sync.Once
	loop    sync.WaitGroup
	sends   sync.WaitGroup
}

func NewAlertCollector(cfg *AlertConfig) *AlertCollector {
	c := &AlertCollector{cfg: *cfg, pending: make(map[string]*Alert), stop: make(chan struct{})}
	if c.cfg.Interval <= 0 {
		c.cfg.Interval = 10 * time.Second
	}
	if c.cfg.MaxDistinct <= 0 {
		c.cfg.MaxDistinct = 50
	}
	c.loop.Add(1)
	go c.run()
	return c
}

func (c *AlertCollector) Add(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := alertKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.pending[key]; ok {
		a.Count++
		a.LastSeen = now
	} else {
		c.pending[key] = &Alert{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.pending) >= c.cfg.MaxDistinct {
		c.flushLocked()
	}
}

// Pending returns the number of distinct alerts waiting for the next flush.
func (c *AlertCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func alertKey(level, message string, fields map[string]interface{}, caller string) string {
	// go-json sorts map keys, so equal field sets hash equally
	data, _ := json.Marshal(fields)
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|", level, message, caller)
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum64())
}

func (c *AlertCollector) run() {
	defer c.loop.Done()
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-c.stop:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.flushLocked()
		c.mu.Unlock()
	}
}

func (c *AlertCollector) flushLocked() {
	if len(c.pending) == 0 || c.cfg.Publisher == nil {
		return
	}
	batch := AlertBatch{Symbol: c.cfg.Symbol, Alerts: make([]Alert, 0, len(c.pending))}
	for _, a := range c.pending {
		batch.Alerts = append(batch.Alerts, *a)
		if a.Level == "error" {
			batch.Errors += a.Count
		} else {
			batch.Warnings += a.Count
		}
	}
	sort.Slice(batch.Alerts, func(i, j int) bool { return batch.Alerts[i].FirstSeen.Before(batch.Alerts[j].FirstSeen) })
	batch.From = batch.Alerts[0].FirstSeen
	for _, a := range batch.Alerts {
		if a.LastSeen.After(batch.To) {
			batch.To = a.LastSeen
		}
	}
	c.pending = make(map[string]*Alert)

	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// the logger cannot report its own sink failing
		if err := c.cfg.Publisher.PublishJSON(ctx, c.cfg.Topic, []byte(c.cfg.Symbol), batch); err != nil {
			fmt.Fprintf(os.Stderr, "quoteflow: publish %d alerts to %s: %v\n", len(batch.Alerts), c.cfg.Topic, err)
		}
	}()
}

// Close flushes what is left and waits for in-flight publishes.
func (c *AlertCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.loop.Wait()
	c.sends.Wait()
}
