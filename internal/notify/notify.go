// Package notify posts correlated events to per-project webhook sinks.
// Sinks are declared in a YAML file next to the notebook project; delivery
// is best-effort and never interferes with event processing.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sparkmon/sparkmon/internal/events"
)

// Friendly event names used in sink files, mapped to wire kinds.
var eventNames = map[string]string{
	"job.start":        events.KindJobStart,
	"job.end":          events.KindJobEnd,
	"stage.submitted":  events.KindStageSubmitted,
	"stage.completed":  events.KindStageCompleted,
	"task.start":       events.KindTaskStart,
	"task.end":         events.KindTaskEnd,
	"app.start":        events.KindApplicationStart,
	"app.end":          events.KindApplicationEnd,
	"executor.added":   events.KindExecutorAdded,
	"executor.removed": events.KindExecutorRemoved,
}

// Sink is one webhook destination.
type Sink struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Timeout string            `yaml:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// sinkFile is the top-level YAML document.
type sinkFile struct {
	Sinks []Sink `yaml:"sinks"`
}

// LoadSinks reads sink declarations from a YAML file. A missing file yields
// no sinks and no error.
func LoadSinks(path string) ([]Sink, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f sinkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sink file %s: %w", path, err)
	}

	for i, s := range f.Sinks {
		if s.URL == "" {
			return nil, fmt.Errorf("sink %d (%q) has no url", i, s.Name)
		}
		for _, name := range s.Events {
			if _, ok := eventNames[name]; !ok {
				return nil, fmt.Errorf("sink %q lists unknown event %q", s.Name, name)
			}
		}
	}
	return f.Sinks, nil
}

// Payload is the JSON body posted to sinks.
type Payload struct {
	Event       string    `json:"event"`
	Kind        string    `json:"kind"`
	CellID      string    `json:"cell_id,omitempty"`
	AppInstance string    `json:"app_instance,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Dispatcher fans matching bus events out to sinks.
type Dispatcher struct {
	sinks []Sink
	log   *slog.Logger

	// kind -> sinks interested in it
	routes map[string][]int

	client *http.Client
	wg     sync.WaitGroup
}

const defaultTimeout = 5 * time.Second

// NewDispatcher builds a dispatcher for the given sinks.
func NewDispatcher(sinks []Sink, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		sinks:  sinks,
		log:    log,
		routes: make(map[string][]int),
		client: &http.Client{Timeout: defaultTimeout},
	}
	for i, s := range sinks {
		for _, name := range s.Events {
			kind := eventNames[name]
			d.routes[kind] = append(d.routes[kind], i)
		}
	}
	return d
}

// Attach subscribes the dispatcher to a bus. The returned func detaches it.
func (d *Dispatcher) Attach(bus *events.Bus) events.UnsubscribeFunc {
	return bus.SubscribeAll(d.handle)
}

// handle posts the event to interested sinks on a separate goroutine so the
// engine's handler thread never waits on the network.
func (d *Dispatcher) handle(ev events.CellEvent) {
	targets := d.routes[ev.EventKind()]
	if len(targets) == 0 {
		return
	}

	payload := Payload{
		Event:       friendlyName(ev.EventKind()),
		Kind:        ev.EventKind(),
		CellID:      ev.CellID,
		AppInstance: ev.AppInstance,
		Timestamp:   ev.Timestamp,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Warn("notify payload marshal failed", "error", err)
		return
	}

	for _, i := range targets {
		sink := d.sinks[i]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.post(sink, body)
		}()
	}
}

func (d *Dispatcher) post(sink Sink, body []byte) {
	req, err := http.NewRequest(http.MethodPost, sink.URL, bytes.NewReader(body))
	if err != nil {
		d.log.Warn("notify request build failed", "sink", sink.Name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sink.Headers {
		req.Header.Set(k, v)
	}

	client := d.client
	if sink.Timeout != "" {
		if t, err := time.ParseDuration(sink.Timeout); err == nil && t > 0 {
			client = &http.Client{Timeout: t}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		d.log.Warn("notify delivery failed", "sink", sink.Name, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.log.Warn("notify delivery rejected", "sink", sink.Name, "status", resp.StatusCode)
	}
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func friendlyName(kind string) string {
	for name, k := range eventNames {
		if k == kind {
			return name
		}
	}
	return kind
}
