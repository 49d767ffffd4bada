package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"serumflow/logger"
)

// Metric is one emitted measurement as seen by registered handlers.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler receives every metric passed to EmitMetric.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registration; zero is never issued.
type MetricHandlerID uint64

type registration struct {
	id MetricHandlerID
	fn MetricHandler
}

// handlerRegistry keeps an immutable slice of registrations so dispatch reads
// it without locking. Writers replace the slice under mu.
type handlerRegistry struct {
	mu     sync.Mutex
	nextID MetricHandlerID
	list   atomic.Pointer[[]registration]
}

var handlers handlerRegistry

func (r *handlerRegistry) add(fn MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cur := r.snapshot()
	next := make([]registration, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, registration{id: r.nextID, fn: fn})
	r.list.Store(&next)
	return r.nextID
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	next := make([]registration, 0, len(cur))
	for _, reg := range cur {
		if reg.id != id {
			next = append(next, reg)
		}
	}
	r.list.Store(&next)
}

func (r *handlerRegistry) reset() {
	r.mu.Lock()
	r.nextID = 0
	r.list.Store(nil)
	r.mu.Unlock()
}

func (r *handlerRegistry) snapshot() []registration {
	if p := r.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (r *handlerRegistry) dispatch(m Metric) {
	for _, reg := range r.snapshot() {
		reg.fn(m)
	}
}

// RegisterMetricHandler adds fn to the handlers called by EmitMetric. A nil fn
// is ignored and yields zero.
func RegisterMetricHandler(fn MetricHandler) MetricHandlerID {
	if fn == nil {
		return 0
	}
	return handlers.add(fn)
}

// UnregisterMetricHandler removes a handler added by RegisterMetricHandler.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlers.remove(id)
}

// recordMetric logs and publishes the metric through the logger, then fans it
// out to the handlers. Metrics without a name are dropped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	own := make(logger.Fields, len(fields))
	for k, v := range fields {
		own[k] = v
	}
	log.LogMetric(component, name, value, metricType, own)

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    own,
	}
	handlers.dispatch(m)
	return m, true
}
