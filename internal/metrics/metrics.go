// Package metrics holds the prometheus collectors shared by the drivers.
//
// A nil *Collector is valid and records nothing, so drivers can be built
// without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canapp"

type Collector struct {
	FramesReceived    prometheus.Counter
	FramesTransmitted prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	TransmitFailures  prometheus.Counter
	ReadErrors        prometheus.Counter
	ConnectAttempts   *prometheus.CounterVec
	TimerExpiries     prometheus.Counter
	TimersActive      prometheus.Gauge
	KeyEvents         prometheus.Counter
}

// New creates the collectors and registers them on reg. It returns nil when
// reg is nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, nil
	}
	c := &Collector{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_received_total",
			Help:      "Frames delivered to the receive callback.",
		}),
		FramesTransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_transmitted_total",
			Help:      "Frames fully written to the bus.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_dropped_total",
			Help:      "Received frames not delivered, by reason.",
		}, []string{"reason"}),
		TransmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "transmit_failures_total",
			Help:      "Transmit calls rejected or not fully written.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "read_errors_total",
			Help:      "Socket read errors other than would-block.",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by result.",
		}, []string{"result"}),
		TimerExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "expiries_total",
			Help:      "Timer callbacks invoked.",
		}),
		TimersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "allocated",
			Help:      "Timers currently allocated.",
		}),
		KeyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "events_total",
			Help:      "Key bytes read from the terminal.",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.FramesReceived, c.FramesTransmitted, c.FramesDropped, c.TransmitFailures,
		c.ReadErrors, c.ConnectAttempts, c.TimerExpiries, c.TimersActive, c.KeyEvents,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Received() {
	if c != nil {
		c.FramesReceived.Inc()
	}
}

func (c *Collector) Transmitted() {
	if c != nil {
		c.FramesTransmitted.Inc()
	}
}

func (c *Collector) Dropped(reason string) {
	if c != nil {
		c.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) TransmitFailed() {
	if c != nil {
		c.TransmitFailures.Inc()
	}
}

func (c *Collector) ReadError() {
	if c != nil {
		c.ReadErrors.Inc()
	}
}

func (c *Collector) Connect(ok bool) {
	if c == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.ConnectAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) TimerFired() {
	if c != nil {
		c.TimerExpiries.Inc()
	}
}

func (c *Collector) TimersAllocated(n int) {
	if c != nil {
		c.TimersActive.Set(float64(n))
	}
}

func (c *Collector) Key() {
	if c != nil {
		c.KeyEvents.Inc()
	}
}
