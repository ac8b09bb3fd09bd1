// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poolfi/poolfi/log"
)

const namespace = "poolfi"

var logger = log.WithContext("pkg", "metrics")

// InitializePrometheusMetrics swaps the backend to prometheus.
// Must be called before meters are captured by callers.
func InitializePrometheusMetrics() {
	if _, ok := metrics.(*prometheusMetrics); !ok {
		metrics = newPrometheusMetrics()
	}
}

type prometheusMetrics struct {
	counters      sync.Map
	counterVecs   sync.Map
	gauges        sync.Map
}

func newPrometheusMetrics() Metrics {
	return &prometheusMetrics{}
}

func (p *prometheusMetrics) GetOrCreateCountMeter(name string) CountMeter {
	if meter, ok := p.counters.Load(name); ok {
		return meter.(CountMeter)
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name})
	if err := prometheus.Register(c); err != nil {
		logger.Warn("unable to register metric", "name", name, "error", err)
	}
	meter := &promCountMeter{c}
	p.counters.Store(name, meter)
	return meter
}

func (p *prometheusMetrics) GetOrCreateCountVecMeter(name string, labels []string) CountVecMeter {
	if meter, ok := p.counterVecs.Load(name); ok {
		return meter.(CountVecMeter)
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name}, labels)
	if err := prometheus.Register(c); err != nil {
		logger.Warn("unable to register metric", "name", name, "error", err)
	}
	meter := &promCountVecMeter{c}
	p.counterVecs.Store(name, meter)
	return meter
}

func (p *prometheusMetrics) GetOrCreateGaugeMeter(name string) GaugeMeter {
	if meter, ok := p.gauges.Load(name); ok {
		return meter.(GaugeMeter)
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name})
	if err := prometheus.Register(g); err != nil {
		logger.Warn("unable to register metric", "name", name, "error", err)
	}
	meter := &promGaugeMeter{g}
	p.gauges.Store(name, meter)
	return meter
}

func (p *prometheusMetrics) GetOrCreateHandler() http.Handler {
	return promhttp.Handler()
}

type promCountMeter struct {
	counter prometheus.Counter
}

func (c *promCountMeter) Add(v int64) {
	c.counter.Add(float64(v))
}

type promCountVecMeter struct {
	counter *prometheus.CounterVec
}

func (c *promCountVecMeter) AddWithLabel(v int64, labels map[string]string) {
	c.counter.With(labels).Add(float64(v))
}

type promGaugeMeter struct {
	gauge prometheus.Gauge
}

func (g *promGaugeMeter) Set(v int64) {
	g.gauge.Set(float64(v))
}
