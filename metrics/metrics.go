// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package metrics exposes operation meters behind a facade that defaults to
// no-op; the prometheus backend is enabled explicitly by the daemon, so
// library users pay nothing.
package metrics

import "net/http"

// Metrics defines the backend interface.
type Metrics interface {
	GetOrCreateCountMeter(name string) CountMeter
	GetOrCreateCountVecMeter(name string, labels []string) CountVecMeter
	GetOrCreateGaugeMeter(name string) GaugeMeter
	GetOrCreateHandler() http.Handler
}

// CountMeter is a cumulative counter.
type CountMeter interface {
	Add(int64)
}

// CountVecMeter is a cumulative counter with labels.
type CountVecMeter interface {
	AddWithLabel(int64, map[string]string)
}

// GaugeMeter is a value that can go up and down.
type GaugeMeter interface {
	Set(int64)
}

var metrics Metrics = defaultNoopMetrics()

// Counter returns the counter with the given name.
func Counter(name string) CountMeter {
	return metrics.GetOrCreateCountMeter(name)
}

// CounterVec returns the labeled counter with the given name.
func CounterVec(name string, labels []string) CountVecMeter {
	return metrics.GetOrCreateCountVecMeter(name, labels)
}

// Gauge returns the gauge with the given name.
func Gauge(name string) GaugeMeter {
	return metrics.GetOrCreateGaugeMeter(name)
}

// HTTPHandler returns the exposition handler of the active backend.
func HTTPHandler() http.Handler {
	h := metrics.GetOrCreateHandler()
	if h == nil {
		return http.NotFoundHandler()
	}
	return h
}
