// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package events carries the protocol's operation log. Events publish only
// after the operation they describe commits.
package events

import (
	"math/big"
	"sync"

	"github.com/poolfi/poolfi/poolfi"
)

// Event describes one committed operation.
type Event struct {
	Name   string         `json:"name"`
	Entity string         `json:"entity,omitempty"`
	Actor  poolfi.Address `json:"actor"`
	Amount *big.Int       `json:"amount,omitempty"`
	State  string         `json:"state,omitempty"`
}

// Sink receives committed events.
type Sink interface {
	Publish(Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// MemorySink retains recent events in memory, newest last.
type MemorySink struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewMemorySink creates a sink retaining at most limit events.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

func (s *MemorySink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
}

// Recent returns the retained events, newest last.
func (s *MemorySink) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
