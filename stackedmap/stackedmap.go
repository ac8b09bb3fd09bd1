// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stackedmap

// StackedMap maintains maps in a stack.
// Each map inherits key/value of the map at the lower level.
// It acts as a map with save-restore/snapshot-revert manner.
type StackedMap struct {
	src            MapGetter
	mapStack       stack[*level]
	keyRevisionMap map[any]*stack[int]
}

type level struct {
	kvs     map[any]any
	journal []*JournalEntry
}

func newLevel() *level {
	return &level{kvs: make(map[any]any)}
}

// JournalEntry entry of journal.
type JournalEntry struct {
	Key   any
	Value any
}

// MapGetter defines the getter method of the backing map.
type MapGetter func(key any) (value any, exist bool, err error)

// New creates an instance of StackedMap.
// src acts as the source of data.
func New(src MapGetter) *StackedMap {
	return &StackedMap{
		src,
		stack[*level]{},
		make(map[any]*stack[int]),
	}
}

// Depth returns depth of stack.
func (sm *StackedMap) Depth() int {
	return len(sm.mapStack)
}

// Push pushes a new map on stack.
// It returns stack depth before push.
func (sm *StackedMap) Push() int {
	sm.mapStack.push(newLevel())
	return len(sm.mapStack) - 1
}

// Pop pops the map at the top of the stack.
// It will revert all Put operations since the last Push.
func (sm *StackedMap) Pop() {
	top := sm.mapStack.top()
	for key := range top.kvs {
		revs := sm.keyRevisionMap[key]
		revs.pop()
		if len(*revs) == 0 {
			delete(sm.keyRevisionMap, key)
		}
	}
	sm.mapStack.pop()
}

// PopTo pops maps until the stack depth reaches depth.
func (sm *StackedMap) PopTo(depth int) {
	for len(sm.mapStack) > depth {
		sm.Pop()
	}
}

// Get gets value for given key.
// The second return value indicates whether the given key is found.
func (sm *StackedMap) Get(key any) (any, bool, error) {
	if revs, ok := sm.keyRevisionMap[key]; ok {
		lvl := sm.mapStack[revs.top()]
		if v, ok := lvl.kvs[key]; ok {
			return v, true, nil
		}
	}
	return sm.src(key)
}

// Put puts key value into the map at the stack top.
// It will panic if the stack is empty.
func (sm *StackedMap) Put(key, value any) {
	top := sm.mapStack.top()
	top.kvs[key] = value
	top.journal = append(top.journal, &JournalEntry{Key: key, Value: value})

	// records key revision for fast access
	// at most one revision per key per level, so Pop stays in sync
	rev := len(sm.mapStack) - 1
	if revs, ok := sm.keyRevisionMap[key]; ok {
		if revs.top() != rev {
			revs.push(rev)
		}
	} else {
		sm.keyRevisionMap[key] = &stack[int]{rev}
	}
}

// Journal iterates all Put operations in order, including those reverted by Pop.
// The iteration stops when cb returns false.
func (sm *StackedMap) Journal(cb func(key, value any) bool) {
	for _, lvl := range sm.mapStack {
		for _, entry := range lvl.journal {
			if !cb(entry.Key, entry.Value) {
				return
			}
		}
	}
}

// stack ops
type stack[T any] []T

func (s *stack[T]) pop() {
	*s = (*s)[:len(*s)-1]
}

func (s *stack[T]) push(v T) {
	*s = append(*s, v)
}

func (s stack[T]) top() T {
	return s[len(s)-1]
}
