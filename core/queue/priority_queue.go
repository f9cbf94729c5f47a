// priority_queue.go - Priority queue.
// Copyright (C) 2017, 2018  David Anthony Stainton, Yawning Angel
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package queue implements a min priority queue.
package queue

import "container/heap"

// Entry is a PriorityQueue entry.
type Entry[T any] struct {
	Value    T
	Priority uint64

	// seq breaks ties so that equal priorities dequeue in insertion order.
	seq uint64
}

// PriorityQueue is a priority queue instance, lowest priority first.
type PriorityQueue[T any] struct {
	heap []*Entry[T]
	seq  uint64
}

type entries[T any] PriorityQueue[T]

func (q *entries[T]) Len() int {
	return len(q.heap)
}

func (q *entries[T]) Less(i, j int) bool {
	if q.heap[i].Priority == q.heap[j].Priority {
		return q.heap[i].seq < q.heap[j].seq
	}
	return q.heap[i].Priority < q.heap[j].Priority
}

func (q *entries[T]) Swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
}

func (q *entries[T]) Push(x interface{}) {
	q.heap = append(q.heap, x.(*Entry[T]))
}

func (q *entries[T]) Pop() interface{} {
	n := len(q.heap)
	e := q.heap[n-1]
	q.heap[n-1] = nil
	q.heap = q.heap[:n-1]
	return e
}

// Enqueue inserts the provided value into the queue with the specified
// priority.
func (q *PriorityQueue[T]) Enqueue(priority uint64, value T) {
	q.seq++
	heap.Push((*entries[T])(q), &Entry[T]{
		Value:    value,
		Priority: priority,
		seq:      q.seq,
	})
}

// Peek returns the entry with the lowest priority if any, leaving the
// PriorityQueue unaltered.  Callers MUST NOT alter the Priority of the
// returned entry.
func (q *PriorityQueue[T]) Peek() *Entry[T] {
	if q.Len() == 0 {
		return nil
	}
	return q.heap[0]
}

// Dequeue removes and returns the entry with the lowest priority, or nil
// if the queue is empty.
func (q *PriorityQueue[T]) Dequeue() *Entry[T] {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop((*entries[T])(q)).(*Entry[T])
}

// Len returns the current length of the priority queue.
func (q *PriorityQueue[T]) Len() int {
	return len(q.heap)
}

// New creates a new PriorityQueue.
func New[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{
		heap: make([]*Entry[T], 0),
	}
}
