// Package scheduler orders turns across all actors into a single logical
// stream: one global priority queue of ready work, keyed by logical clock and
// arrival order, gated per actor by a flow-control account.
package scheduler

import (
	"container/heap"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rtlog"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/turn"
)

// ScheduledTurn is one unit of pending work: a batch of inputs to deliver to
// Actor at the given logical clock.
type ScheduledTurn struct {
	Actor  ids.ActorId
	Clock  turn.LogicalClock
	Inputs []turn.Input
	Cause  turn.Cause

	seq uint64
}

// Scheduler maintains per-actor logical clocks, a global min-heap of ready
// turns ordered by (clock, arrival order), and per-actor flow-control
// accounts. A turn at the head of the heap is only released once its actor's
// account balance is below the configured credit limit.
type Scheduler struct {
	mu sync.Mutex

	creditLimit int64
	heap        turnHeap
	clocks      map[ids.ActorId]turn.LogicalClock
	accounts    map[ids.ActorId]*state.Account
	nextSeq     uint64

	logger zerolog.Logger
}

// New creates a Scheduler with the given per-actor credit limit. A limit of
// zero means actors are never gated: every ready turn is released.
func New(creditLimit int64) *Scheduler {
	return &Scheduler{
		creditLimit: creditLimit,
		clocks:      make(map[ids.ActorId]turn.LogicalClock),
		accounts:    make(map[ids.ActorId]*state.Account),
		logger:      rtlog.WithComponent("scheduler"),
	}
}

// Enqueue assigns the actor's next logical clock to inputs and pushes the
// resulting turn onto the ready queue.
func (s *Scheduler) Enqueue(actor ids.ActorId, inputs []turn.Input, cause turn.Cause) turn.LogicalClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clocks[actor].Next()
	s.clocks[actor] = next

	st := ScheduledTurn{Actor: actor, Clock: next, Inputs: inputs, Cause: cause, seq: s.nextSeq}
	s.nextSeq++
	heap.Push(&s.heap, st)

	s.logger.Debug().
		Str("actor", actor.String()).
		Uint64("clock", uint64(next)).
		Str("cause", string(cause)).
		Msg("turn enqueued")
	return next
}

// NextTurn peeks the head of the queue. If the head actor's account balance
// is at or above the credit limit, it returns false without popping anything:
// a blocked actor at the head stalls the whole queue, it is never skipped.
// Otherwise the head is popped and returned.
func (s *Scheduler) NextTurn() (ScheduledTurn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heap.Len() == 0 {
		return ScheduledTurn{}, false
	}
	head := s.heap[0]
	if s.blocked(head.Actor) {
		return ScheduledTurn{}, false
	}
	return heap.Pop(&s.heap).(ScheduledTurn), true
}

// blocked reports whether actor's account balance has reached the credit
// limit. Callers must hold s.mu.
func (s *Scheduler) blocked(actor ids.ActorId) bool {
	if s.creditLimit <= 0 {
		return false
	}
	acct := s.accounts[actor]
	if acct == nil {
		return false
	}
	return acct.Balance() >= s.creditLimit
}

// UpdateAccount folds a completed turn's (borrowed, repaid) flow-control
// delta into the actor's account.
func (s *Scheduler) UpdateAccount(actor ids.ActorId, delta state.AccountDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accounts[actor]
	if acct == nil {
		acct = &state.Account{}
		s.accounts[actor] = acct
	}
	acct.Apply(delta)
}

// Balance returns the actor's current flow-control account balance.
func (s *Scheduler) Balance(actor ids.ActorId) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accounts[actor]
	if acct == nil {
		return 0
	}
	return acct.Balance()
}

// HasReadyTurns reports whether the head of the queue, if any, is releasable
// right now (queue non-empty and its actor not blocked).
func (s *Scheduler) HasReadyTurns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heap.Len() == 0 {
		return false
	}
	return !s.blocked(s.heap[0].Actor)
}

// PendingCount returns the total number of turns currently queued, blocked or
// not.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Clock returns the most recently assigned logical clock for actor, or zero
// if the actor has never been scheduled.
func (s *Scheduler) Clock(actor ids.ActorId) turn.LogicalClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocks[actor]
}

// turnHeap implements container/heap.Interface, ordering ScheduledTurn values
// by (Clock, seq) so the lowest clock is released first, ties broken by
// arrival order.
type turnHeap []ScheduledTurn

func (h turnHeap) Len() int { return len(h) }

func (h turnHeap) Less(i, j int) bool {
	if h[i].Clock != h[j].Clock {
		return h[i].Clock < h[j].Clock
	}
	return h[i].seq < h[j].seq
}

func (h turnHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *turnHeap) Push(x any) { *h = append(*h, x.(ScheduledTurn)) }

func (h *turnHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
