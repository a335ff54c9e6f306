// Package runtime assembles every other package into the orchestrator the
// control plane talks to: it owns the scheduler loop, the per-branch
// journal/snapshot pair, the branch DAG, the pattern/reaction engine, the
// entity catalog, and the read-model dataspace, and exposes the operations a
// caller drives a runtime instance through (step, fork, time-travel,
// register entities and reactions, inspect state).
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/loom/pkg/actor"
	"github.com/cuemby/loom/pkg/branch"
	"github.com/cuemby/loom/pkg/config"
	"github.com/cuemby/loom/pkg/dataspace"
	"github.com/cuemby/loom/pkg/events"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/journal"
	"github.com/cuemby/loom/pkg/metrics"
	"github.com/cuemby/loom/pkg/pattern"
	"github.com/cuemby/loom/pkg/reaction"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/rtlog"
	"github.com/cuemby/loom/pkg/scheduler"
	"github.com/cuemby/loom/pkg/schema"
	"github.com/cuemby/loom/pkg/snapshot"
	"github.com/cuemby/loom/pkg/state"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
	"github.com/cuemby/loom/pkg/value"
)

// Runtime is one running instance of the actor dataspace, scoped to a root
// directory on disk.
type Runtime struct {
	mu sync.Mutex

	store storage.Storage
	cfg   config.RuntimeConfig

	currentBranch ids.BranchId
	branches      *branch.Manager
	journals      map[ids.BranchId]*journal.Journal

	snapshots *snapshot.Manager
	dataspace *dataspace.Store
	patterns  *pattern.Engine
	reactions *reaction.Manager
	entities  *actor.Registry
	scheduler *scheduler.Scheduler
	events    *events.Broker

	actors     map[ids.ActorId]*actor.Actor
	turnCounts map[ids.BranchId]uint64

	assertions   *state.AssertionSet
	facets       *state.FacetMap
	capabilities *state.CapabilityMap
}

// Init lays down a fresh runtime root on disk: the directory layout, the
// initial config document, and the schema registry.
func Init(root string, cfg config.RuntimeConfig) error {
	schema.Init()
	if _, err := storage.Init(root); err != nil {
		return err
	}
	data, err := config.Encode(cfg)
	if err != nil {
		return err
	}
	return storage.WriteAtomic(storage.New(root).ConfigPath(), data)
}

// New opens an existing runtime root, validating and repairing its main
// branch journal and rebuilding the dataspace read model if it is missing or
// stale.
func New(root string) (*Runtime, error) {
	schema.Init()
	store := storage.New(root)

	raw, err := storage.ReadFile(store.ConfigPath())
	if err != nil {
		return nil, err
	}
	cfg, err := config.Decode(raw)
	if err != nil {
		return nil, err
	}

	branches, err := branch.NewManager(store)
	if err != nil {
		return nil, err
	}
	snapshots, err := snapshot.NewManager(store, cfg.SnapshotInterval)
	if err != nil {
		return nil, err
	}
	ds, err := dataspace.Open(root)
	if err != nil {
		return nil, err
	}
	patterns := pattern.NewEngine()
	reactions := reaction.NewManager(store, patterns)
	if err := reactions.Load(); err != nil {
		return nil, err
	}

	r := &Runtime{
		store:         store,
		cfg:           cfg,
		currentBranch: ids.Main,
		branches:      branches,
		journals:      make(map[ids.BranchId]*journal.Journal),
		snapshots:     snapshots,
		dataspace:     ds,
		patterns:      patterns,
		reactions:     reactions,
		entities:      actor.NewRegistry(),
		scheduler:     scheduler.New(int64(cfg.FlowControlLimit)),
		events:        events.NewBroker(),
		actors:        make(map[ids.ActorId]*actor.Actor),
		turnCounts:    make(map[ids.BranchId]uint64),
		assertions:    state.NewAssertionSet(),
		facets:        state.NewFacetMap(),
		capabilities:  state.NewCapabilityMap(),
	}

	mainJournal, err := r.journalFor(ids.Main)
	if err != nil {
		return nil, err
	}
	mainBranch, err := branches.Get(ids.Main)
	if err != nil {
		return nil, err
	}
	if mainJournal.Len() > 0 {
		if err := r.restoreLocked(uint64(mainJournal.Len()), mainBranch.HeadTurn); err != nil {
			return nil, err
		}
	}

	metrics.RegisterComponent("journal", true, "ready")
	metrics.RegisterComponent("scheduler", true, "ready")
	metrics.RegisterComponent("dataspace", true, "ready")

	return r, nil
}

// HydrateActors rebuilds every actor recorded in the current branch's
// dataspace read model, using each actor's original type name and
// construction config. Entities implementing HydratableEntity are restored
// from the nearest snapshot's captured state rather than left at their
// factory's zero state. Call this once after registering every entity type
// the branch's actors depend on; New does not do this itself since it runs
// before the caller has had a chance to register anything.
func (r *Runtime) HydrateActors() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.dataspace.ListEntities(r.currentBranch)
	if err != nil {
		return err
	}

	snap, found, err := r.snapshots.NearestSnapshot(r.currentBranch, r.turnCounts[r.currentBranch])
	if err != nil {
		return err
	}

	for _, rec := range records {
		if _, exists := r.actors[rec.Actor]; exists {
			continue
		}
		cfg, _, err := value.Decode(rec.Config)
		if err != nil {
			return fmt.Errorf("runtime: decode config for actor %s: %w", rec.Actor, err)
		}
		entity, err := r.entities.Build(rec.TypeName, cfg)
		if err != nil {
			return err
		}
		if found {
			if blob, ok := snap.EntityStates[rec.Actor]; ok {
				if h, ok := entity.(actor.HydratableEntity); ok {
					v, _, err := value.Decode(blob)
					if err != nil {
						return fmt.Errorf("runtime: decode entity state for %s: %w", rec.Actor, err)
					}
					if err := h.RestoreState(v); err != nil {
						return fmt.Errorf("runtime: restore entity state for %s: %w", rec.Actor, err)
					}
				}
			}
		}
		r.actors[rec.Actor] = actor.Restore(rec.Actor, entity, rec.TypeName, cfg)
	}
	return nil
}

func (r *Runtime) journalFor(b ids.BranchId) (*journal.Journal, error) {
	if j, ok := r.journals[b]; ok {
		return j, nil
	}
	if err := r.store.EnsureBranchDirs(b); err != nil {
		return nil, err
	}
	j, err := journal.Open(r.store, b, journal.DefaultSegmentLimit)
	if err != nil {
		return nil, err
	}
	if _, err := j.ValidateAndRepair(); err != nil {
		return nil, err
	}
	r.journals[b] = j
	return j, nil
}

// RegisterEntity adds a named entity factory to the catalog. Registration is
// idempotent only in the sense that re-registering the same name fails; the
// runtime never silently overwrites a factory.
func (r *Runtime) RegisterEntity(name string, factory actor.Factory) error {
	return r.entities.Register(name, factory)
}

// RegisterReaction installs a standing reaction.
func (r *Runtime) RegisterReaction(rx reaction.Reaction) error {
	return r.reactions.Register(rx)
}

// ListReactions returns every registered reaction.
func (r *Runtime) ListReactions() []reaction.Reaction { return r.reactions.List() }

// Watch subscribes to the runtime's live activity feed. Callers must
// Unwatch when done to release the subscription's buffer.
func (r *Runtime) Watch() events.Subscriber { return r.events.Subscribe() }

// Unwatch releases a subscription created by Watch.
func (r *Runtime) Unwatch(sub events.Subscriber) { r.events.Unsubscribe(sub) }

// Close stops the event broker and releases the journal and dataspace file
// handles so the runtime's root can be safely reopened with New.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events.Stop()
	var firstErr error
	for _, j := range r.journals {
		if err := j.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.dataspace.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CreateActor builds an entity from a registered factory and admits it into
// the runtime as a fresh actor.
func (r *Runtime) CreateActor(typeName string, cfgValue value.Value) (ids.ActorId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, err := r.entities.Build(typeName, cfgValue)
	if err != nil {
		return ids.ActorId{}, err
	}
	a := actor.New(entity, typeName, cfgValue)
	r.actors[a.ID] = a
	if err := r.dataspace.RecordEntity(r.currentBranch, a.ID, typeName, cfgValue); err != nil {
		return ids.ActorId{}, err
	}
	return a.ID, nil
}

// SendMessage enqueues an external message to an actor's root facet.
func (r *Runtime) SendMessage(target ids.ActorId, payload value.Value) (turn.LogicalClock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.actors[target]
	if !ok {
		return 0, &rterrors.ActorError{Kind: rterrors.ActorNotFound, Actor: target.String()}
	}
	in := turn.ExternalMessage(target, a.RootFacet, payload)
	clock := r.scheduler.Enqueue(target, []turn.Input{in}, turn.CauseExternal)
	metrics.SchedulerQueueDepth.Set(float64(r.scheduler.PendingCount()))
	return clock, nil
}

// Step executes the single next ready turn, if any. It returns false if the
// scheduler has no releasable turn (empty queue or head actor blocked). If
// the turn's entity callback itself fails, Step returns a zero Record with
// ok=true: the turn is aborted (no journal write, outputs discarded) rather
// than treated as a runtime error.
func (r *Runtime) Step() (turn.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepLocked()
}

// StepN executes up to n turns, stopping early if the scheduler runs dry.
func (r *Runtime) StepN(n int) ([]turn.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []turn.Record
	for i := 0; i < n; i++ {
		rec, ok, err := r.stepLocked()
		if err != nil {
			return records, err
		}
		if !ok {
			break
		}
		// An aborted turn (entity callback failure) reports ok=true with a
		// zero Record so scheduling continues past it without counting
		// toward the committed turns returned to the caller.
		if rec.TurnID != "" {
			records = append(records, rec)
		}
	}
	return records, nil
}

// isEntityCallbackFailure reports whether err originates from an entity's
// own callback rejecting a turn, as opposed to a structural failure in the
// journal, snapshot, or dataspace layers.
func isEntityCallbackFailure(err error) bool {
	var ae *rterrors.ActorError
	return errors.As(err, &ae) && ae.Kind == rterrors.ActorExecutionFailed
}

func (r *Runtime) stepLocked() (turn.Record, bool, error) {
	st, ok := r.scheduler.NextTurn()
	if !ok {
		return turn.Record{}, false, nil
	}
	metrics.SchedulerQueueDepth.Set(float64(r.scheduler.PendingCount()))

	a, ok := r.actors[st.Actor]
	if !ok {
		return turn.Record{}, false, &rterrors.ActorError{Kind: rterrors.ActorNotFound, Actor: st.Actor.String()}
	}

	timer := metrics.NewTimer()
	outputs, delta, err := actor.ExecuteTurn(a, st.Clock, st.Inputs)
	timer.ObserveDuration(metrics.TurnExecutionDuration)
	if err != nil {
		metrics.TurnsFailedTotal.Inc()
		r.events.Publish(events.Event{Type: events.EventTurnFailed, Branch: r.currentBranch, Actor: st.Actor})
		if isEntityCallbackFailure(err) {
			// The entity itself rejected this turn: no journal write, no
			// committed record, but the scheduler still moves on.
			return turn.Record{}, true, nil
		}
		return turn.Record{}, false, err
	}
	metrics.TurnsExecutedTotal.WithLabelValues(string(st.Cause)).Inc()

	r.scheduler.UpdateAccount(st.Actor, delta.Accounts)

	j, err := r.journalFor(r.currentBranch)
	if err != nil {
		return turn.Record{}, false, err
	}
	branchMeta, err := r.branches.Get(r.currentBranch)
	if err != nil {
		return turn.Record{}, false, err
	}
	parent := branchMeta.HeadTurn
	rec, err := turn.NewRecord(st.Actor, r.currentBranch, st.Clock, &parent, st.Inputs, outputs, delta, nowUnix())
	if err != nil {
		return turn.Record{}, false, err
	}

	jTimer := metrics.NewTimer()
	if err := j.Append(rec); err != nil {
		return turn.Record{}, false, err
	}
	jTimer.ObserveDuration(metrics.JournalAppendDuration)

	r.assertions.Apply(delta.Assertions)
	r.facets.Apply(delta.Facets)
	r.capabilities.Apply(delta.Capabilities)
	if err := r.dataspace.ApplyDelta(r.currentBranch, delta); err != nil {
		return turn.Record{}, false, err
	}
	if err := r.fireReactions(delta); err != nil {
		return turn.Record{}, false, err
	}

	count := r.turnCounts[r.currentBranch] + 1
	r.turnCounts[r.currentBranch] = count
	if err := r.branches.UpdateHead(r.currentBranch, rec.TurnID); err != nil {
		return turn.Record{}, false, err
	}
	if r.snapshots.ShouldSnapshot(count) {
		if err := r.writeSnapshot(rec.TurnID, count); err != nil {
			return turn.Record{}, false, err
		}
	}

	for _, out := range outputs {
		if out.Kind == turn.OutputMessage {
			if target, ok := r.actors[out.TargetActor]; ok {
				r.scheduler.Enqueue(out.TargetActor, []turn.Input{
					turn.Message(out.TargetActor, target.RootFacet, out.Payload),
				}, turn.CauseMessage)
			}
		}
	}

	r.events.Publish(events.Event{
		Type:     events.EventTurnExecuted,
		Branch:   r.currentBranch,
		Actor:    st.Actor,
		Metadata: map[string]string{"turn_id": string(rec.TurnID), "cause": string(st.Cause)},
	})

	rtlog.WithTurn(string(rec.TurnID)).Debug().
		Str("actor", st.Actor.String()).
		Uint64("clock", uint64(st.Clock)).
		Msg("turn executed")
	return rec, true, nil
}

// fireReactions evaluates every assertion this turn produced against the
// pattern engine and fires any reaction that matches. Each firing reaction
// runs as its own atomic effect, scoped to the reaction's own actor/facet
// rather than the asserting actor's, and folds straight into the same
// journal/dataspace bookkeeping as an ordinary turn.
func (r *Runtime) fireReactions(delta state.Delta) error {
	for _, add := range delta.Assertions.Added {
		matches := r.patterns.EvalAssert(add.Handle, add.Value)
		for _, m := range matches {
			if err := r.fireOne(m); err != nil {
				return err
			}
		}
	}
	for _, ret := range delta.Assertions.Retracted {
		r.patterns.EvalRetract(ret.Handle)
	}
	return nil
}

func (r *Runtime) fireOne(m pattern.Match) error {
	rx, ok := r.reactions.Get(m.PatternID)
	if !ok {
		return nil
	}
	target, ok := r.actors[rx.Actor]
	if !ok {
		return nil
	}
	facet := rx.Facet
	if facet == (ids.FacetId{}) {
		facet = target.RootFacet
	}

	outputs, delta, err := actor.ExecuteEffect(target, facet, func(act *actor.Activation) error {
		return r.reactions.Fire(m.PatternID, act, m.Value)
	})
	if err != nil {
		return err
	}
	metrics.ReactionsFiredTotal.Inc()
	r.events.Publish(events.Event{
		Type:     events.EventReactionFired,
		Branch:   r.currentBranch,
		Actor:    rx.Actor,
		Metadata: map[string]string{"pattern_id": m.PatternID.String()},
	})

	r.assertions.Apply(delta.Assertions)
	r.facets.Apply(delta.Facets)
	r.capabilities.Apply(delta.Capabilities)
	if err := r.dataspace.ApplyDelta(r.currentBranch, delta); err != nil {
		return err
	}
	for _, out := range outputs {
		if out.Kind == turn.OutputMessage {
			if t, ok := r.actors[out.TargetActor]; ok {
				r.scheduler.Enqueue(out.TargetActor, []turn.Input{
					turn.Message(out.TargetActor, t.RootFacet, out.Payload),
				}, turn.CauseMessage)
			}
		}
	}
	return nil
}

func (r *Runtime) writeSnapshot(head turn.TurnID, count uint64) error {
	timer := metrics.NewTimer()
	entityStates := make(map[ids.ActorId][]byte)
	for id, a := range r.actors {
		root, err := a.Facet(a.RootFacet)
		if err != nil {
			continue
		}
		h, ok := root.Entity.(actor.HydratableEntity)
		if !ok {
			continue
		}
		blob, err := value.Encode(nil, h.SnapshotState())
		if err != nil {
			return fmt.Errorf("runtime: snapshot entity state for %s: %w", id, err)
		}
		entityStates[id] = blob
	}
	snap := snapshot.Snapshot{
		Branch:       r.currentBranch,
		TurnID:       head,
		TurnCount:    count,
		Assertions:   r.assertions,
		Facets:       r.facets,
		Capabilities: r.capabilities,
		EntityStates: entityStates,
	}
	if err := r.snapshots.Save(snap); err != nil {
		return err
	}
	timer.ObserveDuration(metrics.SnapshotDuration)
	metrics.SnapshotsWrittenTotal.WithLabelValues(string(r.currentBranch)).Inc()
	return nil
}

// Fork creates a new branch from source at baseTurn, inheriting its state
// reference. The current branch is unchanged; SwitchBranch moves
// scheduling to the new branch.
func (r *Runtime) Fork(source ids.BranchId, name ids.BranchId, baseTurn turn.TurnID) (branch.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.branches.Fork(source, name, baseTurn)
	if err != nil {
		return branch.Branch{}, err
	}
	if _, err := r.journalFor(name); err != nil {
		return branch.Branch{}, err
	}
	metrics.BranchForksTotal.Inc()
	r.events.Publish(events.Event{
		Type:     events.EventBranchForked,
		Branch:   name,
		Metadata: map[string]string{"source": string(source), "base_turn": string(baseTurn)},
	})
	return b, nil
}

// SwitchBranch changes which branch subsequent Step calls execute against.
func (r *Runtime) SwitchBranch(b ids.BranchId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.branches.Get(b); err != nil {
		return err
	}
	if _, err := r.journalFor(b); err != nil {
		return err
	}
	r.currentBranch = b
	r.events.Publish(events.Event{Type: events.EventBranchSwitched, Branch: b})
	return nil
}

// Status reports the runtime's current position.
type Status struct {
	Branch    ids.BranchId
	Head      turn.TurnID
	TurnCount uint64
	Pending   int
}

func (r *Runtime) Status() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.branches.Get(r.currentBranch)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Branch:    r.currentBranch,
		Head:      b.HeadTurn,
		TurnCount: r.turnCounts[r.currentBranch],
		Pending:   r.scheduler.PendingCount(),
	}, nil
}

// ListAssertions returns the dataspace's live assertion view for the current
// branch.
func (r *Runtime) ListAssertions() ([]dataspace.AssertionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataspace.ListAssertions(r.currentBranch)
}

// ListCapabilities returns every capability ever granted on the current
// branch.
func (r *Runtime) ListCapabilities() ([]dataspace.CapabilityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataspace.ListCapabilities(r.currentBranch)
}

// ListEntities returns every registered actor on the current branch.
func (r *Runtime) ListEntities() ([]dataspace.EntityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataspace.ListEntities(r.currentBranch)
}

// AssertionEventsSince returns assertion events on the current branch with
// sequence numbers greater than since.
func (r *Runtime) AssertionEventsSince(since uint64) ([]dataspace.AssertionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataspace.AssertionEventsSince(r.currentBranch, since)
}

// InvokeCapability invokes a previously granted capability against its
// holder actor, recording the result as a capability-invoked output.
func (r *Runtime) InvokeCapability(cap ids.CapId, args value.Value) (value.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.capabilities.Get(cap)
	if !ok {
		return value.Value{}, &rterrors.CapabilityError{Kind: rterrors.CapabilityNotFound, CapID: cap.String()}
	}
	a, ok := r.actors[meta.HolderActor]
	if !ok {
		return value.Value{}, &rterrors.ActorError{Kind: rterrors.ActorNotFound, Actor: meta.HolderActor.String()}
	}
	f, err := a.Facet(meta.HolderFacet)
	if err != nil {
		return value.Value{}, err
	}

	var result value.Value
	_, delta, err := actor.ExecuteEffect(a, meta.HolderFacet, func(act *actor.Activation) error {
		res, err := f.Entity.OnCapabilityInvoke(act, meta, args)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return value.Value{}, err
	}

	r.assertions.Apply(delta.Assertions)
	r.facets.Apply(delta.Facets)
	r.capabilities.Apply(delta.Capabilities)
	if err := r.dataspace.ApplyDelta(r.currentBranch, delta); err != nil {
		return value.Value{}, err
	}
	return result, nil
}

// Back rewinds the current branch n turns, a shorthand for Goto of whatever
// turn id was current n turns ago.
func (r *Runtime) Back(n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.turnCounts[r.currentBranch]
	if n > count {
		return fmt.Errorf("runtime: back(%d) exceeds current turn count %d", n, count)
	}
	target := count - n
	targetHead, err := r.turnIDAtCountLocked(target)
	if err != nil {
		return err
	}
	metrics.TimeTravelStepsTotal.WithLabelValues("back").Inc()
	return r.replayToLocked(target, targetHead)
}

// Goto loads the nearest snapshot at or before targetTurn on the current
// branch and replays the journal's recorded deltas up to and including
// targetTurn, bypassing entity callbacks: replay is deterministic because it
// re-applies exactly what was recorded, not what the entity would decide
// given the chance to run again. The on-disk journal is not rewritten;
// turns re-diverge from this point on the next Step.
func (r *Runtime) Goto(targetTurn turn.TurnID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	targetCount, err := r.turnCountForLocked(targetTurn)
	if err != nil {
		return err
	}
	metrics.TimeTravelStepsTotal.WithLabelValues("goto").Inc()
	return r.replayToLocked(targetCount, targetTurn)
}

// turnIDAtCountLocked returns the turn id of the targetCount'th turn on the
// current branch, or ZeroTurnID if targetCount is 0 (no turns yet).
func (r *Runtime) turnIDAtCountLocked(targetCount uint64) (turn.TurnID, error) {
	if targetCount == 0 {
		return turn.ZeroTurnID, nil
	}
	j, err := r.journalFor(r.currentBranch)
	if err != nil {
		return "", err
	}
	records, err := j.IterAll()
	if err != nil {
		return "", err
	}
	if targetCount > uint64(len(records)) {
		return "", fmt.Errorf("runtime: turn count %d exceeds journal length %d", targetCount, len(records))
	}
	return records[targetCount-1].TurnID, nil
}

// turnCountForLocked returns how many turns precede and include id on the
// current branch's journal.
func (r *Runtime) turnCountForLocked(id turn.TurnID) (uint64, error) {
	if id == turn.ZeroTurnID {
		return 0, nil
	}
	j, err := r.journalFor(r.currentBranch)
	if err != nil {
		return 0, err
	}
	records, err := j.IterAll()
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if rec.TurnID == id {
			return uint64(i + 1), nil
		}
	}
	return 0, &rterrors.JournalError{Kind: rterrors.JournalTurnNotFound, Detail: string(id)}
}

// restoreLocked rebuilds the current branch's assertions, facets, and
// capabilities by loading the nearest snapshot at or before targetCount and
// replaying the journal's recorded deltas up to it, then resyncs the
// dataspace read model and the branch's on-disk head pointer to targetHead.
// It is the shared recovery path for reopening a runtime (New) and for
// time travel (Back/Goto).
func (r *Runtime) restoreLocked(targetCount uint64, targetHead turn.TurnID) error {
	snap, found, err := r.snapshots.NearestSnapshot(r.currentBranch, targetCount)
	if err != nil {
		return err
	}

	assertions := state.NewAssertionSet()
	facets := state.NewFacetMap()
	caps := state.NewCapabilityMap()
	var baseCount uint64
	if found {
		assertions.Join(snap.Assertions)
		facets.Join(snap.Facets)
		caps.Join(snap.Capabilities)
		baseCount = snap.TurnCount
	}

	j, err := r.journalFor(r.currentBranch)
	if err != nil {
		return err
	}
	records, err := j.IterAll()
	if err != nil {
		return err
	}

	var applied uint64
	for _, rec := range records {
		if applied >= baseCount && applied < targetCount {
			assertions.Apply(rec.Delta.Assertions)
			facets.Apply(rec.Delta.Facets)
			caps.Apply(rec.Delta.Capabilities)
		}
		applied++
		if applied >= targetCount {
			break
		}
	}

	r.assertions = assertions
	r.facets = facets
	r.capabilities = caps
	r.turnCounts[r.currentBranch] = targetCount
	if err := r.dataspace.LoadSnapshot(r.currentBranch, assertions, caps); err != nil {
		return err
	}
	return r.branches.UpdateHead(r.currentBranch, targetHead)
}

func (r *Runtime) replayToLocked(targetCount uint64, targetHead turn.TurnID) error {
	if err := r.restoreLocked(targetCount, targetHead); err != nil {
		return err
	}
	r.events.Publish(events.Event{
		Type:   events.EventTimeTraveled,
		Branch: r.currentBranch,
		Metadata: map[string]string{
			"target_turn_count": fmt.Sprintf("%d", targetCount),
			"target_turn":       string(targetHead),
		},
	})
	return nil
}

func nowUnix() int64 { return time.Now().UnixNano() }
