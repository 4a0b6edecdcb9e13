package livemigrate

import (
	"context"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/graftwork/livemigrate/pkg/checkpoint"
	"github.com/graftwork/livemigrate/pkg/events"
	"github.com/graftwork/livemigrate/pkg/heapwalk"
	"github.com/graftwork/livemigrate/pkg/migerr"
	"github.com/graftwork/livemigrate/pkg/plan"
	"github.com/graftwork/livemigrate/pkg/rewrite"
	"github.com/graftwork/livemigrate/pkg/smoketest"
)

// MigrationRecord is one entry in the engine's bounded history ring buffer.
// Outcome is always one of PhaseDone or PhaseFailed.
type MigrationRecord struct {
	MigrationID  string
	StartedAt    time.Time
	EndedAt      time.Time
	Outcome      Phase
	FailureCause error
}

// Summary renders a record as a single human-readable line.
func (r MigrationRecord) Summary() string {
	d := r.EndedAt.Sub(r.StartedAt)
	if r.FailureCause != nil {
		return r.MigrationID + " " + r.Outcome.String() + " in " + d.String() + ": " + r.FailureCause.Error()
	}
	return r.MigrationID + " " + r.Outcome.String() + " in " + d.String()
}

// EngineConfig is everything NewEngine needs to bind the engine's
// collaborators into one orchestrator.
type EngineConfig struct {
	// Plan is the validated, topologically ordered transformer plan. A nil
	// plan is rejected at Preflight; an empty plan short-circuits straight
	// to Done.
	Plan *plan.Plan
	// Config holds the recognized options.
	Config Config
	// Checkpoint is the rollback primitive. Defaults to checkpoint.Noop if
	// left nil.
	Checkpoint checkpoint.Controller
	// Walker enumerates live instances of the plan's old types. Defaults to
	// heapwalk.FullWalker{} (always Unsupported) if left nil.
	Walker heapwalk.Walker
	// Roots is the application-declared root set the rewriter walks to
	// find and rewire references.
	Roots []interface{}
	// SmokeChecks run after a successful rewrite, before commit.
	SmokeChecks []smoketest.Check
	// Listener hooks the critical phase boundary. Defaults to
	// NoopPhaseListener.
	Listener PhaseListener
	// OnReplaced is the optional application registry hook, keyed by old
	// type.
	OnReplaced map[reflect.Type]rewrite.OnReplaced
	// Logger receives lifecycle log lines. Defaults to a discarding logger.
	Logger Logger
	// EventListeners are subscribed to the engine's event bus at
	// construction time.
	EventListeners []events.Listener
	// IDSource generates a migrationId per run. Defaults to "mig-" followed
	// by a UTC timestamp and a per-engine run counter.
	IDSource func() string
	// HeapSizeMiB reports the current process heap size in MiB, checked at
	// Preflight against Config's heap.size.min/max bounds. Defaults to a
	// reader backed by runtime.ReadMemStats.
	HeapSizeMiB func() int
}

// Engine drives the phase state machine, binding the plan, heap walker,
// reference rewriter, checkpoint controller, smoke test runner, and event
// bus.
type Engine struct {
	plan        *plan.Plan
	config      Config
	checkpoint  checkpoint.Controller
	walker      heapwalk.Walker
	roots       []interface{}
	smokeChecks []smoketest.Check
	listener    PhaseListener
	onReplaced  map[reflect.Type]rewrite.OnReplaced
	logger      Logger
	bus         *events.Bus
	idSource    func() string
	heapSizeMiB func() int

	// mu is the mutation freeze gate: the engine takes the write lock for
	// the critical phase; application code performing a mutation on a
	// plan-covered type is expected to hold a read lock via
	// BeginMutation/EndMutation for its duration, and will block while the
	// engine holds the write lock.
	mu sync.RWMutex

	historyMu sync.Mutex
	history   []MigrationRecord

	runCounter int
}

// NewEngine builds an Engine from cfg, filling in the documented defaults
// for any collaborator left nil.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		plan:        cfg.Plan,
		config:      cfg.Config,
		checkpoint:  cfg.Checkpoint,
		walker:      cfg.Walker,
		roots:       cfg.Roots,
		smokeChecks: cfg.SmokeChecks,
		listener:    cfg.Listener,
		onReplaced:  cfg.OnReplaced,
		logger:      cfg.Logger,
		idSource:    cfg.IDSource,
		heapSizeMiB: cfg.HeapSizeMiB,
	}
	if e.checkpoint == nil {
		e.checkpoint = checkpoint.Noop{}
	}
	if e.walker == nil {
		e.walker = heapwalk.FullWalker{}
	}
	if e.listener == nil {
		e.listener = NoopPhaseListener{}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.idSource == nil {
		e.idSource = e.nextMigrationID
	}
	if e.heapSizeMiB == nil {
		e.heapSizeMiB = currentHeapMiB
	}
	e.bus = events.NewBus(e.config.AlertLevel)
	for _, l := range cfg.EventListeners {
		e.bus.Subscribe(l)
	}
	return e
}

// BeginMutation acquires the read side of the mutation freeze gate.
// Application code performing a write to a plan-covered type should call
// this before mutating and EndMutation after, so the engine's critical
// phase can freeze it out.
func (e *Engine) BeginMutation() { e.mu.RLock() }

// EndMutation releases the read side acquired by BeginMutation.
func (e *Engine) EndMutation() { e.mu.RUnlock() }

// History returns the bounded ring buffer of past runs, oldest first.
func (e *Engine) History() []MigrationRecord {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]MigrationRecord, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) pushHistory(r MigrationRecord) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	limit := e.config.HistorySize
	if limit <= 0 {
		limit = 10
	}
	e.history = append(e.history, r)
	if len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}
}

func (e *Engine) nextMigrationID() string {
	e.runCounter++
	return "mig-" + time.Now().UTC().Format("20060102T150405.000000000") + "-" + itoa(e.runCounter)
}

// currentHeapMiB is the default HeapSizeMiB reader: the runtime's live
// heap allocation, in mebibytes.
func currentHeapMiB() int {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return int(stats.HeapAlloc / (1024 * 1024))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// Run executes one end-to-end migration: Preflight through Commit/Done, or
// Rollback/Failed on any error. The context bounds the snapshot and
// smoke-test suspension points.
func (e *Engine) Run(ctx context.Context) error {
	startedAt := time.Now()
	migID := e.idSource()
	mctx := &MigrationContext{Plan: e.plan, MigrationID: migID, StartedAtNanos: startedAt.UnixNano()}

	e.emit(mctx, "MigrationStarted", PhaseIdle, nil, events.LevelDebug)

	outcome, cause := e.drive(ctx, mctx)

	e.pushHistory(MigrationRecord{
		MigrationID:  migID,
		StartedAt:    startedAt,
		EndedAt:      time.Now(),
		Outcome:      outcome,
		FailureCause: cause,
	})

	if outcome == PhaseDone {
		e.emit(mctx, "MigrationCompleted", PhaseDone, nil, events.LevelDebug)
		return nil
	}
	e.emit(mctx, "MigrationFailed", outcome, cause, events.LevelError)
	return cause
}

// drive runs the phase sequence and returns the terminal phase plus the
// failure cause, if any. It never returns a non-terminal phase.
func (e *Engine) drive(ctx context.Context, mctx *MigrationContext) (Phase, error) {
	// The Idle -> Preflight transition is gated on plan.nonEmpty && config
	// valid (spec's state table); resolve that guard, and the nil/empty
	// plan short-circuit, before emitting any Preflight phase event so an
	// empty plan goes straight Idle -> Done with no events beyond
	// MigrationStarted/MigrationCompleted.
	if err := e.config.Validate(); err != nil {
		return PhaseFailed, err
	}
	if err := e.checkHeapBounds(); err != nil {
		return PhaseFailed, err
	}
	if e.plan == nil {
		return PhaseFailed, migerr.New(migerr.PlanInvalid, "plan is nil")
	}
	if e.plan.Empty() {
		return PhaseDone, nil
	}

	e.phaseEvent(mctx, PhasePreflight)
	e.phaseDone(mctx, PhasePreflight)

	e.phaseEvent(mctx, PhaseCheckpointing)
	if err := e.checkpoint.Checkpoint(); err != nil {
		return e.rollback(mctx, PhaseCheckpointing, migerr.Wrap(migerr.CheckpointFailed, err, "checkpoint failed"))
	}
	e.phaseDone(mctx, PhaseCheckpointing)

	e.phaseEvent(mctx, PhaseFrozen)
	e.mu.Lock()
	frozen := true
	criticalStart := time.Now()
	unfreeze := func() {
		if frozen {
			e.mu.Unlock()
			frozen = false
		}
	}
	defer unfreeze()

	if err := callListener(func() error { return e.listener.OnBeforeCriticalPhase(mctx) }); err != nil {
		return e.rollback(mctx, PhaseFrozen, migerr.Wrap(migerr.FreezeFailed, err, "onBeforeCriticalPhase failed"))
	}
	e.phaseDone(mctx, PhaseFrozen)

	e.phaseEvent(mctx, PhaseSnapshot)
	snapshotCtx, cancel := withOptionalTimeout(ctx, e.config.TimeoutHeapWalk)
	defer cancel()
	snapshot, err := e.snapshotAll(snapshotCtx, e.plan.SourceTypes())
	if err != nil {
		return e.rollback(mctx, PhaseSnapshot, migerr.Wrap(migerr.SnapshotFailed, err, "heap snapshot failed"))
	}
	e.phaseDone(mctx, PhaseSnapshot)

	e.phaseEvent(mctx, PhaseRewrite)
	if err := e.rewriteAll(snapshot); err != nil {
		return e.rollback(mctx, PhaseRewrite, err)
	}
	if d := e.config.TimeoutCriticalPhase; d > 0 && time.Since(criticalStart) > d {
		return e.rollback(mctx, PhaseRewrite, migerr.New(migerr.FreezeFailed, "critical phase exceeded timeout.critical.phase bound"))
	}
	e.phaseDone(mctx, PhaseRewrite)

	if err := callListener(func() error { return e.listener.OnAfterCriticalPhase(mctx) }); err != nil {
		// Listener exceptions after the critical phase are logged and
		// swallowed; the critical phase already completed successfully and
		// must not be rolled back for this.
		e.logger.Log(events.LevelWarning, "phase listener failed after critical phase", "migrationId", mctx.MigrationID, "error", err)
	}

	// The critical phase (Frozen through a successful Rewrite) is over;
	// release mutation freeze before the smoke-test suite runs, since smoke
	// tests are allowed to observe the migrated, unfrozen graph.
	unfreeze()

	e.phaseEvent(mctx, PhaseSmokeTest)
	smokeCtx, smokeCancel := withOptionalTimeout(ctx, e.config.TimeoutSmokeTest)
	defer smokeCancel()
	runner := smoketest.Runner{Timeout: e.config.TimeoutSmokeTest}
	if err := runner.Run(smokeCtx, e.smokeChecks); err != nil {
		return e.rollback(mctx, PhaseSmokeTest, err)
	}
	e.phaseDone(mctx, PhaseSmokeTest)

	e.phaseEvent(mctx, PhaseCommit)
	if err := e.checkpoint.DeleteCheckpoint(); err != nil {
		// Best-effort cleanup: log, don't fail the migration, which is
		// already considered Done.
		e.logger.Log(events.LevelWarning, "checkpoint cleanup failed", "migrationId", mctx.MigrationID, "error", err)
	}
	e.phaseDone(mctx, PhaseCommit)

	return PhaseDone, nil
}

// checkHeapBounds rejects the run if the current heap size falls outside
// the configured heap.size.min/max bounds. A bound of 0 is unset and
// imposes no constraint on that side.
func (e *Engine) checkHeapBounds() error {
	min, max := e.config.HeapSizeMinMiB, e.config.HeapSizeMaxMiB
	if min <= 0 && max <= 0 {
		return nil
	}
	cur := e.heapSizeMiB()
	if min > 0 && cur < min {
		return migerr.New(migerr.PlanInvalid, "current heap size below heap.size.min bound")
	}
	if max > 0 && cur > max {
		return migerr.New(migerr.PlanInvalid, "current heap size above heap.size.max bound")
	}
	return nil
}

// snapshotAll enumerates every type in types. When Config.TimeoutHeapSnapshot
// is set, each type is walked with its own bounded sub-context (in addition
// to ctx's overall timeout.heap.walk bound) and the per-type results are
// merged; otherwise all types are requested from the walker in one call.
func (e *Engine) snapshotAll(ctx context.Context, types []reflect.Type) (*heapwalk.Snapshot, error) {
	if e.config.TimeoutHeapSnapshot <= 0 || len(types) == 0 {
		return e.walker.Snapshot(ctx, types)
	}

	merged := heapwalk.NewSnapshot()
	for _, t := range types {
		typeCtx, cancel := context.WithTimeout(ctx, e.config.TimeoutHeapSnapshot)
		snap, err := e.walker.Snapshot(typeCtx, []reflect.Type{t})
		cancel()
		if err != nil {
			return nil, err
		}
		merged.Merge(snap)
	}
	return merged, nil
}

// rewriteAll constructs replacements and rewires references for each
// descriptor in the plan's topological order, one type at a time: all
// replacements for a type are constructed before any slot for that type is
// rewired, and types are processed strictly in plan order.
func (e *Engine) rewriteAll(snapshot *heapwalk.Snapshot) error {
	rewriter := rewrite.Rewriter{}

	for _, d := range e.plan.Ordered() {
		instances := snapshot.For(d.From)
		if len(instances) == 0 {
			continue
		}

		typeMap := rewrite.NewMap()
		pairs := make([][2]reflect.Value, 0, len(instances))

		for _, old := range instances {
			replacement, err := d.Transformer.Migrate(old)
			if err != nil {
				return migerr.Wrap(migerr.TransformFailed, err, "transformer for "+d.From.String()+" failed")
			}
			// Chain resolution: if the freshly built replacement is itself
			// a type the plan migrates further (the "B" in an A->B->C
			// chain), carry it the rest of the way now rather than leaving
			// a B behind for a second pass.
			final, err := e.resolveChain(replacement)
			if err != nil {
				return err
			}
			typeMap.Put(old, final)
			pairs = append(pairs, [2]reflect.Value{old, final})
		}

		if err := rewriter.Rewire(e.roots, typeMap); err != nil {
			return migerr.Wrap(migerr.RewriteFailed, err, "rewiring "+d.From.String()+" failed")
		}

		if hook, ok := e.onReplaced[d.From]; ok {
			for _, pair := range pairs {
				hook(pair[0], pair[1])
			}
		}
	}

	return nil
}

// resolveChain follows the plan from replacement's type until it reaches a
// type the plan does not migrate further, applying each intermediate
// transformer in turn.
func (e *Engine) resolveChain(replacement reflect.Value) (reflect.Value, error) {
	current := replacement
	elemType := elementType(current)
	for {
		next, ok := e.plan.Lookup(elemType)
		if !ok {
			return current, nil
		}
		transformed, err := next.Transformer.Migrate(current)
		if err != nil {
			return reflect.Value{}, migerr.Wrap(migerr.TransformFailed, err, "chained transformer for "+elemType.String()+" failed")
		}
		current = transformed
		elemType = elementType(current)
	}
}

func elementType(v reflect.Value) reflect.Type {
	t := v.Type()
	if t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

// rollback attempts to restore from checkpoint and returns the terminal
// phase. Restore is invoked at most once per run.
func (e *Engine) rollback(mctx *MigrationContext, failedAt Phase, cause error) (phase Phase, err error) {
	e.emit(mctx, "RollbackTriggered", failedAt, cause, events.LevelWarning)

	phase, restoreErr := e.attemptRestore()
	if restoreErr != nil {
		e.emit(mctx, "RollbackFailed", PhaseRollback, restoreErr, events.LevelError)
		return PhaseFailed, restoreErr
	}
	if phase == PhaseDone {
		return PhaseDone, nil
	}
	return PhaseFailed, cause
}

// attemptRestore calls the checkpoint controller's Restore and interprets
// the outcome: a controller that performs a genuine non-local restore
// signals success by panicking checkpoint.RestoreSignal (recovered here,
// never propagated) rather than returning; a normal return (nil or error)
// means restore either did not occur or is unsupported.
func (e *Engine) attemptRestore() (phase Phase, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(checkpoint.RestoreSignal); ok {
				phase, err = PhaseDone, nil
				return
			}
			panic(r)
		}
	}()

	restoreErr := e.checkpoint.Restore()
	if restoreErr != nil {
		return PhaseFailed, restoreErr
	}
	return PhaseFailed, migerr.New(migerr.RestoreDidNotOccur, "restoreFromCheckpoint returned without restoring")
}

func (e *Engine) phaseEvent(mctx *MigrationContext, p Phase) {
	e.emit(mctx, "PhaseStarted", p, nil, events.LevelDebug)
}

func (e *Engine) phaseDone(mctx *MigrationContext, p Phase) {
	e.emit(mctx, "PhaseCompleted", p, nil, events.LevelDebug)
}

func (e *Engine) emit(mctx *MigrationContext, eventType string, phase Phase, cause error, sev events.AlertLevel) {
	evt := events.Event{
		Type:        eventType,
		MigrationID: mctx.MigrationID,
		TimestampMS: events.NowMS(time.Now()),
		Severity:    sev,
	}
	if phase != PhaseIdle {
		evt.Phase = phase.String()
	}
	if cause != nil {
		evt.Cause = &events.Cause{Message: cause.Error(), Kind: string(migerr.KindOf(cause))}
	}
	e.bus.Emit(evt)
	e.logger.Log(sev, eventType, "migrationId", mctx.MigrationID, "phase", evt.Phase)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
