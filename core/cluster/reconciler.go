package cluster

import (
	"reflect"
	"sync"

	"SpotWire/logger"
)

// ChangeHandler is invoked when a watched expression's value changes
// between two snapshots.
type ChangeHandler func(current *Cluster, oldValue, newValue any)

// ReceiveHandler is invoked for every snapshot the reconciler applies.
type ReceiveHandler func(current *Cluster)

type watchEntry struct {
	expr     Expr
	handlers []ChangeHandler
}

// Reconciler holds the latest reconciled snapshot and turns each incoming
// snapshot into field-level change notifications. Snapshots are applied in
// arrival order; callbacks are dispatched fire-and-forget on their own
// goroutines, so they may run concurrently with the next update.
type Reconciler struct {
	mu      sync.RWMutex
	current *Cluster
	ready   bool

	onReceive []ReceiveHandler
	onReady   []ReceiveHandler

	// keyed watches share one entry per dotted path (insertion-ordered
	// handlers); function expressions each get their own slot.
	watchIndex map[string]*watchEntry
	watches    []*watchEntry

	// spawn dispatches one callback invocation; tests replace it to run
	// synchronously.
	spawn func(fn func())
}

// NewReconciler returns an empty reconciler with no snapshot.
func NewReconciler() *Reconciler {
	return &Reconciler{
		watchIndex: make(map[string]*watchEntry),
		spawn:      func(fn func()) { go fn() },
	}
}

// Current returns the latest reconciled snapshot, or nil before the first
// update. The returned snapshot is never mutated afterwards.
func (r *Reconciler) Current() *Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReceive registers a callback fired for every applied snapshot.
func (r *Reconciler) OnReceive(fn ReceiveHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReceive = append(r.onReceive, fn)
}

// OnReady registers a callback fired once, on the first applied snapshot.
func (r *Reconciler) OnReady(fn ReceiveHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReady = append(r.onReady, fn)
}

// OnChange registers a handler for a watch expression. Handlers registered
// on the same dotted path fire in insertion order; ordering across
// different expressions is unspecified.
func (r *Reconciler) OnChange(expr Expr, fn ChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key := expr.Key(); key != "" {
		if entry, ok := r.watchIndex[key]; ok {
			entry.handlers = append(entry.handlers, fn)
			return
		}
		entry := &watchEntry{expr: expr, handlers: []ChangeHandler{fn}}
		r.watchIndex[key] = entry
		r.watches = append(r.watches, entry)
		return
	}

	r.watches = append(r.watches, &watchEntry{expr: expr, handlers: []ChangeHandler{fn}})
}

// Apply reconciles one decoded snapshot. It fires receive callbacks, the
// one-time ready callbacks, change handlers for every watched expression
// whose value differs, and finally retains nulled fields from the previous
// snapshot into the stored one.
func (r *Reconciler) Apply(next *Cluster) {
	if next == nil {
		return
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	first := !r.ready
	r.ready = true
	receive := r.onReceive
	ready := r.onReady
	watches := r.watches
	r.mu.Unlock()

	logger.Debug("cluster snapshot applied",
		logger.String("reason", next.UpdateReason),
		logger.Bool("first", first))

	for _, fn := range receive {
		fn := fn
		r.spawn(func() { fn(next) })
	}
	if first {
		for _, fn := range ready {
			fn := fn
			r.spawn(func() { fn(next) })
		}
	}

	if old == nil {
		// Nothing to diff against; the first snapshot only announces
		// readiness.
		return
	}

	for _, entry := range watches {
		oldValue, _ := entry.expr.Eval(old)
		newValue, ok := entry.expr.Eval(next)
		if !ok {
			// Absent on the new snapshot: retention keeps the old
			// value, so nothing changed.
			continue
		}
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		for _, fn := range entry.handlers {
			fn := fn
			r.spawn(func() { fn(next, oldValue, newValue) })
		}
	}

	merged := Merge(old, next)
	r.mu.Lock()
	// Merge never mutates inputs, so swapping is safe while callbacks
	// still read the pre-merge snapshot.
	r.current = merged
	r.mu.Unlock()
}
