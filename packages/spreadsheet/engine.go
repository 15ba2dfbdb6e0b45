package spreadsheet

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine keeps the dependency index of one grid in step with its contents
// and pushes invalidation to the formulas affected by each write.
//
// an invalidation pass runs in four steps: the edges of every written cell
// are recomputed, the cells transitively referring to them are collected,
// each of their expressions is invalidated and checked for circularity,
// and finally every affected cell is re-announced to the grid's other
// listeners so observers can recompute lazily.
//
// at most one pass runs per engine at a time. a write arriving while a pass
// is running, including writes made by listeners reacting to the announce
// step, is queued and handled once the running pass completes.
type Engine struct {
	grid     *Grid
	registry *Registry
	index    *DependencyIndex
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []pass
	running bool
}

// pass is one queued unit of invalidation work
type pass struct {
	ctx  context.Context
	kind string
	// local cells whose content changed; their edges are recomputed
	written []Cell
	// local cells that must be revalidated although their content did not
	// change, e.g. because a sheet they name appeared or went away
	stale []Cell
	// qualified cells of other sheets that changed
	foreign []Cell
	// cells already pushed to other sheets by the cascade this pass is in
	cascade *cascade
}

// NewEngine creates an engine for grid and subscribes it to the grid's
// write notifications. registry may be nil for a standalone grid.
func NewEngine(grid *Grid, registry *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		grid:     grid,
		registry: registry,
		index:    NewDependencyIndex(),
		logger:   logger,
	}
	grid.AddListener(e)
	return e
}

// Grid returns the grid the engine watches
func (e *Engine) Grid() *Grid {
	return e.grid
}

// Index returns the engine's dependency index
func (e *Engine) Index() *DependencyIndex {
	return e.index
}

// Detach unsubscribes the engine from its grid
func (e *Engine) Detach() {
	e.grid.RemoveListener(e)
}

// GridChanged implements ChangeListener
func (e *Engine) GridChanged(evt ChangeEvent) {
	if evt.Grid != e.grid {
		return
	}
	e.submit(pass{ctx: context.Background(), kind: passWrite, written: evt.Cells()})
}

// NotifyWrite runs an invalidation pass for a written cell or range of the
// engine's grid. if a pass is already running on another goroutine the
// write is queued and handled by that goroutine, after NotifyWrite returns.
func (e *Engine) NotifyWrite(ctx context.Context, key ParameterKey) {
	e.submit(pass{ctx: ctx, kind: passWrite, written: e.localCells(key)})
}

// TableUpdated runs one invalidation pass for an explicit set of written
// cells and ranges. it is the entry point for bulk loads, where cells are
// stored silently and announced together afterwards.
func (e *Engine) TableUpdated(ctx context.Context, keys ...ParameterKey) {
	var written []Cell
	for _, key := range keys {
		written = append(written, e.localCells(key)...)
	}
	e.submit(pass{ctx: ctx, kind: passTable, written: written})
}

// SheetChanged revalidates every formula naming sheet, after that sheet was
// registered, removed or renamed
func (e *Engine) SheetChanged(ctx context.Context, sheet string) {
	stale := e.index.ReferencingSheet(sheet)
	if len(stale) == 0 {
		return
	}
	e.submit(pass{ctx: ctx, kind: passSheet, stale: stale})
}

// RefreshVolatile invalidates the formulas calling volatile functions, and
// everything depending on them
func (e *Engine) RefreshVolatile(ctx context.Context) {
	var stale []Cell
	for _, c := range e.index.TrackedCells() {
		if expr, ok := e.index.Tracked(c); ok && expr.Volatile() {
			stale = append(stale, c)
		}
	}
	if len(stale) == 0 {
		return
	}
	e.submit(pass{ctx: ctx, kind: passVolatile, stale: stale})
}

// foreignChanged reacts to changes on another sheet
func (e *Engine) foreignChanged(ctx context.Context, cells []Cell, c *cascade) {
	referenced := slices.DeleteFunc(slices.Clone(cells), func(cell Cell) bool {
		return len(e.index.Dependents(cell)) == 0
	})
	if len(referenced) == 0 {
		return
	}
	e.submit(pass{ctx: ctx, kind: passForeign, foreign: referenced, cascade: c})
}

// localCells expands a key into cells of this grid. qualified keys naming
// another sheet are ignored.
func (e *Engine) localCells(key ParameterKey) []Cell {
	name := e.grid.Name()
	switch k := key.(type) {
	case Cell:
		if k.Sheet == "" || k.Sheet == name {
			return []Cell{k.Local()}
		}
	case CellRange:
		if k.Sheet == "" || k.Sheet == name {
			local := k
			local.Sheet = ""
			return slices.Collect(local.Cells())
		}
	}
	return nil
}

// submit queues p and, unless a pass is already running on this engine,
// drains the queue
func (e *Engine) submit(p pass) {
	e.mu.Lock()
	e.queue = append(e.queue, p)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.running = false
			dropped := len(e.queue)
			e.queue = nil
			e.mu.Unlock()
			e.logger.Warn("invalidation pass aborted", "grid", e.grid.Name(), "dropped", dropped, "error", fmt.Sprint(r))
			panic(r)
		}
	}()
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.run(next)
		e.mu.Lock()
	}
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) run(p pass) {
	start := time.Now()
	name := e.grid.Name()
	passID := uuid.NewString()

	ctx, span := tracer.Start(p.ctx, "spreadsheet.invalidate", trace.WithAttributes(
		attribute.String("grid", name),
		attribute.String("kind", p.kind),
		attribute.String("pass_id", passID),
	))
	defer span.End()

	// edges of the written cells
	for _, c := range p.written {
		e.updateCell(name, c)
	}

	affected := e.affectedCells(name, p)

	// invalidate, then recheck each formula for cycles
	invalidated := 0
	for _, c := range affected {
		e.guard(ctx, passID, c, "invalidate", func() {
			expr, ok := e.grid.Get(c.Row, c.Column).(*Expression)
			if !ok {
				return
			}
			expr.Invalidate()
			invalidated++
			if expr.CheckCircularity() {
				circularityDetectedTotal.Inc()
				e.logger.DebugContext(ctx, "circular reference", "pass_id", passID, "grid", name, "cell", c.String())
			}
		})
	}

	// announce to everyone but this engine
	for _, c := range affected {
		e.guard(ctx, passID, c, "announce", func() {
			e.grid.Reannounce(c.Row, c.Column, e)
		})
	}

	invalidationPassesTotal.WithLabelValues(p.kind).Inc()
	cellsInvalidatedTotal.Add(float64(invalidated))
	invalidationPassSeconds.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("written", len(p.written)),
		attribute.Int("affected", len(affected)),
	)
	e.logger.DebugContext(ctx, "invalidation pass",
		"pass_id", passID,
		"grid", name,
		"kind", p.kind,
		"written", len(p.written),
		"affected", len(affected),
		"duration", time.Since(start),
	)

	if e.registry == nil {
		return
	}
	changed := make([]Cell, 0, len(p.written)+len(affected)+len(p.stale))
	for _, c := range slices.Concat(p.written, p.stale, affected) {
		changed = append(changed, c.On(name))
	}
	e.registry.propagate(ctx, e, changed, p.cascade)
}

// guard runs one step of a pass for a single cell. a panic is logged and
// confined to that cell.
func (e *Engine) guard(ctx context.Context, passID string, c Cell, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WarnContext(ctx, "skipping cell", "pass_id", passID, "grid", e.grid.Name(),
				"cell", c.String(), "step", step, "error", fmt.Sprint(r))
		}
	}()
	fn()
}

// updateCell recomputes the edges of one written cell. a failure is
// confined to that cell.
func (e *Engine) updateCell(sheet string, c Cell) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("skipping cell update", "grid", sheet, "cell", c.String(), "error", fmt.Sprint(r))
		}
	}()

	value := e.grid.Get(c.Row, c.Column)
	e.index.UpdateCellParameters(c, value)
	if e.registry != nil {
		e.registry.types.Refresh(c.On(sheet), value)
	}
}

// affectedCells returns, in invalidation order and without duplicates, the
// cells referring to whatever p changed. written cells are excluded; stale
// cells are included.
func (e *Engine) affectedCells(sheet string, p pass) []Cell {
	written := make(map[Cell]struct{}, len(p.written))
	for _, c := range p.written {
		written[c] = struct{}{}
	}

	var result []Cell
	included := make(map[Cell]struct{})
	add := func(cells ...Cell) {
		for _, c := range cells {
			if _, skip := written[c]; skip {
				continue
			}
			if _, dup := included[c]; dup {
				continue
			}
			included[c] = struct{}{}
			result = append(result, c)
		}
	}

	for _, c := range p.written {
		add(e.index.AllReferringCells(c)...)
		// formulas may name their own sheet explicitly
		add(e.index.AllReferringCells(c.On(sheet))...)
	}
	for _, c := range p.stale {
		add(c)
		add(e.index.AllReferringCells(c)...)
		add(e.index.AllReferringCells(c.On(sheet))...)
	}
	for _, c := range p.foreign {
		add(e.index.AllReferringCells(c)...)
	}
	return result
}
