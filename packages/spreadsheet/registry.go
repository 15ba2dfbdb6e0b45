package spreadsheet

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// SheetLoader produces grids for sheets that are referenced but not yet
// registered. the registry registers the returned grid itself.
type SheetLoader interface {
	LoadSheet(ctx context.Context, name string, registry *Registry) (*Grid, error)
}

// Option configures a Registry
type Option func(*Registry)

// WithLoader makes the registry populate missing sheets on demand
func WithLoader(loader SheetLoader) Option {
	return func(r *Registry) {
		r.loader = loader
	}
}

// WithLogger sets the logger handed to the registry's engines
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFunctions sets the built-in function table formulas call into
func WithFunctions(functions *BuiltInFunctions) Option {
	return func(r *Registry) {
		r.functions = functions
	}
}

// Registry maps sheet names to grids and owns one invalidation engine per
// registered grid. it is the context every cross-sheet lookup goes through;
// registering or removing a sheet revalidates the formulas of every other
// sheet that names it.
type Registry struct {
	mu      sync.RWMutex
	grids   map[string]*Grid
	engines map[string]*Engine
	loading map[string]bool

	loader    SheetLoader
	types     *TypeIndex
	functions *BuiltInFunctions
	logger    *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		grids:     make(map[string]*Grid),
		engines:   make(map[string]*Engine),
		loading:   make(map[string]bool),
		types:     NewTypeIndex(),
		functions: defaultFunctions,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds grid under its name and indexes the formulas it already
// holds
func (r *Registry) Register(ctx context.Context, grid *Grid) (*Engine, error) {
	name := grid.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: empty sheet name", ErrInvalidAddress)
	}

	r.mu.Lock()
	if _, exists := r.grids[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSheetExists, name)
	}
	engine := NewEngine(grid, r, r.logger)
	r.grids[name] = grid
	r.engines[name] = engine
	r.mu.Unlock()

	sheetsRegistered.Inc()
	r.logger.DebugContext(ctx, "sheet registered", "sheet", name, "kind", grid.Kind().String())

	var cells []ParameterKey
	for cell := range grid.Cells() {
		cells = append(cells, cell)
	}
	if len(cells) > 0 {
		engine.TableUpdated(ctx, cells...)
	}
	r.sheetChanged(ctx, name, engine)
	return engine, nil
}

// Unregister removes a sheet. formulas on other sheets that name it turn
// into reference errors on their next evaluation.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	engine, exists := r.engines[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	delete(r.grids, name)
	delete(r.engines, name)
	r.mu.Unlock()

	engine.Detach()
	r.types.Forget(name)
	sheetsRegistered.Dec()
	r.logger.DebugContext(ctx, "sheet unregistered", "sheet", name)

	r.sheetChanged(ctx, name, nil)
	return nil
}

// Rename moves a sheet to a new name. formulas naming the old name keep
// their text and stop resolving; formulas already naming the new one start
// resolving.
func (r *Registry) Rename(ctx context.Context, oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("%w: empty sheet name", ErrInvalidAddress)
	}

	r.mu.Lock()
	grid, exists := r.grids[oldName]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSheetNotFound, oldName)
	}
	if _, taken := r.grids[newName]; taken {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSheetExists, newName)
	}
	r.grids[newName] = grid
	r.engines[newName] = r.engines[oldName]
	delete(r.grids, oldName)
	delete(r.engines, oldName)
	grid.setName(newName)
	r.mu.Unlock()

	r.types.Forget(oldName)
	for cell, value := range grid.Cells() {
		r.types.Refresh(cell.On(newName), value)
	}
	r.logger.DebugContext(ctx, "sheet renamed", "from", oldName, "to", newName)

	r.sheetChanged(ctx, oldName, nil)
	r.sheetChanged(ctx, newName, nil)
	return nil
}

// sheetChanged tells every engine except skip that sheet appeared or went
// away
func (r *Registry) sheetChanged(ctx context.Context, sheet string, skip *Engine) {
	for _, engine := range r.engineList() {
		if engine != skip {
			engine.SheetChanged(ctx, sheet)
		}
	}
}

// Lookup returns the grid registered under name, asking the loader for it
// when it is missing
func (r *Registry) Lookup(name string) (*Grid, bool) {
	return r.LookupContext(context.Background(), name)
}

// LookupContext is Lookup with a context for the loader
func (r *Registry) LookupContext(ctx context.Context, name string) (*Grid, bool) {
	if grid, ok := r.peek(name); ok {
		return grid, true
	}
	if r.loader == nil || name == "" {
		return nil, false
	}

	r.mu.Lock()
	if r.loading[name] {
		r.mu.Unlock()
		return nil, false
	}
	r.loading[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.loading, name)
		r.mu.Unlock()
	}()

	grid, err := r.loader.LoadSheet(ctx, name, r)
	if err != nil {
		r.logger.WarnContext(ctx, "sheet load failed", "sheet", name, "error", err)
		return nil, false
	}
	if grid == nil {
		return nil, false
	}
	if grid.Name() != name {
		grid.setName(name)
	}
	if _, err := r.Register(ctx, grid); err != nil {
		// registered concurrently
		return r.peek(name)
	}
	return grid, true
}

// peek returns a registered grid without loading
func (r *Registry) peek(name string) (*Grid, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	grid, ok := r.grids[name]
	return grid, ok
}

// Contains reports whether a sheet is registered, without loading it
func (r *Registry) Contains(name string) bool {
	_, ok := r.peek(name)
	return ok
}

// Engine returns the invalidation engine of a registered sheet
func (r *Registry) Engine(name string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[name]
	return engine, ok
}

// Names returns the registered sheet names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.grids))
	for name := range r.grids {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Unresolved returns the sheets that formulas name but that are not
// registered
func (r *Registry) Unresolved() []string {
	var names []string
	for _, engine := range r.engineList() {
		for _, name := range engine.index.ReferencedSheets() {
			if !r.Contains(name) && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names
}

// Types returns the type-instance index shared by all sheets
func (r *Registry) Types() *TypeIndex {
	return r.types
}

// Functions returns the built-in function table
func (r *Registry) Functions() *BuiltInFunctions {
	return r.functions
}

// Resolver returns a resolver for formulas stored in grid
func (r *Registry) Resolver(grid *Grid) *Resolver {
	return NewResolver(grid, r)
}

func (r *Registry) engineList() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	engines := make([]*Engine, len(names))
	for i, name := range names {
		engines[i] = r.engines[name]
	}
	return engines
}

// cascade records the sheet-qualified cells already pushed across sheets
// while the effects of one write spread through the registry
type cascade struct {
	mu   sync.Mutex
	seen map[Cell]struct{}
}

// fresh filters out the cells already pushed and marks the rest
func (c *cascade) fresh(cells []Cell) []Cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []Cell
	for _, cell := range cells {
		if _, seen := c.seen[cell]; seen {
			continue
		}
		c.seen[cell] = struct{}{}
		result = append(result, cell)
	}
	return result
}

// propagate pushes the cells changed by a pass on origin to the engines of
// every other sheet. cells are pushed at most once per cascade, which ends
// cascades through cross-sheet cycles.
func (r *Registry) propagate(ctx context.Context, origin *Engine, changed []Cell, c *cascade) {
	if len(changed) == 0 {
		return
	}
	if c == nil {
		c = &cascade{seen: make(map[Cell]struct{})}
	}
	cells := c.fresh(changed)
	if len(cells) == 0 {
		return
	}
	for _, engine := range r.engineList() {
		if engine != origin {
			engine.foreignChanged(ctx, cells, c)
		}
	}
}
