package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// DefaultExtension is the file extension of sheet files
const DefaultExtension = ".sheet"

// Build creates an unregistered grid holding doc. cells are stored
// silently; registering the grid indexes them all in one pass. name is
// used when the document carries no #sheet header.
func Build(doc *Document, name string, registry *spreadsheet.Registry) (*spreadsheet.Grid, error) {
	if doc.Name != "" {
		name = doc.Name
	}
	if name == "" {
		return nil, fmt.Errorf("%w: sheet has no name", ErrSyntax)
	}
	grid := spreadsheet.NewGrid(name, doc.Kind)
	if err := bindParams(grid, doc); err != nil {
		return nil, err
	}
	if _, err := fill(grid, doc, registry); err != nil {
		return nil, err
	}
	return grid, nil
}

// Apply replaces the content of the registered sheet doc names with doc,
// then runs one invalidation pass over every cell that was written or
// cleared. a sheet that is not registered yet is built and registered.
func Apply(ctx context.Context, doc *Document, name string, registry *spreadsheet.Registry) (*spreadsheet.Grid, error) {
	if doc.Name != "" {
		name = doc.Name
	}
	if !registry.Contains(name) {
		grid, err := Build(doc, name, registry)
		if err != nil {
			return nil, err
		}
		if _, err := registry.Register(ctx, grid); err != nil {
			return nil, err
		}
		return grid, nil
	}
	grid, ok := registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", spreadsheet.ErrSheetNotFound, name)
	}
	if grid.Kind() != doc.Kind {
		return nil, fmt.Errorf("sheet %s is %s, file declares %s", name, grid.Kind(), doc.Kind)
	}
	engine, ok := registry.Engine(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", spreadsheet.ErrSheetNotFound, name)
	}

	if params := grid.Parameters(); params != nil {
		for _, p := range params.Names() {
			params.Unbind(p)
		}
	}
	if err := bindParams(grid, doc); err != nil {
		return nil, err
	}

	var stale []spreadsheet.Cell
	for cell := range grid.Cells() {
		stale = append(stale, cell)
	}
	written, err := fill(grid, doc, registry)
	if err != nil {
		return nil, err
	}

	kept := make(map[spreadsheet.Cell]struct{}, len(written))
	for _, cell := range written {
		kept[cell] = struct{}{}
	}
	keys := make([]spreadsheet.ParameterKey, 0, len(stale)+len(written))
	for _, cell := range stale {
		if _, ok := kept[cell]; !ok {
			if err := grid.Put(cell.Row, cell.Column, nil); err != nil {
				return nil, err
			}
			keys = append(keys, cell)
		}
	}
	for _, cell := range written {
		keys = append(keys, cell)
	}
	engine.TableUpdated(ctx, keys...)
	return grid, nil
}

func bindParams(grid *spreadsheet.Grid, doc *Document) error {
	if len(doc.Params) == 0 {
		return nil
	}
	params := grid.Parameters()
	if params == nil {
		return fmt.Errorf("%w: parameters on %s sheet %s", ErrSyntax, grid.Kind(), grid.Name())
	}
	for _, p := range doc.Params {
		params.Bind(p.Name, p.Cell)
	}
	return nil
}

// fill stores the cells of doc silently and returns the cells written
func fill(grid *spreadsheet.Grid, doc *Document, registry *spreadsheet.Registry) ([]spreadsheet.Cell, error) {
	resolver := spreadsheet.NewResolver(grid, registry)
	written := make([]spreadsheet.Cell, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		value, err := ParseContent(e.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %s!%s: %v", ErrSyntax, grid.Name(), e.Cell, err)
		}
		if formula, ok := value.(Formula); ok {
			expr, err := spreadsheet.Compile(string(formula), resolver)
			if err != nil {
				return nil, fmt.Errorf("%s!%s: %w", grid.Name(), e.Cell, err)
			}
			value = expr
		}
		if err := grid.Put(e.Cell.Row, e.Cell.Column, value); err != nil {
			return nil, fmt.Errorf("%s!%s: %w", grid.Name(), e.Cell, err)
		}
		written = append(written, e.Cell)
	}
	return written, nil
}

// DirLoader loads sheets on demand from files named after them in a
// directory. it serves as a Registry's SheetLoader.
type DirLoader struct {
	dir       string
	extension string
	logger    *slog.Logger
}

// NewDirLoader creates a loader for dir. an empty extension means
// DefaultExtension; a nil logger means slog.Default().
func NewDirLoader(dir, extension string, logger *slog.Logger) *DirLoader {
	if extension == "" {
		extension = DefaultExtension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirLoader{dir: dir, extension: extension, logger: logger}
}

// Path returns the file a sheet is stored in
func (l *DirLoader) Path(name string) string {
	return filepath.Join(l.dir, name+l.extension)
}

// SheetName returns the sheet a file path holds, and false for files
// without the loader's extension
func (l *DirLoader) SheetName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, l.extension) || base == l.extension {
		return "", false
	}
	return strings.TrimSuffix(base, l.extension), true
}

// LoadSheet implements spreadsheet.SheetLoader. a missing file is not an
// error; the sheet simply stays unresolved.
func (l *DirLoader) LoadSheet(ctx context.Context, name string, registry *spreadsheet.Registry) (*spreadsheet.Grid, error) {
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: sheet name %q", ErrSyntax, name)
	}
	doc, err := l.read(l.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		l.logger.DebugContext(ctx, "no sheet file", "sheet", name, "path", l.Path(name))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	grid, err := Build(doc, name, registry)
	if err != nil {
		return nil, err
	}
	l.logger.DebugContext(ctx, "sheet file loaded", "sheet", name, "cells", len(doc.Entries))
	return grid, nil
}

// Reload reads the file at path again and applies it to its sheet
func (l *DirLoader) Reload(ctx context.Context, path string, registry *spreadsheet.Registry) (string, error) {
	name, ok := l.SheetName(path)
	if !ok {
		return "", fmt.Errorf("%s is not a sheet file", path)
	}
	doc, err := l.read(path)
	if err != nil {
		return "", err
	}
	grid, err := Apply(ctx, doc, name, registry)
	if err != nil {
		return "", err
	}
	l.logger.InfoContext(ctx, "sheet reloaded", "sheet", grid.Name(), "cells", len(doc.Entries))
	return grid.Name(), nil
}

// LoadAll registers every sheet file in the directory
func (l *DirLoader) LoadAll(ctx context.Context, registry *spreadsheet.Registry) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, "*"+l.extension))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	var docs []*Document
	for _, path := range paths {
		name, ok := l.SheetName(path)
		if !ok {
			continue
		}
		doc, err := l.read(path)
		if err != nil {
			return nil, err
		}
		if doc.Name == "" {
			doc.Name = name
		}
		docs = append(docs, doc)
	}

	names, err := RegisterAll(ctx, docs, registry)
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "sheet directory loaded", "dir", l.dir, "sheets", len(names))
	return names, nil
}

// RegisterAll registers one sheet per document, each named by its #sheet
// header. every sheet is registered empty before any formula is compiled,
// so references between the documents resolve regardless of order.
func RegisterAll(ctx context.Context, docs []*Document, registry *spreadsheet.Registry) ([]string, error) {
	for _, doc := range docs {
		grid := spreadsheet.NewGrid(doc.Name, doc.Kind)
		if err := bindParams(grid, doc); err != nil {
			return nil, err
		}
		if _, err := registry.Register(ctx, grid); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		if _, err := Apply(ctx, doc, doc.Name, registry); err != nil {
			return nil, err
		}
		names = append(names, doc.Name)
	}
	return names, nil
}

// Save writes a registered sheet back to its file
func (l *DirLoader) Save(grid *spreadsheet.Grid) error {
	f, err := os.Create(l.Path(grid.Name()))
	if err != nil {
		return err
	}
	if err := Encode(f, grid); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *DirLoader) read(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
