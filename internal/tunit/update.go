package tunit

import (
	"context"
	"fmt"
	"os"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"

	"tuck/internal/unsaved"
)

// UpdateInput is everything an update needs, captured from a document before
// the parse starts. It stays untouched while the update runs.
type UpdateInput struct {
	FilePath                    string
	ParseNeeded                 bool
	ReparseNeeded               bool
	NeedsReparseChangeTimePoint time.Time
	FileArguments               []string
	ProjectPartID               string
	ProjectArguments            []string
	UnsavedFiles                []unsaved.File
}

// UpdateResult is what an update reports back to the document.
type UpdateResult struct {
	Failed   bool
	Reparsed bool

	// ParseTimePoint is stamped only when a full parse ran.
	ParseTimePoint time.Time

	// NeedsReparseChangeTimePoint echoes the input value so the document can
	// tell whether the result was superseded by a newer dirty mark.
	NeedsReparseChangeTimePoint time.Time

	DependedOnFilePaths map[string]struct{}

	// Err carries the underlying failure when Failed is set.
	Err error
}

// Parsed reports whether a full parse ran and stamped ParseTimePoint.
func (r UpdateResult) Parsed() bool {
	return !r.ParseTimePoint.IsZero()
}

const scanPoolSize = 4

// Updater is the only code that touches the parse engine. It owns the C++
// language, the include query, and a pool of scratch parsers used to scan
// headers for transitive includes.
type Updater struct {
	lang  *sitter.Language
	query *sitter.Query
	pool  chan *sitter.Parser
}

func NewUpdater() (*Updater, error) {
	lang := cpp.GetLanguage()
	query, err := sitter.NewQuery([]byte(includeQuery), lang)
	if err != nil {
		return nil, fmt.Errorf("failed to compile include query: %w", err)
	}

	pool := make(chan *sitter.Parser, scanPoolSize)
	for i := 0; i < scanPoolSize; i++ {
		p := sitter.NewParser()
		p.SetLanguage(lang)
		pool <- p
	}

	return &Updater{lang: lang, query: query, pool: pool}, nil
}

// NewUnit creates an empty unit bound to the updater's language.
func (u *Updater) NewUnit() *Unit {
	return newUnit(u.lang)
}

// Update runs one parse or reparse for the given unit and returns the
// outcome. The caller guarantees at most one Update per unit at a time; a
// concurrent Close is tolerated and reported as a failure.
func (u *Updater) Update(ctx context.Context, unit *Unit, in UpdateInput) UpdateResult {
	result := UpdateResult{NeedsReparseChangeTimePoint: in.NeedsReparseChangeTimePoint}

	fail := func(err error) UpdateResult {
		result.Failed = true
		result.Err = err
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	overrides := overrideIndex(in.UnsavedFiles)
	content, err := readContent(in.FilePath, overrides)
	if err != nil {
		return fail(fmt.Errorf("failed to read %s: %w", in.FilePath, err))
	}

	unit.mu.Lock()
	defer unit.mu.Unlock()

	if unit.closed {
		return fail(ErrClosed)
	}

	switch {
	case in.ParseNeeded || unit.tree == nil:
		// Stamped before parsing; a configuration change arriving during the
		// parse must still compare as newer than this.
		parseTimePoint := time.Now()
		if err := unit.parse(ctx, content); err != nil {
			return fail(fmt.Errorf("parse of %s failed: %w", in.FilePath, err))
		}
		result.ParseTimePoint = parseTimePoint
		// A full parse consumes the same content a pending reparse would
		// have, so a requested reparse is satisfied by it.
		result.Reparsed = in.ReparseNeeded
	case in.ReparseNeeded:
		if err := unit.reparse(ctx, content); err != nil {
			return fail(fmt.Errorf("reparse of %s failed: %w", in.FilePath, err))
		}
		result.Reparsed = true
	default:
		return result
	}

	result.DependedOnFilePaths = u.collectDependencies(ctx, unit, in, content, overrides)
	return result
}

// Close releases the query and the scratch parsers. Units stay usable until
// closed individually.
func (u *Updater) Close() error {
	if u.query != nil {
		u.query.Close()
	}
	close(u.pool)
	for p := range u.pool {
		p.Close()
	}
	return nil
}

func overrideIndex(files []unsaved.File) map[string]string {
	if len(files) == 0 {
		return nil
	}
	index := make(map[string]string, len(files))
	for _, f := range files {
		index[f.FilePath] = f.Content
	}
	return index
}

// readContent returns the unsaved buffer for path if one exists, the on-disk
// content otherwise.
func readContent(path string, overrides map[string]string) ([]byte, error) {
	if content, ok := overrides[path]; ok {
		return []byte(content), nil
	}
	return os.ReadFile(path)
}
