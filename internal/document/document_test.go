package document_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tuck/internal/document"
	"tuck/internal/projectpart"
	"tuck/internal/tunit"
	"tuck/internal/unsaved"
)

type fakeParts struct {
	mu    sync.Mutex
	parts map[string]projectpart.ProjectPart
	last  map[string]time.Time
}

func newFakeParts() *fakeParts {
	return &fakeParts{
		parts: make(map[string]projectpart.ProjectPart),
		last:  make(map[string]time.Time),
	}
}

func (f *fakeParts) set(part projectpart.ProjectPart, last time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[part.ID] = part
	f.last[part.ID] = last
}

func (f *fakeParts) setLast(id string, last time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[id] = last
}

func (f *fakeParts) Get(id string) (projectpart.ProjectPart, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	part, ok := f.parts[id]
	return part, ok
}

func (f *fakeParts) LastChangeTimePoint(id string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[id]
}

type fakeUpdater struct {
	mu     sync.Mutex
	inputs []tunit.UpdateInput
	fn     func(tunit.UpdateInput) tunit.UpdateResult
}

func (f *fakeUpdater) NewUnit() *tunit.Unit {
	return &tunit.Unit{}
}

func (f *fakeUpdater) Update(ctx context.Context, unit *tunit.Unit, in tunit.UpdateInput) tunit.UpdateResult {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return tunit.UpdateResult{NeedsReparseChangeTimePoint: in.NeedsReparseChangeTimePoint}
	}
	return fn(in)
}

func (f *fakeUpdater) setFn(fn func(tunit.UpdateInput) tunit.UpdateResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeUpdater) lastInput(t *testing.T) tunit.UpdateInput {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		t.Fatal("updater was never called")
	}
	return f.inputs[len(f.inputs)-1]
}

func depSet(deps ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		set[d] = struct{}{}
	}
	return set
}

func parsedResult(in tunit.UpdateInput, deps ...string) tunit.UpdateResult {
	return tunit.UpdateResult{
		ParseTimePoint:              time.Now(),
		Reparsed:                    in.ReparseNeeded,
		NeedsReparseChangeTimePoint: in.NeedsReparseChangeTimePoint,
		DependedOnFilePaths:         depSet(deps...),
	}
}

func reparsedResult(in tunit.UpdateInput, deps ...string) tunit.UpdateResult {
	return tunit.UpdateResult{
		Reparsed:                    true,
		NeedsReparseChangeTimePoint: in.NeedsReparseChangeTimePoint,
		DependedOnFilePaths:         depSet(deps...),
	}
}

type fixture struct {
	dir     string
	parts   *fakeParts
	unsaved *unsaved.Files
	updater *fakeUpdater
	docs    *document.Documents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		dir:     t.TempDir(),
		parts:   newFakeParts(),
		unsaved: unsaved.NewFiles(),
		updater: &fakeUpdater{},
	}
	fx.parts.set(projectpart.ProjectPart{ID: "part1", Arguments: []string{"-std=c++17"}}, time.Now())
	fx.docs = document.NewDocuments(fx.parts, fx.unsaved, fx.updater)
	return fx
}

func (fx *fixture) newFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(fx.dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (fx *fixture) create(t *testing.T, path string) document.Document {
	t.Helper()
	doc, err := fx.docs.FindOrCreate(path, "part1", nil, document.CheckIfFileExists)
	if err != nil {
		t.Fatalf("FindOrCreate(%s): %v", path, err)
	}
	return doc
}

func expectNullPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on null document")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, document.ErrNullDocument) {
			t.Fatalf("unexpected panic value: %v", r)
		}
	}()
	fn()
}

func TestNullDocument(t *testing.T) {
	var doc document.Document

	if !doc.IsNull() {
		t.Error("zero value must be null")
	}
	if doc.IsIntact() {
		t.Error("null document must not be intact")
	}

	expectNullPanic(t, func() { doc.FilePath() })
	expectNullPanic(t, func() { doc.SetDirty() })
	expectNullPanic(t, func() { doc.Parse(context.Background()) })
}

func TestReset(t *testing.T) {
	fx := newFixture(t)
	doc := fx.create(t, fx.newFile(t, "a.cpp", "int a;\n"))

	doc.Reset()
	if !doc.IsNull() {
		t.Error("expected null after Reset")
	}
}

func TestInitialState(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "int a;\n")
	doc := fx.create(t, path)

	if doc.IsNull() {
		t.Fatal("expected a live document")
	}
	if !doc.IsIntact() {
		t.Error("expected a fresh document to be intact")
	}
	if doc.IsNeedingReparse() {
		t.Error("fresh document must not need a reparse")
	}
	if doc.HasParseOrReparseFailed() {
		t.Error("fresh document must not carry a failure")
	}
	if doc.DocumentRevision() != 0 {
		t.Error("fresh document revision must be 0")
	}
	if doc.NeedsReparseChangeTimePoint().IsZero() {
		t.Error("change time must be initialized")
	}
	if doc.LastProjectPartChangeTimePoint().IsZero() {
		t.Error("project part sync time must be initialized")
	}

	deps, err := doc.DependedOnFilePaths()
	if err != nil {
		t.Fatalf("DependedOnFilePaths: %v", err)
	}
	if len(deps) != 1 || deps[0] != path {
		t.Errorf("fresh dependency set = %v, want just the file itself", deps)
	}
}

func TestSetDirty(t *testing.T) {
	fx := newFixture(t)
	doc := fx.create(t, fx.newFile(t, "a.cpp", "int a;\n"))

	doc.SetDirty()
	if !doc.IsNeedingReparse() {
		t.Fatal("expected dirty after SetDirty")
	}
	first := doc.NeedsReparseChangeTimePoint()

	doc.SetDirty()
	if !doc.IsNeedingReparse() {
		t.Error("SetDirty must be idempotent on the flag")
	}
	if doc.NeedsReparseChangeTimePoint().Before(first) {
		t.Error("change time must not move backwards")
	}
}

func TestProjectPartOutdated(t *testing.T) {
	t.Run("part registered before creation is current", func(t *testing.T) {
		fx := newFixture(t)
		doc := fx.create(t, fx.newFile(t, "a.cpp", "int a;\n"))

		if doc.IsProjectPartOutdated() {
			t.Error("part announced before the document must not be outdated")
		}
		if doc.SetDirtyIfProjectPartIsOutdated() {
			t.Error("must not dirty for a current part")
		}
		if doc.IsNeedingReparse() {
			t.Error("document must stay clean")
		}
	})

	t.Run("later part change is outdated", func(t *testing.T) {
		fx := newFixture(t)
		doc := fx.create(t, fx.newFile(t, "a.cpp", "int a;\n"))

		fx.parts.set(projectpart.ProjectPart{ID: "part1", Arguments: []string{"-std=c++20"}}, time.Now())
		if !doc.IsProjectPartOutdated() {
			t.Error("expected outdated after the part changed")
		}
		if !doc.SetDirtyIfProjectPartIsOutdated() {
			t.Error("expected the document to be dirtied")
		}
		if !doc.IsNeedingReparse() {
			t.Error("expected dirty document")
		}
	})

	t.Run("equal change times count as outdated", func(t *testing.T) {
		fx := newFixture(t)
		doc := fx.create(t, fx.newFile(t, "a.cpp", "int a;\n"))

		// The comparison is >=, so a part change stamped exactly at the
		// document's sync time already counts as outdated.
		fx.parts.setLast("part1", doc.LastProjectPartChangeTimePoint())
		if !doc.IsProjectPartOutdated() {
			t.Error("equal timestamps must count as outdated")
		}

		fx.parts.setLast("part1", doc.LastProjectPartChangeTimePoint().Add(-time.Nanosecond))
		if doc.IsProjectPartOutdated() {
			t.Error("an older part change must not count as outdated")
		}
	})
}

func TestParseRoundTrip(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "#include \"a.h\"\n")
	header := fx.newFile(t, "a.h", "int a;\n")
	doc := fx.create(t, path)

	doc.SetDirty()
	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return parsedResult(in, path, header)
	})

	result := doc.Parse(context.Background())
	if result.Failed {
		t.Fatalf("parse failed: %v", result.Err)
	}

	in := fx.updater.lastInput(t)
	if !in.ParseNeeded {
		t.Error("Parse must force a full parse")
	}
	if !in.ReparseNeeded {
		t.Error("input must carry the dirty flag")
	}
	if in.ProjectPartID != "part1" {
		t.Errorf("input part = %q", in.ProjectPartID)
	}

	if doc.IsNeedingReparse() {
		t.Error("reparse flag must clear after an up-to-date parse")
	}
	if !doc.LastProjectPartChangeTimePoint().Equal(result.ParseTimePoint) {
		t.Error("sync time must adopt the parse time")
	}

	deps, err := doc.DependedOnFilePaths()
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 {
		t.Errorf("dependencies = %v, want file plus header", deps)
	}

	watched := fx.docs.WatchedFilePaths()
	if len(watched) != 2 {
		t.Errorf("watch set = %v, want both dependencies", watched)
	}
}

func TestParseResultWithoutReparseKeepsDirty(t *testing.T) {
	// Only a result that reports a reparse may clear the dirty flag, even
	// when its change time matches.
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "int a;\n")
	doc := fx.create(t, path)

	doc.SetDirty()
	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return tunit.UpdateResult{
			ParseTimePoint:              time.Now(),
			NeedsReparseChangeTimePoint: in.NeedsReparseChangeTimePoint,
			DependedOnFilePaths:         depSet(path),
		}
	})
	doc.Parse(context.Background())

	if !doc.IsNeedingReparse() {
		t.Error("a parse-only result must not clear the dirty flag")
	}

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return reparsedResult(in, path)
	})
	doc.Reparse(context.Background())

	if doc.IsNeedingReparse() {
		t.Error("an up-to-date reparse must clear the dirty flag")
	}
}

func TestSupersedingEdit(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "int a;\n")
	doc := fx.create(t, path)

	doc.SetDirty()
	firstMark := doc.NeedsReparseChangeTimePoint()

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		// An edit arrives while the reparse is running.
		doc.SetDirty()
		for doc.NeedsReparseChangeTimePoint().Equal(firstMark) {
			doc.SetDirty()
		}
		return reparsedResult(in, path)
	})

	doc.Reparse(context.Background())
	if !doc.IsNeedingReparse() {
		t.Fatal("a result captured before the newer edit must not clear the dirty flag")
	}

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return reparsedResult(in, path)
	})
	doc.Reparse(context.Background())
	if doc.IsNeedingReparse() {
		t.Error("the follow-up reparse must clear the dirty flag")
	}
}

func TestDependencyDirtying(t *testing.T) {
	fx := newFixture(t)
	mainPath := fx.newFile(t, "a.cpp", "#include \"a.h\"\n")
	aHeader := fx.newFile(t, "a.h", "#include \"b.h\"\nint a;\n")
	bHeader := fx.newFile(t, "b.h", "int b;\n")
	doc := fx.create(t, mainPath)

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return parsedResult(in, mainPath, aHeader)
	})
	doc.Parse(context.Background())

	if doc.SetDirtyIfDependencyIsMet(bHeader) {
		t.Error("b.h is not yet a dependency")
	}
	if !doc.SetDirtyIfDependencyIsMet(aHeader) {
		t.Fatal("a.h is a dependency, expected dirty")
	}

	// The reparse discovers the transitive include.
	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return reparsedResult(in, mainPath, aHeader, bHeader)
	})
	doc.Reparse(context.Background())

	if doc.IsNeedingReparse() {
		t.Error("expected clean document after reparse")
	}
	if !doc.SetDirtyIfDependencyIsMet(bHeader) {
		t.Error("b.h must be a dependency after the reparse")
	}

	watched := fx.docs.WatchedFilePaths()
	if len(watched) != 3 {
		t.Errorf("watch set = %v, want all three files", watched)
	}
}

func TestDependencyDirtyingDeletedSelf(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "#include \"a.h\"\n")
	header := fx.newFile(t, "a.h", "int a;\n")
	doc := fx.create(t, path)

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return parsedResult(in, path, header)
	})
	doc.Parse(context.Background())

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if doc.SetDirtyIfDependencyIsMet(path) {
		t.Error("a deleted document must not be dirtied by its own removal")
	}
	if doc.IsNeedingReparse() {
		t.Error("document must stay clean")
	}
	if doc.IsIntact() {
		t.Error("document with a deleted file must not be intact")
	}

	// A changed header still dirties it; removal is the owner's call.
	if !doc.SetDirtyIfDependencyIsMet(header) {
		t.Error("other dependencies must still dirty the document")
	}
}

func TestDependedOnFilePathsMissingFile(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "int a;\n")
	doc := fx.create(t, path)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if _, err := doc.DependedOnFilePaths(); !errors.Is(err, document.ErrFileDoesNotExist) {
		t.Errorf("expected ErrFileDoesNotExist, got %v", err)
	}
}

func TestFailedUpdate(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "#include \"a.h\"\n")
	header := fx.newFile(t, "a.h", "int a;\n")
	doc := fx.create(t, path)

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return parsedResult(in, path, header)
	})
	doc.Parse(context.Background())

	doc.SetDirty()
	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return tunit.UpdateResult{
			Failed:                      true,
			Err:                         errors.New("engine gave up"),
			NeedsReparseChangeTimePoint: in.NeedsReparseChangeTimePoint,
		}
	})
	result := doc.Reparse(context.Background())

	if !result.Failed {
		t.Fatal("expected a failed result")
	}
	if !doc.HasParseOrReparseFailed() {
		t.Error("failure must be recorded")
	}
	if doc.IsIntact() {
		t.Error("failed document must not be intact")
	}
	if doc.IsNeedingReparse() {
		t.Error("failure must drop the dirty flag; there is no automatic retry")
	}

	deps, err := doc.DependedOnFilePaths()
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 {
		t.Errorf("failure must not touch the dependency set, got %v", deps)
	}

	// The explicit parse is the retry path and clears the failure.
	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		return parsedResult(in, path, header)
	})
	doc.Parse(context.Background())

	if doc.HasParseOrReparseFailed() {
		t.Error("a successful parse must clear the failure")
	}
	if !doc.IsIntact() {
		t.Error("expected intact document after recovery")
	}
}

func TestParseAdoptsCurrentProjectArguments(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "int a;\n")
	doc := fx.create(t, path)

	fx.parts.set(projectpart.ProjectPart{ID: "part1", Arguments: []string{"-std=c++20"}}, time.Now())
	if !doc.IsProjectPartOutdated() {
		t.Fatal("expected outdated part")
	}

	fx.updater.setFn(func(in tunit.UpdateInput) tunit.UpdateResult {
		if len(in.ProjectArguments) != 1 || in.ProjectArguments[0] != "-std=c++20" {
			t.Errorf("input must carry the current arguments, got %v", in.ProjectArguments)
		}
		return parsedResult(in, path)
	})
	doc.Parse(context.Background())

	if doc.IsProjectPartOutdated() {
		t.Error("parse must sync the document with the part")
	}
	part := doc.ProjectPart()
	if len(part.Arguments) != 1 || part.Arguments[0] != "-std=c++20" {
		t.Errorf("snapshot must adopt the parsed arguments, got %v", part.Arguments)
	}
}

func TestCreateUpdateInput(t *testing.T) {
	fx := newFixture(t)
	path := fx.newFile(t, "a.cpp", "int a;\n")
	doc, err := fx.docs.FindOrCreate(path, "part1", []string{"-W"}, document.CheckIfFileExists)
	if err != nil {
		t.Fatal(err)
	}

	doc.SetDirty()
	fx.unsaved.Update(unsaved.File{FilePath: path, Content: "int b;\n", Revision: 3})

	in := doc.CreateUpdateInput()
	if in.FilePath != path {
		t.Errorf("FilePath = %q", in.FilePath)
	}
	if in.ParseNeeded {
		t.Error("current part must not force a parse")
	}
	if !in.ReparseNeeded {
		t.Error("dirty document must request a reparse")
	}
	if !in.NeedsReparseChangeTimePoint.Equal(doc.NeedsReparseChangeTimePoint()) {
		t.Error("input must capture the change time")
	}
	if len(in.FileArguments) != 1 || in.FileArguments[0] != "-W" {
		t.Errorf("FileArguments = %v", in.FileArguments)
	}
	if len(in.UnsavedFiles) != 1 || in.UnsavedFiles[0].Content != "int b;\n" {
		t.Errorf("UnsavedFiles = %v", in.UnsavedFiles)
	}
}

func TestEditorFlagsAndRevision(t *testing.T) {
	fx := newFixture(t)
	doc := fx.create(t, fx.newFile(t, "a.cpp", "int a;\n"))

	doc.SetDocumentRevision(7)
	doc.SetIsUsedByCurrentEditor(true)
	doc.SetIsVisibleInEditor(true)

	if doc.DocumentRevision() != 7 {
		t.Error("revision not stored")
	}
	if !doc.IsUsedByCurrentEditor() || !doc.IsVisibleInEditor() {
		t.Error("editor flags not stored")
	}

	status := doc.Status()
	if status.DocumentRevision != 7 || !status.UsedByCurrentEditor || !status.VisibleInEditor {
		t.Errorf("status out of sync: %+v", status)
	}
	if !status.Intact {
		t.Error("expected intact status")
	}
}
