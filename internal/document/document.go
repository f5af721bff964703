package document

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"tuck/internal/projectpart"
	"tuck/internal/tunit"
)

// FileExistsCheck controls whether FindOrCreate stats the file up front.
// Creation never fails on a missing file either way; with the check enabled
// the document starts out not intact and the miss is logged.
type FileExistsCheck int

const (
	CheckIfFileExists FileExistsCheck = iota
	SkipFileExistsCheck
)

// documentData is the backing state shared by every handle to one document.
// Immutable fields (documents, filePath, fileArguments, unit) are set at
// creation; the rest is guarded by mu. The mutex is never held across a
// parse, only around the short field updates before and after one.
type documentData struct {
	documents     *Documents
	filePath      string
	projectPartID string
	fileArguments []string
	unit          *tunit.Unit

	mu                    sync.Mutex
	projectPart           projectpart.ProjectPart
	lastProjectPartChange time.Time
	dependedFilePaths     map[string]struct{}
	documentRevision      uint32
	needsReparseChange    time.Time
	parseOrReparseFailed  bool
	needsReparse          bool
	usedByCurrentEditor   bool
	visibleInEditor       bool
}

// Document is a cheap, copyable handle onto one translation unit's state.
// Copies share the same backing state. The zero value is the null document;
// every method except IsNull, Reset and IsIntact panics with ErrNullDocument
// on it.
type Document struct {
	d *documentData
}

func newDocument(docs *Documents, filePath string, part projectpart.ProjectPart, fileArguments []string, check FileExistsCheck) Document {
	now := time.Now()
	d := &documentData{
		documents:             docs,
		filePath:              filePath,
		projectPartID:         part.ID,
		fileArguments:         fileArguments,
		unit:                  docs.updater.NewUnit(),
		projectPart:           part,
		lastProjectPartChange: now,
		dependedFilePaths:     map[string]struct{}{filePath: {}},
		needsReparseChange:    now,
	}
	if check == CheckIfFileExists && !fileExists(filePath) {
		log.Printf("Creating document for missing file %s", filePath)
	}
	return Document{d: d}
}

func (doc Document) data() *documentData {
	if doc.d == nil {
		panic(ErrNullDocument)
	}
	return doc.d
}

// IsNull reports whether the handle has no backing state.
func (doc Document) IsNull() bool {
	return doc.d == nil
}

// Reset detaches the handle from its backing state.
func (doc *Document) Reset() {
	doc.d = nil
}

// SameAs reports whether two handles refer to the same document identity,
// the (file path, project part) pair.
func (doc Document) SameAs(other Document) bool {
	if doc.IsNull() || other.IsNull() {
		return false
	}
	return doc.d.filePath == other.d.filePath &&
		doc.d.projectPartID == other.d.projectPartID
}

// IsIntact reports whether the document is usable: non-null, its file still
// exists, and the last update did not fail.
func (doc Document) IsIntact() bool {
	if doc.IsNull() {
		return false
	}
	doc.d.mu.Lock()
	failed := doc.d.parseOrReparseFailed
	doc.d.mu.Unlock()
	return fileExists(doc.d.filePath) && !failed
}

func (doc Document) FilePath() string {
	return doc.data().filePath
}

func (doc Document) FileArguments() []string {
	return doc.data().fileArguments
}

// TranslationUnit returns the unit owned by this document. The unit is
// created with the document and closed when the set removes it.
func (doc Document) TranslationUnit() *tunit.Unit {
	return doc.data().unit
}

func (doc Document) ProjectPart() projectpart.ProjectPart {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projectPart
}

func (doc Document) ProjectPartID() string {
	return doc.data().projectPartID
}

// LastProjectPartChangeTimePoint is the time this document last synced with
// its project part: creation time, replaced by the parse time of every full
// parse.
func (doc Document) LastProjectPartChangeTimePoint() time.Time {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastProjectPartChange
}

func (doc Document) DocumentRevision() uint32 {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.documentRevision
}

func (doc Document) SetDocumentRevision(revision uint32) {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.documentRevision = revision
}

func (doc Document) IsUsedByCurrentEditor() bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usedByCurrentEditor
}

func (doc Document) SetIsUsedByCurrentEditor(used bool) {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usedByCurrentEditor = used
}

func (doc Document) IsVisibleInEditor() bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visibleInEditor
}

func (doc Document) SetIsVisibleInEditor(visible bool) {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visibleInEditor = visible
}

func (doc Document) IsNeedingReparse() bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.needsReparse
}

func (doc Document) NeedsReparseChangeTimePoint() time.Time {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.needsReparseChange
}

func (doc Document) HasParseOrReparseFailed() bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parseOrReparseFailed
}

// DependedOnFilePaths returns the dependency set, sorted. It errors when the
// document's own file has disappeared from disk.
func (doc Document) DependedOnFilePaths() ([]string, error) {
	d := doc.data()
	if !fileExists(d.filePath) {
		return nil, fmt.Errorf("%w: %s", ErrFileDoesNotExist, d.filePath)
	}

	d.mu.Lock()
	paths := make([]string, 0, len(d.dependedFilePaths))
	for p := range d.dependedFilePaths {
		paths = append(paths, p)
	}
	d.mu.Unlock()

	sort.Strings(paths)
	return paths, nil
}

// SetDirty marks the document as needing a reparse and refreshes the change
// time. The time is what lets a result from an update that started earlier
// be recognized as superseded.
func (doc Document) SetDirty() {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setDirtyLocked()
}

func (d *documentData) setDirtyLocked() {
	d.needsReparseChange = time.Now()
	d.needsReparse = true
}

// IsProjectPartOutdated reports whether the project part changed at or after
// the document's last sync with it. The comparison is deliberately >=, not >.
func (doc Document) IsProjectPartOutdated() bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isProjectPartOutdatedLocked()
}

func (d *documentData) isProjectPartOutdatedLocked() bool {
	last := d.documents.projectParts.LastChangeTimePoint(d.projectPartID)
	return !last.Before(d.lastProjectPartChange)
}

// SetDirtyIfProjectPartIsOutdated marks the document dirty when its project
// part is outdated. It reports whether it did.
func (doc Document) SetDirtyIfProjectPartIsOutdated() bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isProjectPartOutdatedLocked() {
		return false
	}
	d.setDirtyLocked()
	return true
}

// SetDirtyIfDependencyIsMet marks the document dirty when filePath is in its
// dependency set. A change to the document's own file only counts while that
// file still exists; a deleted document cannot be reparsed, its removal is
// handled by the owner instead.
func (doc Document) SetDirtyIfDependencyIsMet(filePath string) bool {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.dependedFilePaths[filePath]; !ok {
		return false
	}
	if filePath == d.filePath && !fileExists(d.filePath) {
		return false
	}
	d.setDirtyLocked()
	return true
}

// CreateUpdateInput captures everything an update needs: the staleness
// flags, the change time they were read at, and the current configuration
// and unsaved buffers from the collaborators.
func (doc Document) CreateUpdateInput() tunit.UpdateInput {
	d := doc.data()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createUpdateInputLocked()
}

func (d *documentData) createUpdateInputLocked() tunit.UpdateInput {
	projectArguments := d.projectPart.Arguments
	if part, ok := d.documents.projectParts.Get(d.projectPartID); ok {
		projectArguments = part.Arguments
	}

	return tunit.UpdateInput{
		FilePath:                    d.filePath,
		ParseNeeded:                 d.isProjectPartOutdatedLocked(),
		ReparseNeeded:               d.needsReparse,
		NeedsReparseChangeTimePoint: d.needsReparseChange,
		FileArguments:               d.fileArguments,
		ProjectPartID:               d.projectPartID,
		ProjectArguments:            projectArguments,
		UnsavedFiles:                d.documents.unsavedFiles.Snapshot(),
	}
}

// Parse forces a full parse and folds the outcome back in. This is also the
// explicit retry path after a failed update; failures are never retried
// automatically.
func (doc Document) Parse(ctx context.Context) tunit.UpdateResult {
	d := doc.data()
	in := doc.CreateUpdateInput()
	in.ParseNeeded = true
	result := d.documents.updater.Update(ctx, d.unit, in)
	doc.IncorporateUpdaterResult(result)
	return result
}

// Reparse runs an update as needed: a full parse when the configuration is
// outdated or the unit has no tree yet, an incremental reparse when the
// document is merely dirty.
func (doc Document) Reparse(ctx context.Context) tunit.UpdateResult {
	d := doc.data()
	in := doc.CreateUpdateInput()
	result := d.documents.updater.Update(ctx, d.unit, in)
	doc.IncorporateUpdaterResult(result)
	return result
}

// IncorporateUpdaterResult folds an update's outcome back into the document.
// A failed update only records the failure and drops the dirty flag. The
// dirty flag is otherwise cleared only when the result's change time still
// matches the document's: a dirty mark set while the update ran keeps the
// document dirty.
func (doc Document) IncorporateUpdaterResult(result tunit.UpdateResult) {
	d := doc.data()
	d.mu.Lock()

	d.parseOrReparseFailed = result.Failed
	if result.Failed {
		d.needsReparse = false
		d.mu.Unlock()
		return
	}

	if result.Parsed() {
		d.lastProjectPartChange = result.ParseTimePoint
		if part, ok := d.documents.projectParts.Get(d.projectPartID); ok {
			d.projectPart = part
		}
	}

	if result.Parsed() || result.Reparsed {
		d.dependedFilePaths = result.DependedOnFilePaths
	}

	watched := make([]string, 0, len(d.dependedFilePaths))
	for p := range d.dependedFilePaths {
		watched = append(watched, p)
	}

	if result.Reparsed && result.NeedsReparseChangeTimePoint.Equal(d.needsReparseChange) {
		d.needsReparse = false
	}
	d.mu.Unlock()

	d.documents.AddWatchedFiles(watched)
}

// Status is a point-in-time description of one document, for reporting.
type Status struct {
	FilePath            string `json:"filePath"`
	ProjectPartID       string `json:"projectPartId"`
	DocumentRevision    uint32 `json:"documentRevision"`
	NeedsReparse        bool   `json:"needsReparse"`
	Failed              bool   `json:"failed"`
	Intact              bool   `json:"intact"`
	VisibleInEditor     bool   `json:"visibleInEditor"`
	UsedByCurrentEditor bool   `json:"usedByCurrentEditor"`
	DependencyCount     int    `json:"dependencyCount"`
}

func (doc Document) Status() Status {
	d := doc.data()
	intact := doc.IsIntact()

	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		FilePath:            d.filePath,
		ProjectPartID:       d.projectPartID,
		DocumentRevision:    d.documentRevision,
		NeedsReparse:        d.needsReparse,
		Failed:              d.parseOrReparseFailed,
		Intact:              intact,
		VisibleInEditor:     d.visibleInEditor,
		UsedByCurrentEditor: d.usedByCurrentEditor,
		DependencyCount:     len(d.dependedFilePaths),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
