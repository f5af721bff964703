package document

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tuck/internal/projectpart"
	"tuck/internal/tunit"
	"tuck/internal/unsaved"
)

// ProjectPartProvider yields the current build configuration state.
type ProjectPartProvider interface {
	Get(id string) (projectpart.ProjectPart, bool)
	LastChangeTimePoint(id string) time.Time
}

// UnsavedFilesProvider yields the current unsaved editor buffers.
type UnsavedFilesProvider interface {
	Snapshot() []unsaved.File
}

// Updater runs parses and reparses against the parse engine.
type Updater interface {
	NewUnit() *tunit.Unit
	Update(ctx context.Context, unit *tunit.Unit, in tunit.UpdateInput) tunit.UpdateResult
}

type key struct {
	filePath      string
	projectPartID string
}

// Documents owns every live document plus the set of file paths a watcher
// should track on their behalf. Safe for concurrent use.
type Documents struct {
	projectParts ProjectPartProvider
	unsavedFiles UnsavedFilesProvider
	updater      Updater

	mu   sync.RWMutex
	docs map[key]Document

	watchMu      sync.Mutex
	watchedFiles map[string]struct{}
}

func NewDocuments(parts ProjectPartProvider, unsavedFiles UnsavedFilesProvider, updater Updater) *Documents {
	return &Documents{
		projectParts: parts,
		unsavedFiles: unsavedFiles,
		updater:      updater,
		docs:         make(map[key]Document),
		watchedFiles: make(map[string]struct{}),
	}
}

// FindOrCreate returns the document for (filePath, projectPartID), creating
// it when absent. The project part must be registered.
func (ds *Documents) FindOrCreate(filePath, projectPartID string, fileArguments []string, check FileExistsCheck) (Document, error) {
	part, ok := ds.projectParts.Get(projectPartID)
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrProjectPartNotFound, projectPartID)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	k := key{filePath: filePath, projectPartID: projectPartID}
	if doc, ok := ds.docs[k]; ok {
		return doc, nil
	}

	doc := newDocument(ds, filePath, part, fileArguments, check)
	ds.docs[k] = doc
	return doc, nil
}

// Document returns the live document for the key, or the null document.
func (ds *Documents) Document(filePath, projectPartID string) Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.docs[key{filePath: filePath, projectPartID: projectPartID}]
}

// DocumentsForFile returns the documents for one file across all project
// parts, ordered by part ID.
func (ds *Documents) DocumentsForFile(filePath string) []Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var docs []Document
	for k, doc := range ds.docs {
		if k.filePath == filePath {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].d.projectPartID < docs[j].d.projectPartID
	})
	return docs
}

// All returns every live document, ordered by file path then part ID.
func (ds *Documents) All() []Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	docs := make([]Document, 0, len(ds.docs))
	for _, doc := range ds.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].d.filePath != docs[j].d.filePath {
			return docs[i].d.filePath < docs[j].d.filePath
		}
		return docs[i].d.projectPartID < docs[j].d.projectPartID
	})
	return docs
}

// Count returns the number of live documents.
func (ds *Documents) Count() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.docs)
}

// Remove drops the document and closes its unit. Removing an absent document
// is a no-op. The watch set is recomputed from the survivors; handles held
// elsewhere stay readable but their unit is closed.
func (ds *Documents) Remove(filePath, projectPartID string) {
	ds.mu.Lock()
	k := key{filePath: filePath, projectPartID: projectPartID}
	doc, ok := ds.docs[k]
	if ok {
		delete(ds.docs, k)
	}
	watched := ds.collectDependedPathsLocked()
	ds.mu.Unlock()

	if ok {
		doc.d.unit.Close()
	}

	ds.watchMu.Lock()
	ds.watchedFiles = watched
	ds.watchMu.Unlock()
}

func (ds *Documents) collectDependedPathsLocked() map[string]struct{} {
	watched := make(map[string]struct{})
	for _, doc := range ds.docs {
		doc.d.mu.Lock()
		for p := range doc.d.dependedFilePaths {
			watched[p] = struct{}{}
		}
		doc.d.mu.Unlock()
	}
	return watched
}

// AddWatchedFiles merges paths into the watch set. Duplicates are harmless.
func (ds *Documents) AddWatchedFiles(paths []string) {
	ds.watchMu.Lock()
	defer ds.watchMu.Unlock()
	for _, p := range paths {
		ds.watchedFiles[p] = struct{}{}
	}
}

// WatchedFilePaths returns the watch set, sorted.
func (ds *Documents) WatchedFilePaths() []string {
	ds.watchMu.Lock()
	defer ds.watchMu.Unlock()

	paths := make([]string, 0, len(ds.watchedFiles))
	for p := range ds.watchedFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// UnsavedFiles returns the current unsaved buffers.
func (ds *Documents) UnsavedFiles() []unsaved.File {
	return ds.unsavedFiles.Snapshot()
}

// UpdateDocumentsWithChangedDependency marks every document that depends on
// filePath dirty and returns the ones that were marked.
func (ds *Documents) UpdateDocumentsWithChangedDependency(filePath string) []Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var dirtied []Document
	for _, doc := range ds.docs {
		if doc.SetDirtyIfDependencyIsMet(filePath) {
			dirtied = append(dirtied, doc)
		}
	}
	sortByIdentity(dirtied)
	return dirtied
}

// UpdateDocumentsWithChangedProjectParts marks every document whose project
// part is outdated dirty and returns the ones that were marked.
func (ds *Documents) UpdateDocumentsWithChangedProjectParts() []Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var dirtied []Document
	for _, doc := range ds.docs {
		if doc.SetDirtyIfProjectPartIsOutdated() {
			dirtied = append(dirtied, doc)
		}
	}
	sortByIdentity(dirtied)
	return dirtied
}

// CloseAll closes every unit and empties the set and the watch set.
func (ds *Documents) CloseAll() {
	ds.mu.Lock()
	docs := ds.docs
	ds.docs = make(map[key]Document)
	ds.mu.Unlock()

	for _, doc := range docs {
		doc.d.unit.Close()
	}

	ds.watchMu.Lock()
	ds.watchedFiles = make(map[string]struct{})
	ds.watchMu.Unlock()
}

func sortByIdentity(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].d.filePath != docs[j].d.filePath {
			return docs[i].d.filePath < docs[j].d.filePath
		}
		return docs[i].d.projectPartID < docs[j].d.projectPartID
	})
}
