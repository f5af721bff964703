// Package service wires the document set, project parts, unsaved buffers,
// scheduler, watcher, dependency store and graph feed into one code-model
// service. The LSP layer and the dump tool both sit on top of it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tuck/internal/compiledb"
	"tuck/internal/config"
	"tuck/internal/depstore"
	"tuck/internal/document"
	"tuck/internal/projectpart"
	"tuck/internal/scheduler"
	"tuck/internal/unsaved"
	"tuck/internal/watcher"
)

// ErrUnknownDocument is returned for operations on a file no document
// exists for.
var ErrUnknownDocument = errors.New("no document for file")

// Service owns the live code-model state.
type Service struct {
	cfg config.Config

	parts   *projectpart.Registry
	unsaved *unsaved.Files
	docs    *document.Documents
	sched   *scheduler.Scheduler
	watch   *watcher.Watcher
	store   *depstore.Store

	ctx    context.Context
	cancel context.CancelFunc

	dbMu sync.Mutex
	db   *compiledb.Database

	feed *graphFeed
}

// New builds a service. store may be nil to run without persistence; the
// service takes ownership of a non-nil store and closes it on Close.
func New(cfg config.Config, updater document.Updater, store *depstore.Store) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:     cfg,
		parts:   projectpart.NewRegistry(),
		unsaved: unsaved.NewFiles(),
		sched:   scheduler.NewScheduler(cfg.ParseConcurrency),
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
		feed:    newGraphFeed(),
	}
	s.docs = document.NewDocuments(s.parts, s.unsaved, updater)

	// The fallback part serves files opened outside the compilation
	// database. Its arguments track the configuration.
	s.parts.Update([]projectpart.ProjectPart{compiledb.FallbackPart(cfg.ExtraArguments)})

	w, err := watcher.New(time.Duration(cfg.DebounceMs)*time.Millisecond, s.DependencyChanged)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	s.watch = w

	return s, nil
}

// LoadCompilationDatabase indexes the database at path: project parts are
// registered, a document is created for every compiled file, and initial
// parses are scheduled.
func (s *Service) LoadCompilationDatabase(path string) error {
	db, err := compiledb.Load(path, s.cfg.ExtraArguments)
	if err != nil {
		return err
	}

	parts := append(db.Parts(), compiledb.FallbackPart(s.cfg.ExtraArguments))
	s.parts.Update(parts)

	s.dbMu.Lock()
	s.db = db
	s.dbMu.Unlock()

	s.pruneStore(db)

	created := 0
	for _, file := range db.Files() {
		for _, partID := range db.PartsForFile(file) {
			doc, err := s.docs.FindOrCreate(file, partID, nil, document.CheckIfFileExists)
			if err != nil {
				log.Printf("Cannot index %s: %v", file, err)
				continue
			}
			created++
			s.scheduleUpdate(doc)
		}
	}
	log.Printf("Indexed %d documents across %d project parts.", created, len(db.Parts()))
	return nil
}

// pruneStore drops persisted records whose entry is gone from the database,
// leftovers of earlier sessions. Records still covered stay and answer
// dependents queries until a fresh parse replaces them.
func (s *Service) pruneStore(db *compiledb.Database) {
	if s.store == nil {
		return
	}
	records, err := s.store.Documents()
	if err != nil {
		log.Printf("Cannot read dependency store: %v", err)
		return
	}
	for _, rec := range records {
		if dbContains(db, rec.FilePath, rec.ProjectPartID) {
			continue
		}
		// A live document outside the database is a fallback one; its
		// record is current, not a leftover.
		if !s.docs.Document(rec.FilePath, rec.ProjectPartID).IsNull() {
			continue
		}
		if err := s.store.Forget(rec.FilePath, rec.ProjectPartID); err != nil {
			log.Printf("Cannot prune %s from dependency store: %v", rec.FilePath, err)
		}
	}
}

func dbContains(db *compiledb.Database, filePath, partID string) bool {
	for _, id := range db.PartsForFile(filePath) {
		if id == partID {
			return true
		}
	}
	return false
}

// ReloadCompilationDatabase re-reads the database and reconciles: documents
// whose entry disappeared are removed and forgotten, new entries get
// documents, and documents under changed parts are reparsed.
func (s *Service) ReloadCompilationDatabase(path string) error {
	db, err := compiledb.Load(path, s.cfg.ExtraArguments)
	if err != nil {
		return err
	}

	s.dbMu.Lock()
	s.db = db
	s.dbMu.Unlock()

	s.pruneStore(db)

	// Drop documents that left the database. Fallback documents live
	// outside it and stay.
	var removedParts []string
	for _, doc := range s.docs.All() {
		partID := doc.ProjectPartID()
		if partID == compiledb.FallbackID || dbContains(db, doc.FilePath(), partID) {
			continue
		}
		s.removeDocument(doc)
		removedParts = append(removedParts, partID)
	}

	newParts := append(db.Parts(), compiledb.FallbackPart(s.cfg.ExtraArguments))
	s.parts.Update(newParts)

	// Unregister parts no document uses anymore.
	inUse := make(map[string]bool)
	for _, part := range newParts {
		inUse[part.ID] = true
	}
	var gone []string
	for _, id := range removedParts {
		if !inUse[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		s.parts.Remove(gone)
	}

	for _, file := range db.Files() {
		for _, partID := range db.PartsForFile(file) {
			doc, err := s.docs.FindOrCreate(file, partID, nil, document.CheckIfFileExists)
			if err != nil {
				log.Printf("Cannot index %s: %v", file, err)
				continue
			}
			s.scheduleUpdate(doc)
		}
	}

	for _, doc := range s.docs.UpdateDocumentsWithChangedProjectParts() {
		s.scheduleUpdate(doc)
	}

	s.syncWatcher()
	return nil
}

// OpenDocument registers an editor buffer for the file and schedules an
// update. Files outside the compilation database land on the fallback part.
func (s *Service) OpenDocument(filePath, content string, revision uint32) error {
	s.unsaved.Update(unsaved.File{FilePath: filePath, Content: content, Revision: revision})

	partIDs := s.partsForFile(filePath)
	for _, partID := range partIDs {
		doc, err := s.docs.FindOrCreate(filePath, partID, nil, document.CheckIfFileExists)
		if err != nil {
			return err
		}
		doc.SetIsUsedByCurrentEditor(true)
		doc.SetIsVisibleInEditor(true)
		doc.SetDocumentRevision(revision)
		// The buffer is now the content source, whatever was parsed
		// from disk before.
		doc.SetDirty()
		s.scheduleUpdate(doc)
	}
	return nil
}

// ChangeDocument records a new buffer snapshot. The file's own documents
// and every document depending on the file are marked dirty and their
// updates scheduled; the scheduler folds bursts into one reparse.
func (s *Service) ChangeDocument(filePath, content string, revision uint32) error {
	s.unsaved.Update(unsaved.File{FilePath: filePath, Content: content, Revision: revision})

	own := s.docs.DocumentsForFile(filePath)
	if len(own) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, filePath)
	}
	for _, doc := range own {
		doc.SetDocumentRevision(revision)
		doc.SetDirty()
		s.scheduleUpdate(doc)
	}
	for _, doc := range s.docs.UpdateDocumentsWithChangedDependency(filePath) {
		s.scheduleUpdate(doc)
	}
	return nil
}

// SaveDocument drops the buffer override so parses read from disk again.
func (s *Service) SaveDocument(filePath string) error {
	s.unsaved.Remove(filePath)

	own := s.docs.DocumentsForFile(filePath)
	if len(own) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, filePath)
	}
	for _, doc := range own {
		doc.SetDirty()
		s.scheduleUpdate(doc)
	}
	for _, doc := range s.docs.UpdateDocumentsWithChangedDependency(filePath) {
		s.scheduleUpdate(doc)
	}
	return nil
}

// CloseDocument drops the buffer and clears the editor flags. Documents
// from the compilation database stay indexed; a fallback document leaves
// with its buffer.
func (s *Service) CloseDocument(filePath string) error {
	s.unsaved.Remove(filePath)

	own := s.docs.DocumentsForFile(filePath)
	if len(own) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, filePath)
	}
	for _, doc := range own {
		if doc.ProjectPartID() == compiledb.FallbackID {
			s.removeDocument(doc)
			continue
		}
		doc.SetIsUsedByCurrentEditor(false)
		doc.SetIsVisibleInEditor(false)
		doc.SetDirty()
		s.scheduleUpdate(doc)
	}
	s.syncWatcher()
	return nil
}

// Reparse forces a full parse of the file's documents. This is the explicit
// retry path after a failed update.
func (s *Service) Reparse(filePath string) error {
	own := s.docs.DocumentsForFile(filePath)
	if len(own) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, filePath)
	}
	for _, doc := range own {
		s.sched.Schedule(documentKey(doc), scheduler.Task{
			Name: "parse " + doc.FilePath(),
			Execute: func() error {
				doc.Parse(s.ctx)
				s.afterUpdate(doc)
				return updateError(doc)
			},
		})
	}
	return nil
}

// DependencyChanged is the watcher callback. Every document depending on
// one of the changed paths is marked dirty and rescheduled.
func (s *Service) DependencyChanged(paths []string) {
	for _, path := range paths {
		dirtied := s.docs.UpdateDocumentsWithChangedDependency(path)
		if len(dirtied) > 0 {
			log.Printf("Dependency %s changed; %d documents affected.", path, len(dirtied))
		}
		for _, doc := range dirtied {
			s.scheduleUpdate(doc)
		}
	}
}

// Status returns the status of every document for the file.
func (s *Service) Status(filePath string) ([]document.Status, error) {
	own := s.docs.DocumentsForFile(filePath)
	if len(own) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, filePath)
	}
	statuses := make([]document.Status, 0, len(own))
	for _, doc := range own {
		statuses = append(statuses, doc.Status())
	}
	return statuses, nil
}

// StatusAll returns the status of every live document.
func (s *Service) StatusAll() []document.Status {
	docs := s.docs.All()
	statuses := make([]document.Status, 0, len(docs))
	for _, doc := range docs {
		statuses = append(statuses, doc.Status())
	}
	return statuses
}

// Dependents answers the reverse-include query: which documents depend on
// the given path. Served from the store when one is attached, so answers
// survive restarts; otherwise computed from live documents.
func (s *Service) Dependents(path string) ([]depstore.Record, error) {
	if s.store != nil {
		return s.store.Dependents(path)
	}

	var records []depstore.Record
	for _, doc := range s.docs.All() {
		deps, err := doc.DependedOnFilePaths()
		if err != nil {
			continue
		}
		for _, dep := range deps {
			if dep == path {
				records = append(records, depstore.Record{
					FilePath:      doc.FilePath(),
					ProjectPartID: doc.ProjectPartID(),
					Intact:        doc.IsIntact(),
				})
				break
			}
		}
	}
	return records, nil
}

// IncludeGraphURL starts the live graph page on first use and returns its
// address.
func (s *Service) IncludeGraphURL() (string, error) {
	return s.feed.serve()
}

// Drain waits for every scheduled update to finish. Further updates are
// rejected, so this suits the one-shot dump tool; an interactive server
// never calls it.
func (s *Service) Drain() {
	s.sched.Stop()
}

// Close shuts the service down: pending updates drain fast under the
// cancelled context, then the watcher, graph page and store close.
func (s *Service) Close() error {
	s.cancel()
	s.sched.Stop()

	err := s.watch.Close()
	s.feed.close()
	if s.store != nil {
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// partsForFile resolves the part IDs a file belongs to, defaulting to the
// fallback part.
func (s *Service) partsForFile(filePath string) []string {
	s.dbMu.Lock()
	db := s.db
	s.dbMu.Unlock()

	if db != nil {
		if ids := db.PartsForFile(filePath); len(ids) > 0 {
			return ids
		}
	}
	return []string{compiledb.FallbackID}
}

func documentKey(doc document.Document) string {
	return doc.FilePath() + "\x00" + doc.ProjectPartID()
}

// scheduleUpdate queues the document's update. The key serializes updates
// per document, so at most one parse or reparse is in flight for it.
func (s *Service) scheduleUpdate(doc document.Document) {
	s.sched.Schedule(documentKey(doc), scheduler.Task{
		Name: "update " + doc.FilePath(),
		Execute: func() error {
			doc.Reparse(s.ctx)
			s.afterUpdate(doc)
			return updateError(doc)
		},
	})
}

// afterUpdate records the result, re-syncs the watcher with the new
// dependency set and feeds the graph page.
func (s *Service) afterUpdate(doc document.Document) {
	if doc.HasParseOrReparseFailed() {
		return
	}

	deps, err := doc.DependedOnFilePaths()
	if err != nil {
		// The file vanished mid-update; the watcher or the editor
		// will follow up.
		deps = nil
	}

	if s.store != nil && len(deps) > 0 {
		rec := depstore.Record{
			FilePath:      doc.FilePath(),
			ProjectPartID: doc.ProjectPartID(),
			LastParsed:    time.Now(),
			Intact:        doc.IsIntact(),
		}
		if err := s.store.RecordParse(rec, deps); err != nil {
			log.Printf("Cannot persist parse of %s: %v", doc.FilePath(), err)
		}
	}

	s.syncWatcher()
	s.feed.update(doc, deps)
}

func (s *Service) syncWatcher() {
	s.watch.Sync(s.docs.WatchedFilePaths())
}

// removeDocument takes a document out of the set, the store, the scheduler
// and the graph.
func (s *Service) removeDocument(doc document.Document) {
	filePath, partID := doc.FilePath(), doc.ProjectPartID()
	s.sched.Purge(documentKey(doc))
	s.docs.Remove(filePath, partID)
	if s.store != nil {
		if err := s.store.Forget(filePath, partID); err != nil {
			log.Printf("Cannot forget %s: %v", filePath, err)
		}
	}
	s.feed.remove(doc)
}

func updateError(doc document.Document) error {
	if doc.HasParseOrReparseFailed() {
		return fmt.Errorf("update of %s failed", doc.FilePath())
	}
	return nil
}
