package unsaved

import (
	"sort"
	"sync"
)

// File is one unsaved editor buffer: content for a file path that overrides
// whatever is on disk, stamped with the editor's revision counter.
type File struct {
	FilePath string
	Content  string
	Revision uint32
}

// Files tracks unsaved buffers by absolute file path. Safe for concurrent use.
type Files struct {
	mu    sync.RWMutex
	files map[string]File
}

func NewFiles() *Files {
	return &Files{files: make(map[string]File)}
}

// Update inserts or replaces the buffer for file.FilePath.
func (f *Files) Update(file File) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.FilePath] = file
}

// Remove drops the buffer for the given path. Unknown paths are a no-op.
func (f *Files) Remove(filePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, filePath)
}

// Get returns the buffer for the given path.
func (f *Files) Get(filePath string) (File, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	file, ok := f.files[filePath]
	return file, ok
}

// Snapshot returns a copy of all buffers, ordered by file path.
func (f *Files) Snapshot() []File {
	f.mu.RLock()
	defer f.mu.RUnlock()

	files := make([]File, 0, len(f.files))
	for _, file := range f.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].FilePath < files[j].FilePath
	})
	return files
}
