// Package compiledb loads a clang-style compile_commands.json and derives
// project parts from it. Entries sharing one normalized argument list fold
// into one part, so a whole build usually collapses to a handful of parts.
package compiledb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tuck/internal/projectpart"
)

// FallbackID names the part used for files absent from the database. The
// ID stays stable while its arguments follow the configuration, so an
// arguments change surfaces as a changed part.
const FallbackID = "fallback"

// Entry mirrors one compile_commands.json record.
type Entry struct {
	Directory string   `json:"directory"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	File      string   `json:"file"`
	Output    string   `json:"output,omitempty"`
}

// Database indexes project parts and the files compiled under them.
type Database struct {
	parts map[string]projectpart.ProjectPart
	files map[string][]string
}

// Load reads the database at path. extraArgs are appended to every derived
// part. Entries without a usable command are logged and skipped.
func Load(path string, extraArgs []string) (*Database, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compilation database: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse compilation database %s: %w", path, err)
	}

	db := &Database{
		parts: make(map[string]projectpart.ProjectPart),
		files: make(map[string][]string),
	}

	for _, entry := range entries {
		argv := entry.Arguments
		if len(argv) == 0 {
			argv = splitArgv(entry.Command)
		}
		if len(argv) < 2 {
			log.Printf("Skipping compilation database entry for %s: no usable command.", entry.File)
			continue
		}

		filePath := entry.File
		if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(entry.Directory, filePath)
		}
		filePath = filepath.Clean(filePath)

		args := normalizeArguments(argv, entry.Directory, filePath)
		args = append(args, extraArgs...)
		id := partID(args)

		if _, ok := db.parts[id]; !ok {
			db.parts[id] = projectpart.ProjectPart{ID: id, Arguments: args}
		}
		if !contains(db.files[filePath], id) {
			db.files[filePath] = append(db.files[filePath], id)
		}
	}

	return db, nil
}

// Parts returns the derived parts, ordered by ID.
func (db *Database) Parts() []projectpart.ProjectPart {
	parts := make([]projectpart.ProjectPart, 0, len(db.parts))
	for _, part := range db.parts {
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	return parts
}

// PartsForFile returns the part IDs a file is compiled under, in database
// order. Nil when the file is not indexed.
func (db *Database) PartsForFile(filePath string) []string {
	return db.files[filepath.Clean(filePath)]
}

// Files returns every indexed source file, sorted.
func (db *Database) Files() []string {
	files := make([]string, 0, len(db.files))
	for f := range db.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// FallbackPart builds the part for files outside the database.
func FallbackPart(extraArgs []string) projectpart.ProjectPart {
	return projectpart.ProjectPart{ID: FallbackID, Arguments: append([]string(nil), extraArgs...)}
}

// partID derives a short stable identifier from the argument list.
func partID(args []string) string {
	hash := sha256.New()
	for _, arg := range args {
		hash.Write([]byte(arg))
		hash.Write([]byte{0x1f})
	}
	return hex.EncodeToString(hash.Sum(nil))[:12]
}

// normalizeArguments strips the compiler, the source file, and output
// bookkeeping from argv, and anchors include directories at the entry's
// working directory. What remains characterizes the part.
func normalizeArguments(argv []string, dir, filePath string) []string {
	var args []string
	skipNext := false
	for i, arg := range argv[1:] {
		if skipNext {
			skipNext = false
			continue
		}
		switch {
		case arg == "-c":
		case arg == "-o":
			skipNext = true
		case strings.HasPrefix(arg, "-o") && len(arg) > 2:
		case arg == "-I" || arg == "-isystem":
			skipNext = true
			if i+2 < len(argv) {
				args = append(args, arg, absDir(argv[i+2], dir))
			}
		case strings.HasPrefix(arg, "-I") && len(arg) > 2:
			args = append(args, "-I"+absDir(arg[2:], dir))
		case strings.HasPrefix(arg, "-isystem") && len(arg) > len("-isystem"):
			args = append(args, "-isystem"+absDir(arg[len("-isystem"):], dir))
		case arg == filePath || sameFile(arg, dir, filePath):
		default:
			args = append(args, arg)
		}
	}
	return args
}

func absDir(p, dir string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(dir, p))
}

func sameFile(arg, dir, filePath string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	if !filepath.IsAbs(arg) {
		arg = filepath.Join(dir, arg)
	}
	return filepath.Clean(arg) == filePath
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// splitArgv splits a shell command string into arguments, honoring single
// and double quotes and backslash escapes.
func splitArgv(command string) []string {
	var args []string
	var cur strings.Builder
	inWord := false
	var quote rune
	escaped := false

	for _, r := range command {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args
}
