package tunit

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

const includeQuery = `(preproc_include path: (_) @path)`

// collectDependencies resolves the unit's includes, transitively, against the
// header search directories from the compiler arguments. The returned set
// always contains the file itself; only files that exist (or have an unsaved
// override) are added. Caller holds unit.mu.
func (u *Updater) collectDependencies(ctx context.Context, unit *Unit, in UpdateInput, content []byte, overrides map[string]string) map[string]struct{} {
	deps := map[string]struct{}{in.FilePath: {}}
	dirs := includeDirs(in.ProjectArguments, in.FileArguments)

	targets := includeTargets(u.query, unit.tree.RootNode(), content)
	u.resolveAll(ctx, targets, in.FilePath, dirs, overrides, deps)
	return deps
}

// resolveAll resolves include spellings found in includingFile and recurses
// into each newly resolved header. The deps set doubles as the visited set.
func (u *Updater) resolveAll(ctx context.Context, targets []string, includingFile string, dirs []string, overrides map[string]string, deps map[string]struct{}) {
	for _, target := range targets {
		resolved, ok := resolveInclude(target, includingFile, dirs, overrides)
		if !ok {
			continue
		}
		if _, seen := deps[resolved]; seen {
			continue
		}
		deps[resolved] = struct{}{}

		headerContent, err := readContent(resolved, overrides)
		if err != nil {
			continue
		}
		u.resolveAll(ctx, u.scanIncludes(ctx, headerContent), resolved, dirs, overrides, deps)
	}
}

// scanIncludes parses header content with a scratch parser and returns its
// include spellings.
func (u *Updater) scanIncludes(ctx context.Context, content []byte) []string {
	p := <-u.pool
	defer func() { u.pool <- p }()

	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	return includeTargets(u.query, tree.RootNode(), content)
}

// includeTargets runs the include query over one tree and returns the raw
// spellings, quotes and angle brackets included.
func includeTargets(query *sitter.Query, root *sitter.Node, source []byte) []string {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()

	cursor.Exec(query, root)

	var targets []string
	for {
		m, ok := cursor.NextMatch()
		if !ok {
			break
		}
		m = cursor.FilterPredicates(m, source)
		for _, c := range m.Captures {
			if c.Node == nil {
				continue
			}
			targets = append(targets, c.Node.Content(source))
		}
	}
	return targets
}

// resolveInclude maps one include spelling to an absolute path. Quoted
// includes search the including file's directory first, then the -I and
// -isystem directories; angled includes skip the including file's directory.
func resolveInclude(spelling, includingFile string, dirs []string, overrides map[string]string) (string, bool) {
	if len(spelling) < 3 {
		return "", false
	}
	quoted := spelling[0] == '"'
	name := spelling[1 : len(spelling)-1]
	if name == "" {
		return "", false
	}

	var candidates []string
	if quoted {
		candidates = append(candidates, filepath.Join(filepath.Dir(includingFile), name))
	}
	for _, dir := range dirs {
		candidates = append(candidates, filepath.Join(dir, name))
	}

	for _, candidate := range candidates {
		candidate = filepath.Clean(candidate)
		if fileReadable(candidate, overrides) {
			return candidate, true
		}
	}
	return "", false
}

func fileReadable(path string, overrides map[string]string) bool {
	if _, ok := overrides[path]; ok {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// includeDirs pulls -I and -isystem directories out of the argument lists,
// handling both joined ("-Idir") and separate ("-I", "dir") forms.
func includeDirs(argLists ...[]string) []string {
	var dirs []string
	for _, args := range argLists {
		for i := 0; i < len(args); i++ {
			arg := args[i]
			switch {
			case arg == "-I" || arg == "-isystem":
				if i+1 < len(args) {
					i++
					dirs = append(dirs, args[i])
				}
			case strings.HasPrefix(arg, "-I"):
				dirs = append(dirs, arg[len("-I"):])
			case strings.HasPrefix(arg, "-isystem"):
				dirs = append(dirs, arg[len("-isystem"):])
			}
		}
	}
	return dirs
}
