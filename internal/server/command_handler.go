package server

import (
	"fmt"
	"log"
	"net/url"
	"path/filepath"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	cmdReparse      = "tuck.reparse"
	cmdStatus       = "tuck.status"
	cmdDependents   = "tuck.dependents"
	cmdIncludeGraph = "tuck.includeGraph"
	cmdReload       = "tuck.reload"
)

func commands() []string {
	return []string{cmdReparse, cmdStatus, cmdDependents, cmdIncludeGraph, cmdReload}
}

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	log.Printf("Command %s.", params.Command)

	switch params.Command {
	case cmdReparse:
		filePath, err := argPath(params.Arguments)
		if err != nil {
			return nil, err
		}
		return nil, s.service.Reparse(filePath)

	case cmdStatus:
		if len(params.Arguments) == 0 {
			return s.service.StatusAll(), nil
		}
		filePath, err := argPath(params.Arguments)
		if err != nil {
			return nil, err
		}
		return s.service.Status(filePath)

	case cmdDependents:
		filePath, err := argPath(params.Arguments)
		if err != nil {
			return nil, err
		}
		records, err := s.service.Dependents(filePath)
		if err != nil {
			return nil, err
		}
		seen := map[string]struct{}{}
		uris := make([]string, 0, len(records))
		for _, rec := range records {
			if _, ok := seen[rec.FilePath]; ok {
				continue
			}
			seen[rec.FilePath] = struct{}{}
			uris = append(uris, pathToURI(rec.FilePath))
		}
		return uris, nil

	case cmdIncludeGraph:
		return nil, s.includeGraph(context)

	case cmdReload:
		return nil, s.service.ReloadCompilationDatabase(s.dbPath)
	}

	return nil, fmt.Errorf("unknown command %q", params.Command)
}

func (s *Server) includeGraph(ctx *glsp.Context) error {
	addr, err := s.service.IncludeGraphURL()
	if err != nil {
		return err
	}
	ctx.Notify(
		"window/showDocument",
		protocol.ShowDocumentParams{
			URI:      protocol.URI(addr),
			External: &protocol.True,
		},
	)
	return nil
}

// argPath accepts either a file URI or a plain path as the first command
// argument.
func argPath(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("missing file argument")
	}
	raw, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected argument type %T", args[0])
	}
	if uri, err := url.Parse(raw); err == nil && uri.Scheme == "file" {
		return filepath.Clean(uri.Path), nil
	}
	return filepath.Clean(raw), nil
}
