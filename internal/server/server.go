package server

import (
	"fmt"
	"net/url"
	"path/filepath"

	"tuck/internal/config"
	"tuck/internal/service"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
)

// Server is the LSP front end. It translates editor traffic into service
// calls; all state lives behind the service.
type Server struct {
	handler *protocol.Handler
	base    config.Config
	service *service.Service
	rootDir string
	dbPath  string
}

// NewServer wires the protocol handler on top of the given base
// configuration. Options the client sends during initialize are merged
// over the base.
func NewServer(base config.Config) (*server.Server, error) {
	ls := &Server{base: base}
	ls.handler = &protocol.Handler{
		Initialize:              ls.initialize,
		Initialized:             ls.initialized,
		TextDocumentDidOpen:     ls.textDocumentDidOpen,
		TextDocumentDidChange:   ls.textDocumentDidChange,
		TextDocumentDidSave:     ls.textDocumentDidSave,
		TextDocumentDidClose:    ls.textDocumentDidClose,
		WorkspaceExecuteCommand: ls.workspaceExecuteCommand,
		Shutdown:                ls.shutdown,
	}

	return server.NewServer(ls.handler, "tuck", false), nil
}

func uriToPath(docURI string) (string, error) {
	uri, err := url.Parse(docURI)
	if err != nil {
		return "", fmt.Errorf("failed to parse uri: %w", err)
	}
	if uri.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", uri.Scheme)
	}
	return filepath.Clean(uri.Path), nil
}

func pathToURI(path string) string {
	uri := url.URL{Scheme: "file", Path: path}
	return uri.String()
}
