package server

import (
	"errors"
	"fmt"
	"log"

	"tuck/internal/service"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	filePath, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}
	return s.service.OpenDocument(
		filePath,
		params.TextDocument.Text,
		uint32(params.TextDocument.Version),
	)
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	filePath, err := uriToPath(params.TextDocument.TextDocumentIdentifier.URI)
	if err != nil {
		return err
	}

	// Full sync is advertised, every event carries the whole buffer. A
	// burst collapses to its last snapshot before the service sees it.
	var content string
	seen := false
	for _, raw := range params.ContentChanges {
		change, ok := raw.(protocol.TextDocumentContentChangeEventWhole)
		if !ok {
			return fmt.Errorf("unexpected change event type %T", raw)
		}
		content = change.Text
		seen = true
	}
	if !seen {
		return nil
	}

	err = s.service.ChangeDocument(filePath, content, uint32(params.TextDocument.Version))
	if errors.Is(err, service.ErrUnknownDocument) {
		log.Printf("Change for unopened document %s.", filePath)
		return nil
	}
	return err
}

func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	filePath, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}
	err = s.service.SaveDocument(filePath)
	if errors.Is(err, service.ErrUnknownDocument) {
		return nil
	}
	return err
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	filePath, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}
	err = s.service.CloseDocument(filePath)
	if errors.Is(err, service.ErrUnknownDocument) {
		return nil
	}
	return err
}
