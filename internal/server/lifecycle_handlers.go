package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"tuck/internal/depstore"
	"tuck/internal/service"
	"tuck/internal/tunit"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	// Config
	cfg, err := s.base.Merge(params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	log.Printf("Config: %+v", cfg)

	// Root
	var rootDir string
	if params.RootURI != nil {
		rootUri, err := url.Parse(*params.RootURI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse root uri: %w", err)
		}
		rootDir = rootUri.Path
	} else {
		rootDir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	s.rootDir = rootDir

	// Dependency store. The default location is keyed by workspace root
	// and configuration, so a config change starts from a fresh store.
	storePath := cfg.StorePath
	if storePath == "" {
		stateBaseDir, err := getXDGStateHome("tuck")
		if err != nil {
			return nil, err
		}
		cfgJson, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		hash := sha256.New()
		hash.Write(cfgJson)
		configHash := hex.EncodeToString(hash.Sum(nil))
		storeDir := path.Join(stateBaseDir, url.PathEscape(rootDir), configHash)
		if err := os.MkdirAll(storeDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		storePath = path.Join(storeDir, "deps.db")
	}
	store, err := depstore.New(storePath)
	if err != nil {
		// The server works without persistence, dependents queries just
		// fall back to live documents.
		log.Printf("Cannot open dependency store %s: %v", storePath, err)
		store = nil
	}

	updater, err := tunit.NewUpdater()
	if err != nil {
		return nil, err
	}
	svc, err := service.New(cfg, updater, store)
	if err != nil {
		return nil, err
	}
	s.service = svc

	dbPath := cfg.CompileCommands
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(rootDir, dbPath)
	}
	s.dbPath = dbPath

	// Initial indexing runs in the background, the editor gets its
	// InitializeResult right away.
	go func() {
		if err := svc.LoadCompilationDatabase(dbPath); err != nil {
			log.Printf("Cannot load compilation database %s: %v", dbPath, err)
		}
	}()

	syncKind := protocol.TextDocumentSyncKindFull

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.False},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: commands(),
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
	}, nil
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Println("Client initialized.")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	if s.service == nil {
		return nil
	}
	return s.service.Close()
}

func getXDGStateHome(appName string) (string, error) {
	xdgStateHome := os.Getenv("XDG_STATE_HOME")
	if xdgStateHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		xdgStateHome = filepath.Join(homeDir, ".local", "state")
	}

	appStateDir := filepath.Join(xdgStateHome, appName)

	// Create it if it doesn't exist
	if err := os.MkdirAll(appStateDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	return appStateDir, nil
}
