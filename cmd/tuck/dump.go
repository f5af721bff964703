package main

import (
	"encoding/json"
	"fmt"

	"tuck/internal/config"
	"tuck/internal/service"
	"tuck/internal/tunit"
)

// runDump indexes the compilation database once, waits for the parses to
// finish and prints every document's status. Useful for checking a
// project setup without an editor attached.
func runDump(cfg config.Config) error {
	updater, err := tunit.NewUpdater()
	if err != nil {
		return err
	}
	svc, err := service.New(cfg, updater, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.LoadCompilationDatabase(cfg.CompileCommands); err != nil {
		return err
	}
	svc.Drain()

	out, err := json.MarshalIndent(svc.StatusAll(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
