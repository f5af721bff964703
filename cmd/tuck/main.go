package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"tuck/internal/config"
	"tuck/internal/server"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

func main() {
	versionFlag := flag.Bool("version", false, "Print the version of the program")
	configFlag := flag.String("config", "", "Path to a configuration file")
	logfileFlag := flag.String("logfile", "", "Path to log file")
	listenFlag := flag.String("listen", "", "Serve over TCP on this address instead of stdio")
	dumpFlag := flag.Bool("dump", false, "Index the compilation database, print document status as JSON and exit")
	flag.Parse()

	// Version tag
	if *versionFlag {
		fmt.Printf("tuck LSP server version %s\n", Version)
		return
	}

	// Logging. Stdout belongs to the protocol, so without a log file
	// everything is dropped.
	if *logfileFlag != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logfileFlag,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		})
		log.SetFlags(log.Ldate | log.Ltime | log.Llongfile)
		log.Println("Starting tuck LSP server...")
	} else if *dumpFlag {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}
	commonlog.Configure(2, nil) // Logger used by glsp

	// Configuration file. Client initializationOptions are merged on top
	// during the initialize request.
	cfg := config.Default()
	if *configFlag != "" {
		var err error
		cfg, err = config.LoadFile(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tuck: %v\n", err)
			os.Exit(1)
		}
	}

	if *dumpFlag {
		if err := runDump(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "tuck: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Initialize the server
	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Run the server
	if *listenFlag != "" {
		err = srv.RunTCP(*listenFlag)
	} else {
		err = srv.RunStdio()
	}
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
