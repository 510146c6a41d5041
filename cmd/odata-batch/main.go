// Package main is the odata-batch command: bulk writes to an OData entity
// store through $batch, and normalized reads.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nghyane/odata-batch/internal/batch"
	"github.com/nghyane/odata-batch/internal/cmd"
	"github.com/nghyane/odata-batch/internal/config"
	"github.com/nghyane/odata-batch/internal/dataverse"
	"github.com/nghyane/odata-batch/internal/logging"
	log "github.com/nghyane/odata-batch/internal/logging"
	flag "github.com/spf13/pflag"
)

var (
	Version           = "dev"
	Commit            = "none"
	DefaultConfigPath = "config.yaml"
)

func init() {
	logging.SetupBaseLogger()
}

const usage = `Usage: odata-batch [flags] <command>

Commands:
  insert   create records from --file
  upsert   create or update records by --keys
  update   update records by --primary-key
  list     print every row of --collection
  get      print one row by --id
  init     write a starter config file

Flags:
`

func main() {
	var (
		configPath  string
		baseURL     string
		collection  string
		file        string
		keys        []string
		primaryKey  string
		id          string
		query       map[string]string
		chunkSize   int
		dryRun      bool
		checkParts  bool
		debug       bool
		force       bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&baseURL, "base-url", "", "Service root URL (overrides config)")
	flag.StringVarP(&collection, "collection", "c", "", "Entity set name, e.g. accounts")
	flag.StringVarP(&file, "file", "f", "", "JSON or JSONC array of records (- for stdin)")
	flag.StringSliceVar(&keys, "keys", nil, "Alternate key fields for upsert")
	flag.StringVar(&primaryKey, "primary-key", "", "Primary key field for update")
	flag.StringVar(&id, "id", "", "Primary key value for get")
	flag.StringToStringVarP(&query, "query", "q", nil, "Query options, e.g. $select=name,$top=10")
	flag.IntVar(&chunkSize, "chunk-size", 0, "Records per $batch request (max 999)")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the first $batch body without sending")
	flag.BoolVar(&checkParts, "check-parts", false, "Fail when any part of a $batch response failed")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&force, "force", false, "Overwrite an existing config (with init)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("odata-batch Version: %s, Commit: %s\n", Version, Commit)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	if command == "init" {
		if err := cmd.DoInitConfig(configPath, force, os.Stdout); err != nil {
			log.Fatalf("init: %v", err)
		}
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, configPath == DefaultConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if chunkSize > 0 {
		cfg.ChunkSize = chunkSize
	}
	cfg.Debug = cfg.Debug || debug

	if err := logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	if !cfg.LoggingToFile {
		// stdout carries command output.
		logging.SetOutput(os.Stderr)
	}
	if cfg.Debug {
		logging.SetLevel(slog.LevelDebug)
	}
	defer logging.Close()

	transportCfg, err := cfg.TransportConfig(logging.Default())
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	svc, err := dataverse.New(transportCfg,
		dataverse.WithLogger(logging.Default()),
		dataverse.WithPageSize(cfg.PageSize),
		dataverse.WithMaxPages(cfg.MaxPages),
		dataverse.WithWriterOptions(batch.WithChunkSize(cfg.ChunkSize)),
	)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch strings.ToLower(command) {
	case cmd.OpInsert, cmd.OpUpsert, cmd.OpUpdate:
		err = cmd.DoWrite(ctx, svc, cmd.WriteOptions{
			Operation:  strings.ToLower(command),
			Collection: collection,
			File:       file,
			Keys:       keys,
			PrimaryKey: primaryKey,
			DryRun:     dryRun,
			CheckParts: checkParts,
		}, os.Stdin, os.Stdout)
	case "list":
		err = cmd.DoList(ctx, svc, collection, query, os.Stdout)
	case "get":
		err = cmd.DoGet(ctx, svc, collection, id, query, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("%s failed: %v", command, err)
		stop()
		logging.Close()
		os.Exit(1)
	}
}
