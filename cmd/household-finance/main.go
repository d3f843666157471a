package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"

	"github.com/zombor/household-finance/internal/finance"
	"github.com/zombor/household-finance/internal/invoice"
	"github.com/zombor/household-finance/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("household-finance")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		dbPath           = fs.StringLong("db", "household-finance.db", "Database file path")
		storagePath      = fs.StringLong("storage", "./statements", "Directory for uploaded statements")
		maxUpload        = fs.IntLong("max-upload-mb", 50, "Largest accepted statement upload in megabytes")
		engineName       = fs.StringLong("engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tessdata         = fs.StringLong("tessdata", "", "Tesseract tessdata directory (optional)")
		languages        = fs.StringLong("ocr-languages", "por,eng", "Comma separated Tesseract languages")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llava", "Ollama model name")
		ocrConcurrency   = fs.IntLong("ocr-concurrency", 2, "Pages OCR'd at once")
		categoriesPath   = fs.StringLong("categories", "", "YAML file with category rules (defaults to the built-in rules)")
		adminUser        = fs.StringLong("admin-user", "", "Bootstrap admin username, used only when no users exist")
		adminPass        = fs.StringLong("admin-pass", "", "Bootstrap admin password")
		impersonationTTL = fs.DurationLong("impersonation-ttl", finance.DefaultImpersonationTTL, "Lifetime of impersonation sessions")
		_                = fs.StringLong("config", "", "YAML config file (optional)")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("HOUSEHOLD_FINANCE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := finance.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, err := scanning.NewEngine(scanning.EngineConfig{
		Name:           *engineName,
		GeminiKey:      *geminiKey,
		GeminiModel:    *geminiModel,
		OllamaURL:      *ollamaURL,
		OllamaModel:    *ollamaModel,
		TessdataPrefix: *tessdata,
		Languages:      splitList(*languages),
	})
	if err != nil {
		slog.Error("Failed to initialize OCR engine", "error", err)
		os.Exit(1)
	}
	scanner := scanning.NewPipeline(engine, scanning.PipelineConfig{Concurrency: *ocrConcurrency})
	defer scanner.Close()

	categorizer := finance.DefaultCategorizer()
	if *categoriesPath != "" {
		categorizer, err = finance.LoadCategorizer(*categoriesPath)
		if err != nil {
			slog.Error("Failed to load category rules", "error", err)
			os.Exit(1)
		}
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := finance.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := finance.NewService(db, scanner, invoice.DefaultRegistry(), categorizer, store)
	service.SetImpersonationTTL(*impersonationTTL)

	if *adminUser != "" {
		created, err := service.BootstrapAdmin(*adminUser, *adminPass)
		if err != nil {
			slog.Error("Failed to create bootstrap admin", "error", err)
			os.Exit(1)
		}
		if !created {
			slog.Debug("Users already exist, skipping bootstrap admin")
		}
	}

	server := finance.NewServer(service)
	server.SetMaxUploadSize(int64(*maxUpload) << 20)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "engine", engine.Name(), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
