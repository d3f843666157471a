package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/zombor/household-finance/internal/finance"
	"github.com/zombor/household-finance/internal/invoice"
	"github.com/zombor/household-finance/internal/scanning"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "invoice-parse",
		Short: "Read credit card statements without the server",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline details to stderr")

	rootCmd.AddCommand(newParseCommand(), newBanksCommand())
	return rootCmd
}

type parseOptions struct {
	bank       string
	password   string
	textOnly   bool
	categories string
	engine     scanning.EngineConfig
	languages  string
}

type parseOutput struct {
	*invoice.Invoice
	Charges    decimal.Decimal   `json:"charges"`
	Credits    decimal.Decimal   `json:"credits"`
	Source     string            `json:"source"`
	Pages      int               `json:"pages"`
	Categories map[string]string `json:"categories"`
}

func newParseCommand() *cobra.Command {
	opts := parseOptions{}

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Extract the due date, total and transactions of a statement as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.bank, "bank", "", "Statement layout (detected from the text when empty)")
	f.StringVar(&opts.password, "password", "", "Password of an encrypted PDF")
	f.BoolVar(&opts.textOnly, "text", false, "Treat FILE as already extracted text and skip OCR")
	f.StringVar(&opts.categories, "categories", "", "YAML file with category rules")
	f.StringVar(&opts.engine.Name, "engine", "tesseract", "OCR engine: tesseract, gemini or ollama")
	f.StringVar(&opts.engine.GeminiKey, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY)")
	f.StringVar(&opts.engine.GeminiModel, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	f.StringVar(&opts.engine.OllamaURL, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	f.StringVar(&opts.engine.OllamaModel, "ollama-model", "llava", "Ollama model name")
	f.StringVar(&opts.engine.TessdataPrefix, "tessdata", "", "Tesseract tessdata directory")
	f.StringVar(&opts.languages, "ocr-languages", "por,eng", "Comma separated Tesseract languages")

	return cmd
}

func runParse(cmd *cobra.Command, path string, opts parseOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	doc := &scanning.Document{Text: string(data), Pages: 1, Source: "file"}
	if !opts.textOnly {
		opts.engine.Languages = strings.Split(opts.languages, ",")
		engine, err := scanning.NewEngine(opts.engine)
		if err != nil {
			return err
		}
		scanner := scanning.NewPipeline(engine, scanning.DefaultPipelineConfig())
		defer scanner.Close()

		doc, err = scanner.Scan(context.Background(), data, contentTypeFor(path), opts.password)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", path, err)
		}
	}

	inv, err := invoice.DefaultRegistry().Parse(doc.Text, opts.bank)
	if err != nil {
		return err
	}
	inv.Warnings = append(inv.Warnings, doc.Warnings...)

	categorizer := finance.DefaultCategorizer()
	if opts.categories != "" {
		if categorizer, err = finance.LoadCategorizer(opts.categories); err != nil {
			return err
		}
	}

	out := parseOutput{
		Invoice:    inv,
		Charges:    inv.Charges(),
		Credits:    inv.Credits(),
		Source:     doc.Source,
		Pages:      doc.Pages,
		Categories: make(map[string]string),
	}
	for _, l := range inv.Transactions {
		out.Categories[l.Description] = categorizer.Categorize(l.Description)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".heic", ".heif":
		return "image/heic"
	default:
		return ""
	}
}

func newBanksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List the supported statement layouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, bank := range invoice.DefaultRegistry().Banks() {
				fmt.Fprintln(cmd.OutOrStdout(), bank)
			}
			return nil
		},
	}
}
