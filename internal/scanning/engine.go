package scanning

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// EngineConfig selects and configures an OCR engine
type EngineConfig struct {
	Name           string // tesseract, gemini or ollama
	GeminiKey      string
	GeminiModel    string
	OllamaURL      string
	OllamaModel    string
	TessdataPrefix string
	Languages      []string
}

// NewEngine builds the engine named in cfg. The Gemini key falls back to the
// GEMINI_API_KEY environment variable.
func NewEngine(cfg EngineConfig) (Engine, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "tesseract":
		slog.Info("Initializing Tesseract engine...", "languages", cfg.Languages)
		return NewTesseract(cfg.TessdataPrefix, cfg.Languages...), nil
	case "gemini":
		apiKey := cfg.GeminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		slog.Info("Initializing Gemini engine...", "model", cfg.GeminiModel)
		return NewGemini(apiKey, cfg.GeminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown OCR engine %q: valid engines are tesseract, gemini and ollama", cfg.Name)
	}
}
