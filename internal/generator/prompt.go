package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stockgen-ai/generator/internal/history"
	"github.com/stockgen-ai/generator/internal/shared/config"
)

// LoadPrompt reads the configured system prompt file. When the file is
// missing it lists the prompt files that do exist, since a misnamed
// PROMPT_FILE_NAME is the usual cause.
func LoadPrompt(cfg *config.Config, logger zerolog.Logger) (string, error) {
	path := cfg.PromptFilePath()

	if _, err := os.Stat(cfg.PromptsDir); os.IsNotExist(err) {
		_ = os.MkdirAll(cfg.PromptsDir, 0o755)
		return "", fmt.Errorf("prompts directory %q not found", cfg.PromptsDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if available := listPromptFiles(cfg.PromptsDir); len(available) > 0 {
				logger.Info().Strs("available", available).Msg("prompt file not found, available prompts listed")
			}
			return "", fmt.Errorf("prompt file %q not found", path)
		}
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	logger.Debug().
		Str("path", path).
		Int("chars", len(prompt)).
		Int("estimated_tokens", history.EstimateTokens(prompt)).
		Msg("loaded system prompt")
	return prompt, nil
}

func listPromptFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".txt" {
			files = append(files, entry.Name())
		}
	}
	return files
}
