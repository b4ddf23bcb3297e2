package generator

import (
	"errors"
	"regexp"
	"strings"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

// ErrExtractionFailed means the model response did not carry the required
// structured markers (prompt and title at minimum).
var ErrExtractionFailed = errors.New("metadata extraction failed")

// Marker protocol: fields are delimited as [@name-start]...[@name-end],
// case-insensitive, spanning newlines.
var (
	promptMarker      = markerPattern("prompt")
	titleMarker       = markerPattern("title")
	categoryMarker    = markerPattern("category")
	descriptionMarker = markerPattern("description")
	keywordsMarker    = markerPattern("keywords")
)

func markerPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\[@` + name + `-start\](.*?)\[@` + name + `-end\]`)
}

func markerContent(text string, pattern *regexp.Regexp) (string, bool) {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}

// ExtractMetadata pulls the structured image metadata out of a raw model
// response. Missing prompt or title yields ErrExtractionFailed; the other
// fields may be absent.
func ExtractMetadata(responseText string) (*models.ImageMetadata, error) {
	prompt, hasPrompt := markerContent(responseText, promptMarker)
	title, hasTitle := markerContent(responseText, titleMarker)
	if !hasPrompt || prompt == "" || !hasTitle || title == "" {
		return nil, ErrExtractionFailed
	}

	meta := &models.ImageMetadata{
		Prompt: prompt,
		Title:  title,
	}
	meta.Category, _ = markerContent(responseText, categoryMarker)
	meta.Description, _ = markerContent(responseText, descriptionMarker)

	if raw, ok := markerContent(responseText, keywordsMarker); ok && raw != "" {
		for _, keyword := range strings.Split(raw, ",") {
			meta.Keywords = append(meta.Keywords, strings.TrimSpace(keyword))
		}
	}

	return meta, nil
}
