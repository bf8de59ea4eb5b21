package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/clinrag/clinrag/internal/logging"
)

type ExtractorConfig struct {
	MaxFileSize int // bytes accepted per upload
	MaxTextSize int // characters kept after extraction
}

// Extractor turns uploaded files into plain UTF-8 text ready for
// chunking. PDF and Word parsing is deliberately not handled here;
// those uploads must be converted upstream.
type Extractor struct {
	config ExtractorConfig
}

func NewWithConfig(config ExtractorConfig) Extractor {
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 10 * 1024 * 1024
	}
	if config.MaxTextSize == 0 {
		config.MaxTextSize = 50 * 1024 * 1024
	}

	return Extractor{
		config: config,
	}
}

func (e Extractor) Extract(filename string, data []byte) (string, error) {
	if len(data) > e.config.MaxFileSize {
		return "", fmt.Errorf("file size %d exceeds the %d byte limit", len(data), e.config.MaxFileSize)
	}

	var text string
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".text", ".csv", ".rtf":
		text = string(data)
	case ".json":
		text, err = extractJSON(data)
	case ".html", ".htm":
		text, err = extractHTML(data)
	case ".pdf", ".doc", ".docx":
		return "", fmt.Errorf("unsupported format %q: convert to plain text before uploading", filepath.Ext(filename))
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("unsupported or binary file format: %s", filename)
		}
		text = string(data)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("file %s contains no readable text", filename)
	}

	if len(text) > e.config.MaxTextSize {
		logging.Logger().Warn("extract: text too large, truncating",
			"file", filename, "length", len(text), "limit", e.config.MaxTextSize)
		text = truncateRunes(text, e.config.MaxTextSize)
	}

	return text, nil
}

func extractJSON(data []byte) (string, error) {
	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %v", err)
	}
	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render JSON: %v", err)
	}
	return string(pretty), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %v", err)
	}

	doc.Find("script, style, nav, header, footer").Remove()

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	return cleanContent(text), nil
}

func cleanContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
