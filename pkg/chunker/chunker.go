package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clinrag/clinrag/internal/logging"
)

// ErrInvalidParams covers malformed chunking parameters or empty input.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// MaxChunks caps output for pathological inputs so chunking can never
// exhaust memory; production documents stay far below it.
const MaxChunks = 10000

type ChunkerConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
}

type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) Chunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 50
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 50
	}

	return Chunker{
		config: config,
	}
}

// Chunk splits text into overlapping segments bounded by sentence
// boundaries where possible. Chunks shorter than MinChunkLength are
// dropped; they carry too little signal to rank against.
func (c Chunker) Chunk(text string) ([]string, error) {
	if c.config.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", ErrInvalidParams)
	}
	if c.config.ChunkOverlap < 0 || c.config.ChunkOverlap >= c.config.ChunkSize {
		return nil, fmt.Errorf("%w: overlap must be non-negative and less than chunk size", ErrInvalidParams)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidParams)
	}

	sentences := splitIntoSentences(trimmed)

	var chunks []string
	currentChunk := ""
	truncated := false

	for _, sentence := range sentences {
		if len(currentChunk)+len(sentence) > c.config.ChunkSize {
			if len(currentChunk) > 0 {
				chunks = append(chunks, strings.TrimSpace(currentChunk))
				if len(chunks) >= MaxChunks {
					truncated = true
					break
				}
				// Seed the next chunk with the trailing words of the one
				// just closed so context survives the boundary.
				tail := overlapTail(currentChunk, c.config.ChunkOverlap)
				if tail != "" {
					currentChunk = tail + " " + sentence
				} else {
					currentChunk = sentence
				}
			} else {
				currentChunk = sentence
			}
		} else if currentChunk == "" {
			currentChunk = sentence
		} else {
			currentChunk += ". " + sentence
		}
	}

	if !truncated && strings.TrimSpace(currentChunk) != "" {
		chunks = append(chunks, strings.TrimSpace(currentChunk))
	}

	if truncated {
		logging.Logger().Warn("chunker: reached maximum chunk limit, input truncated",
			"max_chunks", MaxChunks, "text_length", len(text))
	}

	filtered := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk) >= c.config.MinChunkLength {
			filtered = append(filtered, chunk)
		}
	}

	return filtered, nil
}

func splitIntoSentences(text string) []string {
	var sentences []string
	current := strings.Builder{}
	runes := []rune(text)

	for i, r := range runes {
		switch r {
		case '.', '!', '?':
			// Only a terminator followed by whitespace (or end of text)
			// closes a sentence; keeps decimals like "2.4" intact.
			if i+1 < len(runes) && !isSpace(runes[i+1]) {
				current.WriteRune(r)
				continue
			}
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// overlapTail returns the trailing words of text totalling at most
// overlap characters, so the seed never cuts mid-word.
func overlapTail(text string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	words := strings.Fields(text)
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		length := len(words[i])
		if total > 0 {
			length++ // joining space
		}
		if total+length > overlap {
			break
		}
		total += length
		start = i
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ")
}
