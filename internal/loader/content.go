// Package loader splits lesson content into prioritized chunks and loads
// them with a process-wide concurrency bound, tracking per-session progress.
package loader

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidContent  = errors.New("invalid content")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidState    = errors.New("operation not allowed in current session state")
	ErrNoContentSource = errors.New("no content source configured")
	ErrClosed          = errors.New("loader closed")
)

// Kind discriminates content blocks and chunks.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindModel3D     Kind = "3d-model"
	KindInteractive Kind = "interactive"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindModel3D, KindInteractive:
		return true
	}
	return false
}

// idPrefix is the chunk id stem for each kind.
func (k Kind) idPrefix() string {
	if k == KindModel3D {
		return "model3d"
	}
	return string(k)
}

// Block is one piece of lesson content. Text blocks carry Text; every other
// kind carries a URL. A positive Priority overrides the configured band.
type Block struct {
	Kind     Kind   `json:"kind"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// Content is the heterogeneous content of one lesson.
type Content struct {
	Blocks []Block `json:"blocks"`
}

// Validate checks every block. Errors wrap ErrInvalidContent.
func (c Content) Validate() error {
	if len(c.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrInvalidContent)
	}
	for i, b := range c.Blocks {
		if err := b.validate(); err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrInvalidContent, i, err)
		}
	}
	return nil
}

func (b Block) validate() error {
	if !b.Kind.valid() {
		return fmt.Errorf("unknown kind %q", b.Kind)
	}
	if b.Size < 0 {
		return errors.New("negative size")
	}
	if b.Priority < 0 {
		return errors.New("negative priority")
	}
	if b.Kind == KindText {
		if strings.TrimSpace(b.Text) == "" {
			return errors.New("empty text")
		}
		return nil
	}
	u, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("bad url: %v", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return errors.New("url has no host")
		}
	case "data":
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return nil
}

// PriorityLevel selects the priority band of a session's chunks.
type PriorityLevel string

const (
	PriorityHigh   PriorityLevel = "high"
	PriorityMedium PriorityLevel = "medium"
	PriorityLow    PriorityLevel = "low"
)

// ParsePriorityLevel parses "high", "medium" or "low". Empty means medium.
func ParsePriorityLevel(s string) (PriorityLevel, error) {
	switch p := PriorityLevel(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	case "":
		return PriorityMedium, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Config controls how one session is chunked and loaded.
type Config struct {
	Priority PriorityLevel `json:"priority"`
	// Preload is carried on the session for consumers; the loader itself
	// does not act on it.
	Preload bool `json:"preload"`
	// Lazy sessions wait for StartLoading.
	Lazy bool `json:"lazy"`
	// ChunkSize bounds text chunks, in characters.
	ChunkSize int `json:"chunk_size"`
	// MaxConcurrent caps this session's in-flight chunks, within the
	// manager's global bound.
	MaxConcurrent int `json:"max_concurrent"`
	// RetryAttempts is the number of retries after a failed fetch.
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	// Timeout bounds each fetch attempt.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns the stock session configuration.
func DefaultConfig() Config {
	return Config{
		Priority:      PriorityMedium,
		Preload:       true,
		Lazy:          true,
		ChunkSize:     1024 * 1024,
		MaxConcurrent: 3,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Timeout:       30 * time.Second,
	}
}

// withDefaults fills zero-valued numeric fields. RetryAttempts is kept as
// given so that zero disables retries.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Priority == "" {
		c.Priority = d.Priority
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// priorityBands maps a kind to its {high, medium, low} priorities.
var priorityBands = map[Kind][3]int{
	KindText:        {10, 5, 1},
	KindImage:       {8, 4, 4},
	KindVideo:       {9, 3, 3},
	KindModel3D:     {7, 2, 2},
	KindInteractive: {6, 3, 3},
}

func bandPriority(kind Kind, level PriorityLevel) int {
	band := priorityBands[kind]
	switch level {
	case PriorityHigh:
		return band[0]
	case PriorityLow:
		return band[2]
	default:
		return band[1]
	}
}

// chunkText splits text on whitespace into chunks of at most size
// characters. Words are never split, so a single word longer than size
// becomes its own chunk and is the one case where a chunk exceeds size.
func chunkText(text string, size int) []string {
	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	for _, word := range strings.Fields(text) {
		wlen := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+wlen > size {
			chunks = append(chunks, current.String())
			current.Reset()
			curLen = 0
		}
		if curLen > 0 {
			current.WriteByte(' ')
			curLen++
		}
		current.WriteString(word)
		curLen += wlen
	}
	if curLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func textDataURL(s string) string {
	return "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte(s))
}

// buildChunks turns validated content into chunks sorted by descending
// priority. Equal priorities keep content order.
func buildChunks(content Content, cfg Config) []Chunk {
	var chunks []Chunk
	counters := make(map[Kind]int)

	next := func(kind Kind) string {
		n := counters[kind]
		counters[kind] = n + 1
		return kind.idPrefix() + "_" + strconv.Itoa(n)
	}

	for _, b := range content.Blocks {
		priority := b.Priority
		if priority <= 0 {
			priority = bandPriority(b.Kind, cfg.Priority)
		}

		if b.Kind == KindText {
			for _, part := range chunkText(b.Text, cfg.ChunkSize) {
				chunks = append(chunks, Chunk{
					ID:       next(KindText),
					Kind:     KindText,
					URL:      textDataURL(part),
					Size:     int64(utf8.RuneCountInString(part)),
					Priority: priority,
				})
			}
			continue
		}

		chunks = append(chunks, Chunk{
			ID:       next(b.Kind),
			Kind:     b.Kind,
			URL:      b.URL,
			Size:     b.Size,
			Priority: priority,
		})
	}

	sortByPriority(chunks)
	return chunks
}
