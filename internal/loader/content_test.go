package loader

import (
	"encoding/base64"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentValidate(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{"empty", Content{}, true},
		{"text", Content{Blocks: []Block{{Kind: KindText, Text: "hello"}}}, false},
		{"blank text", Content{Blocks: []Block{{Kind: KindText, Text: "  \n "}}}, true},
		{"unknown kind", Content{Blocks: []Block{{Kind: "audio", URL: "https://x.test/a.mp3"}}}, true},
		{"image", Content{Blocks: []Block{{Kind: KindImage, URL: "https://cdn.test/a.png", Size: 10}}}, false},
		{"data url", Content{Blocks: []Block{{Kind: KindImage, URL: "data:image/png;base64,AAAA"}}}, false},
		{"missing url", Content{Blocks: []Block{{Kind: KindVideo}}}, true},
		{"relative url", Content{Blocks: []Block{{Kind: KindVideo, URL: "/videos/1.mp4"}}}, true},
		{"ftp url", Content{Blocks: []Block{{Kind: KindModel3D, URL: "ftp://x.test/m.glb"}}}, true},
		{"negative size", Content{Blocks: []Block{{Kind: KindImage, URL: "https://x.test/a.png", Size: -1}}}, true},
		{"negative priority", Content{Blocks: []Block{{Kind: KindInteractive, URL: "https://x.test/q.json", Priority: -2}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidContent)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParsePriorityLevel(t *testing.T) {
	for in, want := range map[string]PriorityLevel{"high": PriorityHigh, " LOW ": PriorityLow, "": PriorityMedium, "medium": PriorityMedium} {
		got, err := ParsePriorityLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParsePriorityLevel("urgent")
	require.Error(t, err)
}

func TestBandPriority(t *testing.T) {
	tests := []struct {
		kind                Kind
		high, medium, low int
	}{
		{KindText, 10, 5, 1},
		{KindImage, 8, 4, 4},
		{KindVideo, 9, 3, 3},
		{KindModel3D, 7, 2, 2},
		{KindInteractive, 6, 3, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.high, bandPriority(tt.kind, PriorityHigh))
			assert.Equal(t, tt.medium, bandPriority(tt.kind, PriorityMedium))
			assert.Equal(t, tt.low, bandPriority(tt.kind, PriorityLow))
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{RetryAttempts: 0, Lazy: false}.withDefaults()
	d := DefaultConfig()
	require.Equal(t, d.Priority, c.Priority)
	require.Equal(t, d.ChunkSize, c.ChunkSize)
	require.Equal(t, d.MaxConcurrent, c.MaxConcurrent)
	require.Equal(t, d.Timeout, c.Timeout)
	require.Zero(t, c.RetryAttempts, "zero retries is kept")
	require.False(t, c.Lazy)
}

func randomText(n int) string {
	r := rand.New(rand.NewSource(42))
	letters := []rune("abcdefghijklmnopqrstuvwxyzäöü")
	var b strings.Builder
	count := 0
	for count < n {
		if count > 0 {
			b.WriteByte(' ')
			count++
		}
		wl := 1 + r.Intn(12)
		for i := 0; i < wl && count < n; i++ {
			b.WriteRune(letters[r.Intn(len(letters))])
			count++
		}
	}
	return b.String()
}

func TestChunkText(t *testing.T) {
	text := randomText(10000)
	require.Equal(t, 10000, utf8.RuneCountInString(text))

	chunks := chunkText(text, 1000)
	require.Greater(t, len(chunks), 9)

	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 1000)
		require.Equal(t, strings.TrimSpace(c), c)
		require.NotContains(t, c, "  ")
	}
	require.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(chunks, " "))
}

func TestChunkText_Edges(t *testing.T) {
	require.Empty(t, chunkText("   ", 10))
	require.Equal(t, []string{"a b", "c"}, chunkText("a  b\n\tc", 3))
	require.Equal(t, []string{"ab", "abcdefgh", "ab"}, chunkText("ab abcdefgh ab", 4), "an over-long word stays whole")
	require.Equal(t, []string{"abc def"}, chunkText("abc def", 7))
}

func TestBuildChunks(t *testing.T) {
	content := Content{Blocks: []Block{
		{Kind: KindText, Text: "one two three four"},
		{Kind: KindImage, URL: "https://cdn.test/a.png", Size: 100},
		{Kind: KindVideo, URL: "https://cdn.test/v.mp4", Size: 1000},
		{Kind: KindModel3D, URL: "https://cdn.test/m.glb", Size: 500},
		{Kind: KindInteractive, URL: "https://cdn.test/q.json", Size: 20, Priority: 11},
		{Kind: KindImage, URL: "https://cdn.test/b.png", Size: 50},
	}}

	t.Run("Medium", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ChunkSize = 8
		chunks := buildChunks(content, cfg)

		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		// explicit 11, then the medium bands text 5, image 4, video 3, 3d 2
		require.Equal(t, []string{
			"interactive_0",
			"text_0", "text_1", "text_2",
			"image_0", "image_1",
			"video_0",
			"model3d_0",
		}, ids)

		text, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(chunks[1].URL, "data:text/plain;base64,"))
		require.NoError(t, err)
		require.Equal(t, "one two", string(text))
		require.EqualValues(t, 7, chunks[1].Size)
	})

	t.Run("High", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Priority = PriorityHigh
		chunks := buildChunks(content, cfg)

		priorities := make([]int, len(chunks))
		for i, c := range chunks {
			priorities[i] = c.Priority
		}
		require.Equal(t, []int{11, 10, 9, 8, 8, 7}, priorities)
	})

	t.Run("Low", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Priority = PriorityLow
		chunks := buildChunks(content, cfg)
		require.Equal(t, "interactive_0", chunks[0].ID)
		require.Equal(t, "text_0", chunks[len(chunks)-1].ID)
		require.Equal(t, 1, chunks[len(chunks)-1].Priority)
	})
}

func TestValidateWrapsCause(t *testing.T) {
	err := Content{Blocks: []Block{{Kind: KindImage}}}.Validate()
	require.True(t, errors.Is(err, ErrInvalidContent))
	require.Contains(t, err.Error(), "block 0")
}
