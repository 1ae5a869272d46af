// Package ingestion reads course material from its sources — local text
// files and web pages — and produces plain text ready for the retrieval
// pipeline. It validates that a source actually holds text: binary files
// and oversized inputs are rejected before any embedding work happens.
package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// MaxSourceBytes caps the size of a single source. Course materials are
// text; anything larger than 10 MiB is almost certainly not a document a
// student means to study from.
const MaxSourceBytes = 10 << 20

// defaultFetchTimeout bounds a single page fetch.
const defaultFetchTimeout = 30 * time.Second

// userAgent identifies fetch requests made by the ingestion pipeline.
const userAgent = "studybuddy-go/1.0 (course material ingestion)"

// textExtensions lists file extensions accepted without content sniffing.
var textExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".tex":      true,
	".csv":      true,
	"":          true, // extensionless files are sniffed below
}

// SupportedFile reports whether the file's extension is one the ingestion
// pipeline accepts. Content is still validated on read.
func SupportedFile(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// ReadTextFile reads a local file and returns its content as text. It
// rejects unsupported extensions, files over MaxSourceBytes, and content
// that is not valid UTF-8 text. A leading UTF-8 BOM is stripped.
func ReadTextFile(path string) (string, error) {
	if !SupportedFile(path) {
		return "", retrieval.NewError(retrieval.KindInvalidInput, "ingestion",
			fmt.Sprintf("unsupported file type %q", filepath.Ext(path)))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: stat %s: %w", path, err)
	}
	if info.Size() > MaxSourceBytes {
		return "", retrieval.NewError(retrieval.KindInvalidInput, "ingestion",
			fmt.Sprintf("file %s is %d bytes, over the %d byte limit", path, info.Size(), MaxSourceBytes))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: read %s: %w", path, err)
	}

	text, err := validateText(raw)
	if err != nil {
		return "", fmt.Errorf("ingestion: %s: %w", path, err)
	}
	return text, nil
}

// FetchURL retrieves the content of a web page as plain text. HTML responses
// have their tags stripped so the page prose survives; non-text content
// types are rejected.
func FetchURL(ctx context.Context, rawURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("ingestion: creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingestion: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ingestion: unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "text/") {
		return "", retrieval.NewError(retrieval.KindInvalidInput, "ingestion",
			fmt.Sprintf("unsupported content type %q for %s", contentType, rawURL))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxSourceBytes+1))
	if err != nil {
		return "", fmt.Errorf("ingestion: reading body: %w", err)
	}
	if len(raw) > MaxSourceBytes {
		return "", retrieval.NewError(retrieval.KindInvalidInput, "ingestion",
			fmt.Sprintf("response from %s exceeds the %d byte limit", rawURL, MaxSourceBytes))
	}

	text, err := validateText(raw)
	if err != nil {
		return "", fmt.Errorf("ingestion: %s: %w", rawURL, err)
	}

	if strings.HasPrefix(contentType, "text/html") {
		text = stripHTML(text)
	}
	return text, nil
}

// utf8BOM is the byte-order mark some editors prepend to UTF-8 files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// validateText checks that raw is text and returns it as a string with any
// leading BOM removed.
func validateText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if bytes.IndexByte(raw, 0) >= 0 || !utf8.Valid(raw) {
		return "", retrieval.NewError(retrieval.KindInvalidInput, "ingestion", "content is not UTF-8 text")
	}
	return string(raw), nil
}

// stripHTML removes script and style blocks, then all remaining tags,
// collapsing the result's whitespace. It is a pragmatic reducer for lecture
// pages, not a general HTML parser.
func stripHTML(s string) string {
	s = stripBlocks(s, "script")
	s = stripBlocks(s, "style")

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			// Tag boundaries separate words in the rendered page.
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// stripBlocks removes every <tag ...>...</tag> block, case-insensitively.
func stripBlocks(s, tag string) string {
	lower := strings.ToLower(s)
	open := "<" + tag
	closing := "</" + tag + ">"

	var b strings.Builder
	for {
		i := strings.Index(lower, open)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.Index(lower[i:], closing)
		if j < 0 {
			b.WriteString(s[:i])
			return b.String()
		}
		b.WriteString(s[:i])
		cut := i + j + len(closing)
		s = s[cut:]
		lower = lower[cut:]
	}
}
