package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestSupportedFile(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{"notes.txt", true},
		{"summary.md", true},
		{"README", true},
		{"chapter.Markdown", true},
		{"lecture.pdf", false},
		{"slides.pptx", false},
		{"archive.zip", false},
	}

	for _, tc := range cases {
		if got := SupportedFile(tc.path); got != tc.want {
			t.Errorf("SupportedFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestReadTextFile(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "notes.txt", []byte("the cell is the basic unit of life"))

	text, err := ReadTextFile(path)
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if text != "the cell is the basic unit of life" {
		t.Errorf("unexpected content: %q", text)
	}
}

func TestReadTextFile_StripsBOM(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "bom.txt", []byte("\xEF\xBB\xBFhello"))

	text, err := ReadTextFile(path)
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if text != "hello" {
		t.Errorf("expected BOM stripped, got %q", text)
	}
}

func TestReadTextFile_RejectsBinary(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "blob.txt", []byte{0x00, 0x01, 0x02, 0xFF})

	_, err := ReadTextFile(path)
	if err == nil {
		t.Fatal("expected error for binary content")
	}
	if !retrieval.IsKind(err, retrieval.KindInvalidInput) {
		t.Errorf("expected invalid_input kind, got %v", err)
	}
}

func TestReadTextFile_RejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "slides.pdf", []byte("%PDF-1.4"))

	_, err := ReadTextFile(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if !retrieval.IsKind(err, retrieval.KindInvalidInput) {
		t.Errorf("expected invalid_input kind, got %v", err)
	}
}

func TestReadTextFile_Missing(t *testing.T) {
	t.Parallel()

	if _, err := ReadTextFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFetchURL_PlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "studybuddy-go") {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("photosynthesis converts light into chemical energy"))
	}))
	defer srv.Close()

	text, err := FetchURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}
	if text != "photosynthesis converts light into chemical energy" {
		t.Errorf("unexpected content: %q", text)
	}
}

func TestFetchURL_StripsHTML(t *testing.T) {
	t.Parallel()

	page := `<html><head><style>body { color: red }</style>
<script>alert("hi")</script></head>
<body><h1>Mitosis</h1><p>Cells divide in <b>four</b> phases.</p></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	text, err := FetchURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}
	if strings.Contains(text, "<") || strings.Contains(text, "alert") || strings.Contains(text, "color") {
		t.Errorf("expected tags, scripts, and styles removed, got %q", text)
	}
	if !strings.Contains(text, "Mitosis") || !strings.Contains(text, "four phases") {
		t.Errorf("expected page prose preserved, got %q", text)
	}
}

func TestFetchURL_RejectsNonText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	_, err := FetchURL(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for non-text content type")
	}
	if !retrieval.IsKind(err, retrieval.KindInvalidInput) {
		t.Errorf("expected invalid_input kind, got %v", err)
	}
}

func TestFetchURL_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FetchURL(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestStripHTML_UnclosedBlock(t *testing.T) {
	t.Parallel()

	got := stripHTML("<p>intro</p><script>never closed")
	if strings.Contains(got, "never closed") {
		t.Errorf("expected unclosed script content dropped, got %q", got)
	}
	if !strings.Contains(got, "intro") {
		t.Errorf("expected prose before the block kept, got %q", got)
	}
}
