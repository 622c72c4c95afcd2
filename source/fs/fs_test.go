package fs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"slices"
	"strings"
	"testing"
	"time"

	"testing/fstest"

	"github.com/opengs/ragchunk/source"
)

const testEML = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Quarterly report\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Revenue grew in every region.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>Revenue grew in every region.</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"attached notes\r\n" +
	"--XYZ--\r\n"

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func collect(t *testing.T, iter source.Iterator) map[string]string {
	t.Helper()

	documents := make(map[string]string)
	for {
		handler, err := iter.Next(t.Context())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error from Next: %v", err)
		}

		data, err := io.ReadAll(handler)
		handler.Close()
		if err != nil {
			documents[handler.Path()] = "error: " + err.Error()
			continue
		}
		documents[handler.Path()] = string(data)
	}
	return documents
}

func TestFS_UUID(t *testing.T) {
	memFS := fstest.MapFS{}
	uuid := "abc-123"
	f := New(memFS, ".", uuid)

	if f.UUID() != uuid {
		t.Errorf("expected UUID %s, got %s", uuid, f.UUID())
	}
}

func TestFS_OpenAndIterateFiles(t *testing.T) {
	memFS := fstest.MapFS{
		"file1.txt": &fstest.MapFile{
			Data:    []byte("hello"),
			Mode:    0644,
			ModTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		"file2.txt": &fstest.MapFile{
			Data:    []byte("world"),
			Mode:    0644,
			ModTime: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
		},
		"dir": &fstest.MapFile{
			Mode: fs.ModeDir,
		},
	}

	f := New(memFS, ".", "test-uuid")
	iter, err := f.Open()
	if err != nil {
		t.Fatalf("failed to open FS: %v", err)
	}
	defer iter.Close()

	ctx := context.Background()
	var seen []string

	for {
		handler, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error from Next: %v", err)
		}

		seen = append(seen, handler.Path())

		data, err := io.ReadAll(handler)
		if err != nil {
			t.Errorf("failed to read data from %s: %v", handler.Path(), err)
		}

		if !(strings.Contains(string(data), "hello") || strings.Contains(string(data), "world")) {
			t.Errorf("unexpected file content: %s", data)
		}

		if handler.ETag() == "" {
			t.Errorf("etag should not be empty for %s", handler.Path())
		}
	}

	if len(seen) != 2 {
		t.Errorf("expected 2 files, saw %d: %v", len(seen), seen)
	}
}

func TestFS_EmptyFS(t *testing.T) {
	memFS := fstest.MapFS{}
	f := New(memFS, ".", "test-uuid")

	iter, err := f.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer iter.Close()

	ctx := context.Background()
	_, err = iter.Next(ctx)
	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFS_MissingRoot(t *testing.T) {
	f := New(fstest.MapFS{}, "missing", "test-uuid")
	if _, err := f.Open(); err == nil {
		t.Error("expected error when opening missing directory")
	}
}

func TestFS_SkipsHidden(t *testing.T) {
	memFS := fstest.MapFS{
		"docs/readme.md":       &fstest.MapFile{Data: []byte("# Readme")},
		"docs/.draft.md":       &fstest.MapFile{Data: []byte("draft")},
		".git/config":          &fstest.MapFile{Data: []byte("[core]")},
		"docs/.cache/index.md": &fstest.MapFile{Data: []byte("cached")},
		"notes/today.txt":      &fstest.MapFile{Data: []byte("today")},
	}

	iter, err := New(memFS, ".", "test-uuid").Open()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	documents := collect(t, iter)
	paths := make([]string, 0, len(documents))
	for path := range documents {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	expected := []string{"docs/readme.md", "notes/today.txt"}
	if !slices.Equal(paths, expected) {
		t.Errorf("expected %v, got %v", expected, paths)
	}
}

func TestFS_Subdirectory(t *testing.T) {
	memFS := fstest.MapFS{
		"a/one.txt": &fstest.MapFile{Data: []byte("one")},
		"b/two.txt": &fstest.MapFile{Data: []byte("two")},
	}

	iter, err := New(memFS, "b", "test-uuid").Open()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	documents := collect(t, iter)
	if len(documents) != 1 || documents["b/two.txt"] != "two" {
		t.Errorf("unexpected documents %v", documents)
	}
}

func TestFS_ExtractText(t *testing.T) {
	memFS := fstest.MapFS{
		"plain.txt":  &fstest.MapFile{Data: []byte("Just some text.\n\nSecond paragraph.")},
		"data.json":  &fstest.MapFile{Data: []byte(`{"title": "json document"}`)},
		"page.html":  &fstest.MapFile{Data: []byte("<html><body>page</body></html>")},
		"mail.eml":   &fstest.MapFile{Data: []byte(testEML)},
		"image.png":  &fstest.MapFile{Data: pngHeader},
		"empty.txt":  &fstest.MapFile{Data: []byte{}},
		"note.txt":   &fstest.MapFile{Data: []byte("Note: this is not an e-mail\n\nBody")},
		"polish.txt": &fstest.MapFile{Data: []byte("zażółć gęślą jaźń")},
	}

	iter, err := New(memFS, ".", "test-uuid").Open()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	documents := collect(t, iter)

	tests := []struct {
		path     string
		expected string
	}{
		{"plain.txt", "Just some text.\n\nSecond paragraph."},
		{"data.json", `{"title": "json document"}`},
		{"page.html", "<html><body>page</body></html>"},
		{"mail.eml", "Subject: Quarterly report\n\nRevenue grew in every region.\n"},
		{"empty.txt", ""},
		{"note.txt", "Note: this is not an e-mail\n\nBody"},
		{"polish.txt", "zażółć gęślą jaźń"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if documents[tt.path] != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, documents[tt.path])
			}
		})
	}

	if !strings.HasPrefix(documents["image.png"], "error: ") {
		t.Errorf("expected binary document to fail, got %q", documents["image.png"])
	}
}

func TestFS_UnsupportedDocumentError(t *testing.T) {
	memFS := fstest.MapFS{
		"image.png": &fstest.MapFile{Data: pngHeader},
	}

	iter, err := New(memFS, ".", "test-uuid").Open()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	handler, err := iter.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	defer handler.Close()

	_, err = io.ReadAll(handler)
	if !errors.Is(err, source.ErrUnsupportedDocument) {
		t.Errorf("expected ErrUnsupportedDocument, got %v", err)
	}
}

func TestFS_NextCancelled(t *testing.T) {
	memFS := fstest.MapFS{
		"file.txt": &fstest.MapFile{Data: []byte("text")},
	}

	iter, err := New(memFS, ".", "test-uuid").Open()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := iter.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEMLDetector(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Mail", testEML, true},
		{"FoldedHeader", "Subject: long\r\n subject line\r\nFrom: a@b.c\r\n\r\nbody", true},
		{"SingleUnknownHeader", "Note: something\n\nbody", false},
		{"SingleKnownHeader", "Date: today\n\nbody", false},
		{"Prose", "Hello world, this is text.\nAnother line.", false},
		{"StartsWithSpace", " From: a\nTo: b\n\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := emlDetector([]byte(tt.input), 0); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
