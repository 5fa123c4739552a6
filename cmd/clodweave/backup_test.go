package main

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestSplitArchivePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantRoot string
		wantRel  string
	}{
		{"simple file", "store/clodweave.db", "store", "clodweave.db"},
		{"nested path", "nats/jetstream/meta.inf", "nats", "jetstream/meta.inf"},
		{"root dir", "store/", "store", "."},
		{"bare root", "nats", "nats", "."},
		{"leading dot-slash", "./store/clodweave.db", "store", "clodweave.db"},
		{"leading slash", "/store/clodweave.db", "store", "clodweave.db"},
		{"escapes root", "store/../../etc/passwd", "", ""},
		{"climbs into sibling", "store/../nats/x", "nats", "x"},
		{"empty string", "", "", ""},
		{"just a slash", "/", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotRoot, gotRel := splitArchivePath(tt.input)
			if gotRoot != tt.wantRoot || gotRel != tt.wantRel {
				t.Errorf("splitArchivePath(%q) = (%q, %q), want (%q, %q)",
					tt.input, gotRoot, gotRel, tt.wantRoot, tt.wantRel)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

// buildArchive packs each source directory under its root name.
func buildArchive(t *testing.T, sources map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)
	for prefix, dir := range sources {
		if _, err := addTree(tw, prefix, dir); err != nil {
			t.Fatalf("addTree %s: %v", prefix, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func extract(t *testing.T, data []byte, dests map[string]string, overwrite bool) (int, error) {
	t.Helper()
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	return extractArchive(zr, dests, overwrite)
}

func TestBackupRoundTrip(t *testing.T) {
	storeSrc := t.TempDir()
	natsSrc := t.TempDir()
	writeTree(t, storeSrc, map[string]string{"clodweave.db": "sqlite bytes"})
	writeTree(t, natsSrc, map[string]string{
		"jetstream/meta.inf":        "meta",
		"jetstream/streams/s1/data": "stream data",
	})

	data := buildArchive(t, map[string]string{archiveStore: storeSrc, archiveNATS: natsSrc})

	storeDst := t.TempDir()
	natsDst := filepath.Join(t.TempDir(), "nats")
	n, err := extract(t, data, map[string]string{archiveStore: storeDst, archiveNATS: natsDst}, false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 files restored, got %d", n)
	}

	checks := map[string]string{
		filepath.Join(storeDst, "clodweave.db"):                      "sqlite bytes",
		filepath.Join(natsDst, "jetstream", "meta.inf"):              "meta",
		filepath.Join(natsDst, "jetstream", "streams", "s1", "data"): "stream data",
	}
	for p, want := range checks {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("read %s: %v", p, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", p, got, want)
		}
	}
}

func TestRestoreRefusesExistingFiles(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"clodweave.db": "new"})
	data := buildArchive(t, map[string]string{archiveStore: src})

	dst := t.TempDir()
	writeTree(t, dst, map[string]string{"clodweave.db": "old"})

	if _, err := extract(t, data, map[string]string{archiveStore: dst}, false); err == nil {
		t.Fatal("expected error for existing file without overwrite")
	}
	got, _ := os.ReadFile(filepath.Join(dst, "clodweave.db"))
	if string(got) != "old" {
		t.Errorf("existing file was modified: %q", got)
	}

	if _, err := extract(t, data, map[string]string{archiveStore: dst}, true); err != nil {
		t.Fatalf("extract with overwrite: %v", err)
	}
	got, _ = os.ReadFile(filepath.Join(dst, "clodweave.db"))
	if string(got) != "new" {
		t.Errorf("expected overwritten content, got %q", got)
	}
}

func TestRestoreSkipsUnknownRoots(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"x": "data"})
	data := buildArchive(t, map[string]string{"other": src})

	dst := t.TempDir()
	n, err := extract(t, data, map[string]string{archiveStore: dst}, false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing restored, got %d", n)
	}
}
