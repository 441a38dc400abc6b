package release

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestParseVersionHandlesEmptyAndUnparsable(t *testing.T) {
	v, err := ParseVersion("")
	if err != nil || v.String() != "0.0.0" {
		t.Fatalf("expected 0.0.0 for empty string, got %v err=%v", v, err)
	}
	v, err = ParseVersion("not-a-version")
	if err != nil || v.String() != "0.0.0" {
		t.Fatalf("expected 0.0.0 fallback for unparsable string, got %v err=%v", v, err)
	}
}

func TestParseVersionStripsLeadingV(t *testing.T) {
	v, err := ParseVersion("v1.2.3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String() != "1.2.3" {
		t.Fatalf("expected 1.2.3, got %s", v.String())
	}
}

func TestIsNewer(t *testing.T) {
	current, _ := ParseVersion("1.0.0")
	older, _ := ParseVersion("0.9.0")
	newer, _ := ParseVersion("1.0.1")

	if IsNewer(current, older) {
		t.Fatalf("expected older version not to be newer")
	}
	if !IsNewer(current, newer) {
		t.Fatalf("expected newer version to be detected")
	}
	if IsNewer(current, current) {
		t.Fatalf("expected equal versions to not be newer")
	}
}

func TestUnpackBinaryExtractsSingleEntryAndReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "release.zip")
	writeZip(t, archivePath, "node", []byte("binary-v1"))

	target := filepath.Join(dir, "node")
	if err := unpackBinary(archivePath, target); err != nil {
		t.Fatalf("unpackBinary: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read staged binary: %v", err)
	}
	if string(data) != "binary-v1" {
		t.Fatalf("unexpected staged binary content: %q", data)
	}

	// Re-staging (as an upgrade would) must replace the existing file.
	archivePath2 := filepath.Join(dir, "release2.zip")
	writeZip(t, archivePath2, "node", []byte("binary-v2"))
	if err := unpackBinary(archivePath2, target); err != nil {
		t.Fatalf("unpackBinary (replace): %v", err)
	}
	data, err = os.ReadFile(target)
	if err != nil {
		t.Fatalf("read replaced binary: %v", err)
	}
	if string(data) != "binary-v2" {
		t.Fatalf("expected replaced content, got %q", data)
	}
}

func TestUnpackBinaryRejectsMultiFileArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "release.zip")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, name := range []string{"node", "README"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		_, _ = w.Write([]byte("x"))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()

	if err := unpackBinary(archivePath, filepath.Join(dir, "node")); err == nil {
		t.Fatalf("expected error for multi-file archive")
	}
}

func writeZip(t *testing.T, path, entryName string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(entryName)
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
}
