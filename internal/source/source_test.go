package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kstaniek/linkarq/internal/bitstring"
)

func mustParse(t *testing.T, s string) bitstring.String {
	t.Helper()
	b, err := bitstring.Parse(s)
	if err != nil {
		t.Fatalf("bitstring.Parse(%q): %v", s, err)
	}
	return b
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestFileBitSourceChunksExactMultiple(t *testing.T) {
	path := writeTemp(t, "input.txt", "1100110010101010")
	src, err := NewFileBitSource(path, 1) // 8 bits per chunk
	if err != nil {
		t.Fatalf("NewFileBitSource: %v", err)
	}

	bits, ok, err := src.Chunk(0)
	if err != nil || !ok {
		t.Fatalf("Chunk(0): ok=%v err=%v", ok, err)
	}
	if bits.Bits() != "11001100" {
		t.Fatalf("Chunk(0) = %q, want %q", bits.Bits(), "11001100")
	}

	bits, ok, err = src.Chunk(1)
	if err != nil || !ok {
		t.Fatalf("Chunk(1): ok=%v err=%v", ok, err)
	}
	if bits.Bits() != "10101010" {
		t.Fatalf("Chunk(1) = %q, want %q", bits.Bits(), "10101010")
	}

	_, ok, err = src.Chunk(2)
	if err != nil {
		t.Fatalf("Chunk(2): unexpected error %v", err)
	}
	if ok {
		t.Fatal("Chunk(2): expected ok=false at end of input")
	}
}

func TestFileBitSourceTrailingPartialChunk(t *testing.T) {
	path := writeTemp(t, "input.txt", "110011001010")
	src, err := NewFileBitSource(path, 1)
	if err != nil {
		t.Fatalf("NewFileBitSource: %v", err)
	}
	bits, ok, err := src.Chunk(1)
	if err != nil || !ok {
		t.Fatalf("Chunk(1): ok=%v err=%v", ok, err)
	}
	if bits.Bits() != "1010" {
		t.Fatalf("Chunk(1) = %q, want %q", bits.Bits(), "1010")
	}
}

func TestFileBitSourceTrimsWhitespace(t *testing.T) {
	path := writeTemp(t, "input.txt", "  11001100\n")
	src, err := NewFileBitSource(path, 1)
	if err != nil {
		t.Fatalf("NewFileBitSource: %v", err)
	}
	bits, ok, err := src.Chunk(0)
	if err != nil || !ok || bits.Bits() != "11001100" {
		t.Fatalf("Chunk(0) = %q ok=%v err=%v", bits.Bits(), ok, err)
	}
}

func TestFileBitSourceRejectsNonBinaryContent(t *testing.T) {
	path := writeTemp(t, "input.txt", "1100x100")
	src, err := NewFileBitSource(path, 1)
	if err != nil {
		t.Fatalf("NewFileBitSource: %v", err)
	}
	if _, _, err := src.Chunk(0); err == nil {
		t.Fatal("expected error for non-binary content")
	}
}

func TestLineSinkWriteAndLines(t *testing.T) {
	var buf strings.Builder
	sink := NewLineSink(&buf)
	if err := sink.Write(0, mustParse(t, "11001100")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(1, mustParse(t, "10101010")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lines := sink.Lines()
	if len(lines) != 2 {
		t.Fatalf("Lines() returned %d lines, want 2", len(lines))
	}
	if lines[0] != "0. 11001100" || lines[1] != "1. 10101010" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if buf.String() != "0. 11001100\n1. 10101010\n" {
		t.Fatalf("unexpected written content: %q", buf.String())
	}
}

func TestValidateFlagsMismatchedLines(t *testing.T) {
	inputPath := writeTemp(t, "input.txt", "1100110010101010")
	outputPath := filepath.Join(filepath.Dir(inputPath), "output.txt")

	lines := []string{"0. 11001100", "1. 11111111"} // second line is wrong
	if err := Validate(inputPath, outputPath, 8, lines); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "0. 11001100\n1. 11111111 (incorrect)\n"
	if string(got) != want {
		t.Fatalf("Validate output = %q, want %q", string(got), want)
	}
}

func TestValidateAcceptsMatchingLines(t *testing.T) {
	inputPath := writeTemp(t, "input.txt", "1100110010101010")
	outputPath := filepath.Join(filepath.Dir(inputPath), "output.txt")

	lines := []string{"0. 11001100", "1. 10101010"}
	if err := Validate(inputPath, outputPath, 8, lines); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "0. 11001100\n1. 10101010\n"
	if string(got) != want {
		t.Fatalf("Validate output = %q, want %q", string(got), want)
	}
}

func TestScanLines(t *testing.T) {
	r := strings.NewReader("0. 11001100\n1. 10101010\n")
	lines, err := ScanLines(r)
	if err != nil {
		t.Fatalf("ScanLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "0. 11001100" || lines[1] != "1. 10101010" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}
