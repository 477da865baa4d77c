package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Narrator", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Narrator:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Narrator", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := map[float64]string{
		0:      "0:00",
		-3:     "0:00",
		59.6:   "1:00",
		125:    "2:05",
		3725.2: "1:02:05",
	}
	for in, want := range tests {
		if got := formatSeconds(in); got != want {
			t.Errorf("formatSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderTablePadsRowsAndFooter(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}}, nil, []string{"total", "9", "extra"})
	for _, want := range []string{"A", "1", "TOTAL", "9"} {
		if !strings.Contains(strings.ToUpper(out), want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "extra") {
		t.Fatalf("footer overflow rendered:\n%s", out)
	}
	if renderTable(nil, nil, nil, nil) != "" {
		t.Fatal("expected empty render without headers")
	}
}

func TestReadStoryText(t *testing.T) {
	if got, err := readStoryText(strings.NewReader("from stdin"), "", "-"); err != nil || got != "from stdin" {
		t.Fatalf("stdin = %q, %v", got, err)
	}
	if got, _ := readStoryText(nil, "inline", ""); got != "inline" {
		t.Fatalf("inline = %q", got)
	}
	if _, err := readStoryText(nil, "  ", ""); err == nil {
		t.Fatal("expected error for blank text")
	}
}
