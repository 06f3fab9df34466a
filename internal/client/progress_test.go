package client

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressBar_ReusedAcrossTransfers(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf)

	bar.Begin("first.txt.gz", 2048)
	bar.Advance(1024)
	bar.Advance(1024)
	bar.Finish()

	bar.Begin("second.txt", -1)
	bar.Advance(10)
	bar.Finish()

	out := buf.String()
	if !strings.Contains(out, "first.txt.gz [") || !strings.Contains(out, "2KiB/2KiB") {
		t.Errorf("missing sized progress line in %q", out)
	}
	if !strings.Contains(out, "second.txt 10B") {
		t.Errorf("missing unsized progress line in %q", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("expected one newline per finished transfer, got %q", out)
	}
}
