package measure

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTo(t *testing.T) {
	var buf bytes.Buffer
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	done := to(&buf, "assembling nand", now)
	if got, want := buf.String(), "[assembling nand]"; got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}
	clock = clock.Add(1500 * time.Millisecond)
	done(", 64 MiB")
	want := "[assembling nand]\r[done] in 1.50s, 64 MiB" + strings.Repeat(" ", len("[assembling nand]")) + "\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
