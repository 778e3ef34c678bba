package payment

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func strPtr(s string) *string { return &s }

func TestClipErrorKeepsValidUTF8(t *testing.T) {
	short := "gateway timeout"
	if clipError(short) != short {
		t.Fatalf("short reasons are kept whole")
	}

	// 1999 ASCII bytes then a 2-byte rune straddling the limit.
	long := strings.Repeat("a", maxErrorLen-1) + "é" + strings.Repeat("b", 10)
	got := clipError(long)
	if !utf8.ValidString(got) {
		t.Fatalf("clipped reason is not valid UTF-8")
	}
	if len(got) != maxErrorLen-1 {
		t.Fatalf("expected cut before the split rune, got %d bytes", len(got))
	}

	exact := strings.Repeat("é", maxErrorLen)
	if got := clipError(exact); len(got) != maxErrorLen || !utf8.ValidString(got) {
		t.Fatalf("expected %d valid bytes, got %d", maxErrorLen, len(got))
	}
}
