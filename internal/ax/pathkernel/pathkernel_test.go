package pathkernel_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/axrun/ax/internal/ax/pathkernel"
)

func TestConstrain_SimpleSegment(t *testing.T) {
	base := t.TempDir()
	got, err := pathkernel.Constrain(base, "notes.md")
	if err != nil {
		t.Fatalf("Constrain: %v", err)
	}
	want := filepath.Join(base, "notes.md")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConstrain_TraversalNeutralized(t *testing.T) {
	base := t.TempDir()
	got, err := pathkernel.Constrain(base, "..", "..", "etc", "passwd")
	if err != nil {
		t.Fatalf("Constrain: %v", err)
	}
	if !strings.HasPrefix(got, base+string(filepath.Separator)) && got != base {
		t.Errorf("result %q escaped base %q", got, base)
	}
}

func TestConstrain_NullByteAndColon(t *testing.T) {
	base := t.TempDir()
	got, err := pathkernel.Constrain(base, "weird:name\x00here")
	if err != nil {
		t.Fatalf("Constrain: %v", err)
	}
	if strings.ContainsAny(got, ":\x00") {
		t.Errorf("sanitized path still contains forbidden characters: %q", got)
	}
}

func TestConstrain_EmptySegmentPlaceholder(t *testing.T) {
	base := t.TempDir()
	got, err := pathkernel.Constrain(base, "   ", "real.txt")
	if err != nil {
		t.Fatalf("Constrain: %v", err)
	}
	if want := filepath.Join(base, "_", "real.txt"); got != want {
		t.Errorf("expected placeholder segment: got %q, want %q", got, want)
	}
}

func TestConstrain_Truncates(t *testing.T) {
	base := t.TempDir()
	long := strings.Repeat("a", 1024)
	got, err := pathkernel.Constrain(base, long)
	if err != nil {
		t.Fatalf("Constrain: %v", err)
	}
	name := filepath.Base(got)
	if len(name) > 255 {
		t.Errorf("segment not truncated: %d bytes", len(name))
	}
}

func TestConstrain_Idempotent(t *testing.T) {
	base := t.TempDir()
	first, err := pathkernel.Constrain(base, "a", "b", "c.txt")
	if err != nil {
		t.Fatalf("Constrain: %v", err)
	}
	rel, err := filepath.Rel(base, first)
	if err != nil {
		t.Fatalf("Rel: %v", err)
	}
	second, err := pathkernel.Constrain(base, strings.Split(rel, string(filepath.Separator))...)
	if err != nil {
		t.Fatalf("Constrain second: %v", err)
	}
	// Re-constraining from the already-sanitized relative path must resolve
	// to the same path (idempotent under repeated constraint).
	if second != first {
		t.Errorf("re-construction changed the path: got %q, want %q", second, first)
	}
}

func TestAssertWithin_Inside(t *testing.T) {
	base := t.TempDir()
	candidate := filepath.Join(base, "sub", "file.txt")
	got, err := pathkernel.AssertWithin(base, candidate)
	if err != nil {
		t.Fatalf("AssertWithin: %v", err)
	}
	if got != filepath.Clean(candidate) {
		t.Errorf("got %q, want %q", got, candidate)
	}
}

func TestAssertWithin_Outside(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(os.TempDir(), "somewhere-else", "file.txt")
	if _, err := pathkernel.AssertWithin(base, outside); err == nil {
		t.Fatal("expected PathEscape error")
	} else {
		var pe *pathkernel.PathEscape
		if !asPathEscape(err, &pe) {
			t.Errorf("expected *PathEscape, got %T: %v", err, err)
		}
	}
}

func TestAssertWithin_EqualsBase(t *testing.T) {
	base := t.TempDir()
	got, err := pathkernel.AssertWithin(base, base)
	if err != nil {
		t.Fatalf("AssertWithin: %v", err)
	}
	if got != filepath.Clean(base) {
		t.Errorf("got %q, want %q", got, base)
	}
}

func asPathEscape(err error, target **pathkernel.PathEscape) bool {
	if pe, ok := err.(*pathkernel.PathEscape); ok {
		*target = pe
		return true
	}
	return false
}

func TestConstrain_BoundarySegmentLengths(t *testing.T) {
	base := t.TempDir()
	for _, n := range []int{0, 1, 255, 256, 1024} {
		seg := strings.Repeat("x", n)
		if n == 0 {
			seg = ""
		}
		got, err := pathkernel.Constrain(base, seg)
		if err != nil {
			t.Fatalf("Constrain(n=%d): %v", n, err)
		}
		if !strings.HasPrefix(got, base) {
			t.Errorf("Constrain(n=%d) escaped base: %q", n, got)
		}
	}
}
