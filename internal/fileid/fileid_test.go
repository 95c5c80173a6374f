package fileid

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestForPath(t *testing.T) {
	id1 := ForPath("/inbox/legal/nda.pdf")
	id2 := ForPath("/inbox/legal/nda.pdf")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !IsPathID(id1) {
		t.Errorf("ForPath result not recognized: %q", id1)
	}
	if id1 == ForPath("/inbox/legal/msa.pdf") {
		t.Errorf("different paths should give different IDs: %q", id1)
	}
}

func TestForPath_normalized(t *testing.T) {
	tests := []string{"/inbox/nda", "/inbox/nda/", "/inbox/./nda", "/inbox/x/../nda"}
	want := ForPath(tests[0])
	for _, p := range tests[1:] {
		if got := ForPath(p); got != want {
			t.Errorf("ForPath(%q) = %q, want %q", p, got, want)
		}
	}
}

func TestForPath_absoluteFromFilepath(t *testing.T) {
	abs, err := filepath.Abs("nda.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if ForPath(abs) == ForPath("nda.pdf") {
		t.Error("absolute and relative paths should differ")
	}
}

func TestIsPathID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{ForPath("/a.pdf"), true},
		{uuid.New().String(), false},
		{"file:abc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPathID(tt.id); got != tt.want {
			t.Errorf("IsPathID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
