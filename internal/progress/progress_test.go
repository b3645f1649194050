package progress

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReaderPassesDataThrough(t *testing.T) {
	src := strings.NewReader("hello world")
	var display bytes.Buffer

	pr := NewReader(src, int64(len("hello world")), &display)
	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("data = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512B"},
		{2048, "2.0KB"},
		{5 * 1024 * 1024, "5.0MB"},
		{3 * 1024 * 1024 * 1024, "3.0GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShouldShowHonorsOverride(t *testing.T) {
	t.Setenv("NAH_NO_PROGRESS", "1")
	if ShouldShow() {
		t.Error("ShouldShow() = true with NAH_NO_PROGRESS set")
	}
}

func TestShouldShowNonTerminal(t *testing.T) {
	orig := IsTerminalFunc
	defer func() { IsTerminalFunc = orig }()
	IsTerminalFunc = func(int) bool { return false }
	if ShouldShow() {
		t.Error("ShouldShow() = true for non-terminal")
	}
}
