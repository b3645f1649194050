package hashio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// SHA-256 of the empty input and of "abc" are fixed by the standard.
const (
	emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	abcDigest   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func TestSumBytes(t *testing.T) {
	if got := SumBytes(nil); got != emptyDigest {
		t.Errorf("SumBytes(nil) = %s, want %s", got, emptyDigest)
	}
	if got := SumBytes([]byte("abc")); got != abcDigest {
		t.Errorf("SumBytes(abc) = %s, want %s", got, abcDigest)
	}
}

func TestSumReaderMatchesSumBytes(t *testing.T) {
	// Larger than the streaming buffer so more than one read happens.
	data := bytes.Repeat([]byte("nah"), 10000)
	got, err := SumReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("SumReader() error = %v", err)
	}
	if want := SumBytes(data); got != want {
		t.Errorf("SumReader = %s, want %s", got, want)
	}
}

func TestSumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := SumFile(path)
	if err != nil {
		t.Fatalf("SumFile() error = %v", err)
	}
	if got != abcDigest {
		t.Errorf("SumFile = %s, want %s", got, abcDigest)
	}

	if _, err := SumFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("SumFile(missing) should fail")
	}
}

func TestValidDigest(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{abcDigest, true},
		{strings.ToUpper(abcDigest), false},
		{abcDigest[:63], false},
		{abcDigest + "0", false},
		{"", false},
		{strings.Repeat("g", 64), false},
	}
	for _, tt := range tests {
		if got := ValidDigest(tt.in); got != tt.want {
			t.Errorf("ValidDigest(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
