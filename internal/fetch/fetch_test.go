package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/hashio"
)

func TestParseReference(t *testing.T) {
	digest := hashio.SumBytes([]byte("payload"))

	tests := []struct {
		name     string
		in       string
		want     Reference
		wantKind fault.Kind
	}{
		{
			name: "installed id",
			in:   "com.example.app",
			want: Reference{Scheme: SchemeInstalled, ID: "com.example.app"},
		},
		{
			name: "installed id with version",
			in:   "com.example.app@1.2.3",
			want: Reference{Scheme: SchemeInstalled, ID: "com.example.app", Version: "1.2.3"},
		},
		{
			name: "file path",
			in:   "file:/tmp/app.nap",
			want: Reference{Scheme: SchemeFile, Path: "/tmp/app.nap"},
		},
		{
			name: "file relative",
			in:   "file:./app.nap",
			want: Reference{Scheme: SchemeFile, Path: "./app.nap"},
		},
		{
			name: "https with digest",
			in:   "https://pkgs.example.com/app.nap#sha256=" + digest,
			want: Reference{Scheme: SchemeHTTPS, URL: "https://pkgs.example.com/app.nap", Digest: digest},
		},
		{name: "https without digest", in: "https://pkgs.example.com/app.nap", wantKind: fault.KindInvalidReference},
		{name: "https short digest", in: "https://x.example.com/a#sha256=abcd", wantKind: fault.KindInvalidReference},
		{name: "http rejected", in: "http://pkgs.example.com/app.nap#sha256=" + digest, wantKind: fault.KindInsecureScheme},
		{name: "unknown scheme", in: "ftp://pkgs.example.com/app.nap", wantKind: fault.KindInvalidReference},
		{name: "bad id", in: "not-reverse-dns", wantKind: fault.KindInvalidReference},
		{name: "bad version", in: "com.example.app@banana", wantKind: fault.KindInvalidReference},
		{name: "empty file path", in: "file:", wantKind: fault.KindInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantKind != "" {
				if fault.KindOf(err) != tt.wantKind {
					t.Errorf("Parse(%q) error = %v, want kind %s", tt.in, err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if *got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, *got, tt.want)
			}
		})
	}
}

func TestReferenceString(t *testing.T) {
	for _, in := range []string{
		"com.example.app",
		"com.example.app@1.2.3",
		"file:/tmp/app.nap",
	} {
		ref, err := Parse(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := ref.String(); got != in {
			t.Errorf("String() = %q, want %q", got, in)
		}
	}
}

func TestFetchFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "pkg.nap")
	payload := []byte("package bytes")
	if err := os.WriteFile(src, payload, 0644); err != nil {
		t.Fatal(err)
	}
	want := hashio.SumBytes(payload)

	f := New(nil, nil)
	dest := filepath.Join(t.TempDir(), "out.nap")
	got, err := f.Fetch(context.Background(), &Reference{Scheme: SchemeFile, Path: src}, dest, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("dest missing: %v", err)
	}
}

func TestFetchFileDigestMismatch(t *testing.T) {
	src := filepath.Join(t.TempDir(), "pkg.nap")
	if err := os.WriteFile(src, []byte("real"), 0644); err != nil {
		t.Fatal(err)
	}
	wrong := hashio.SumBytes([]byte("other"))

	f := New(nil, nil)
	dest := filepath.Join(t.TempDir(), "out.nap")
	_, err := f.Fetch(context.Background(), &Reference{Scheme: SchemeFile, Path: src}, dest, wrong)
	if fault.KindOf(err) != fault.KindHashMismatch {
		t.Fatalf("error = %v, want hash_mismatch", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("dest should be removed on mismatch")
	}
}

func TestFetchHTTPS(t *testing.T) {
	payload := []byte("remote package")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := New(srv.Client(), nil)
	dest := filepath.Join(t.TempDir(), "out.nap")
	digest := hashio.SumBytes(payload)

	got, err := f.Fetch(context.Background(), &Reference{Scheme: SchemeHTTPS, URL: srv.URL, Digest: digest}, dest, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got != digest {
		t.Errorf("digest = %s, want %s", got, digest)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(payload) {
		t.Error("downloaded bytes differ")
	}
}

func TestFetchHTTPSDigestMismatch(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	f := New(srv.Client(), nil)
	dest := filepath.Join(t.TempDir(), "out.nap")
	expected := hashio.SumBytes([]byte("original"))

	_, err := f.Fetch(context.Background(), &Reference{Scheme: SchemeHTTPS, URL: srv.URL, Digest: expected}, dest, "")
	if fault.KindOf(err) != fault.KindHashMismatch {
		t.Errorf("error = %v, want hash_mismatch", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("dest should be removed on mismatch")
	}
}

func TestFetchHTTPSRequiresDigest(t *testing.T) {
	f := New(nil, nil)
	_, err := f.Fetch(context.Background(), &Reference{Scheme: SchemeHTTPS, URL: "https://example.com/x"}, filepath.Join(t.TempDir(), "x"), "")
	if fault.KindOf(err) != fault.KindInvalidReference {
		t.Errorf("error = %v, want invalid_reference", err)
	}
}

func TestFetchHTTPSServerError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(srv.Client(), nil)
	digest := hashio.SumBytes([]byte("x"))
	_, err := f.Fetch(context.Background(), &Reference{Scheme: SchemeHTTPS, URL: srv.URL, Digest: digest}, filepath.Join(t.TempDir(), "x"), "")
	if fault.KindOf(err) != fault.KindIOError {
		t.Errorf("error = %v, want io_error", err)
	}
}
