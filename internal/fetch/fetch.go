// Package fetch retrieves package artifacts by reference and verifies
// their content digest before they are admitted to the registry. Only
// the file and https schemes reach the network or disk here; installed
// references are the registry's business.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fsutil"
	"github.com/nah-dev/nah/internal/hashio"
	"github.com/nah-dev/nah/internal/log"
)

// ClientOptions configures the HTTPS client used for artifact fetches.
type ClientOptions struct {
	// ConnectTimeout is the TCP dial timeout. Default: 30s.
	ConnectTimeout time.Duration

	// TotalTimeout bounds the whole request. Default: 300s.
	TotalTimeout time.Duration

	// MaxRedirects is the maximum redirect depth. Default: 10.
	MaxRedirects int
}

// DefaultClientOptions returns the standard artifact fetch timeouts.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout: 30 * time.Second,
		TotalTimeout:   300 * time.Second,
		MaxRedirects:   10,
	}
}

// NewClient builds an HTTP client with TLS verification on, compression
// disabled, and https-only redirects capped at the configured depth.
func NewClient(opts ClientOptions) *http.Client {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.TotalTimeout == 0 {
		opts.TotalTimeout = 300 * time.Second
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 10
	}
	return &http.Client{
		Timeout: opts.TotalTimeout,
		Transport: &http.Transport{
			DisableCompression: true,
			DialContext: (&net.Dialer{
				Timeout:   opts.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to non-https url is not allowed: %s", req.URL)
			}
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// Fetcher retrieves artifacts. The HTTP client is an explicitly owned
// handle; nothing here is initialized at package load.
type Fetcher struct {
	client *http.Client
	logger *log.Logger

	// WrapBody, when set, wraps the response body reader; the CLI uses
	// it to attach a progress display.
	WrapBody func(r io.Reader, total int64) io.Reader
}

// New creates a Fetcher with the given client. A nil client gets the
// defaults.
func New(client *http.Client, logger *log.Logger) *Fetcher {
	if client == nil {
		client = NewClient(DefaultClientOptions())
	}
	if logger == nil {
		logger = log.Noop()
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch materializes the artifact behind ref at destPath and returns
// its sha256. For https the digest in the reference is mandatory and
// verified; for file references a non-empty expectDigest is verified.
// On mismatch destPath is removed and hash_mismatch returned.
func (f *Fetcher) Fetch(ctx context.Context, ref *Reference, destPath, expectDigest string) (string, error) {
	switch ref.Scheme {
	case SchemeFile:
		return f.fetchFile(ref.Path, destPath, expectDigest)
	case SchemeHTTPS:
		want := ref.Digest
		if expectDigest != "" {
			want = expectDigest
		}
		return f.fetchHTTPS(ctx, ref.URL, destPath, want)
	default:
		return "", fault.New(fault.KindInvalidReference, "reference %s is not fetchable", ref)
	}
}

func (f *Fetcher) fetchFile(srcPath, destPath, expectDigest string) (string, error) {
	f.logger.Debug("fetching local artifact", "path", srcPath)
	if err := fsutil.CopyFile(srcPath, destPath); err != nil {
		return "", fault.Wrap(fault.KindIOError, err, "reading %s", srcPath)
	}
	digest, err := hashio.SumFile(destPath)
	if err != nil {
		return "", fault.Wrap(fault.KindIOError, err, "hashing %s", destPath)
	}
	if expectDigest != "" && digest != expectDigest {
		os.Remove(destPath)
		return "", fault.New(fault.KindHashMismatch, "artifact %s", srcPath).
			WithDetail("expected", expectDigest).
			WithDetail("actual", digest)
	}
	return digest, nil
}

func (f *Fetcher) fetchHTTPS(ctx context.Context, rawURL, destPath, expectDigest string) (string, error) {
	if expectDigest == "" {
		return "", fault.New(fault.KindInvalidReference, "https fetch requires a sha256 digest: %s", rawURL)
	}
	f.logger.Debug("fetching remote artifact", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidReference, err, "building request for %s", rawURL)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.KindIOError, err, "fetching %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fault.New(fault.KindIOError, "fetching %s: status %s", rawURL, resp.Status)
	}

	body := io.Reader(resp.Body)
	if f.WrapBody != nil {
		body = f.WrapBody(body, resp.ContentLength)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return "", fault.Wrap(fault.KindIOError, err, "creating %s", destPath)
	}
	digest, err := hashio.SumReader(io.TeeReader(body, out))
	closeErr := out.Close()
	if err != nil {
		os.Remove(destPath)
		return "", fault.Wrap(fault.KindIOError, err, "downloading %s", rawURL)
	}
	if closeErr != nil {
		os.Remove(destPath)
		return "", fault.Wrap(fault.KindIOError, closeErr, "closing %s", destPath)
	}

	if digest != expectDigest {
		os.Remove(destPath)
		return "", fault.New(fault.KindHashMismatch, "artifact %s", rawURL).
			WithDetail("expected", expectDigest).
			WithDetail("actual", digest)
	}
	f.logger.Debug("digest verified", "sha256", digest)
	return digest, nil
}
