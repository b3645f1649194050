package fetch

import (
	"net/url"
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/hashio"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/nakver"
)

// Scheme classifies a package reference.
type Scheme string

const (
	// SchemeInstalled references a package already in the registry by
	// id and optional version.
	SchemeInstalled Scheme = "installed"
	// SchemeFile references a local archive or directory path.
	SchemeFile Scheme = "file"
	// SchemeHTTPS references a remote archive with a mandatory digest.
	SchemeHTTPS Scheme = "https"
)

// Reference is a parsed package reference.
type Reference struct {
	Scheme Scheme

	// Installed form.
	ID      string
	Version string // empty means latest

	// File form.
	Path string

	// HTTPS form: the URL without its digest fragment.
	URL string

	// Digest is the declared sha256. Mandatory for HTTPS; optional for
	// file references (supplied out of band).
	Digest string
}

// Parse parses the reference grammar:
//
//	<id>[@<version>]                    installed
//	file:<path>                         local path
//	https://host/path#sha256=<64-hex>   remote with digest
func Parse(s string) (*Reference, error) {
	switch {
	case strings.HasPrefix(s, "file:"):
		path := strings.TrimPrefix(s, "file:")
		if path == "" {
			return nil, fault.New(fault.KindInvalidReference, "file reference has no path")
		}
		return &Reference{Scheme: SchemeFile, Path: path}, nil

	case strings.HasPrefix(s, "https://"):
		u, err := url.Parse(s)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidReference, err, "parsing %s", s)
		}
		digest, ok := strings.CutPrefix(u.Fragment, "sha256=")
		if !ok || digest == "" {
			return nil, fault.New(fault.KindInvalidReference, "https reference missing #sha256= digest")
		}
		if !hashio.ValidDigest(digest) {
			return nil, fault.New(fault.KindInvalidReference, "malformed sha256 digest %q", digest)
		}
		u.Fragment = ""
		return &Reference{Scheme: SchemeHTTPS, URL: u.String(), Digest: digest}, nil

	case strings.HasPrefix(s, "http://"):
		return nil, fault.New(fault.KindInsecureScheme, "http is not allowed, use https: %s", s)

	case strings.Contains(s, "://"):
		return nil, fault.New(fault.KindInvalidReference, "unknown scheme in %s", s)

	default:
		id, version, found := strings.Cut(s, "@")
		if err := manifest.ValidateID(id); err != nil {
			return nil, fault.Wrap(fault.KindInvalidReference, err, "not a package id: %s", s)
		}
		if found {
			if _, err := nakver.Parse(version); err != nil {
				return nil, fault.Wrap(fault.KindInvalidReference, err, "in reference %s", s)
			}
		}
		return &Reference{Scheme: SchemeInstalled, ID: id, Version: version}, nil
	}
}

// String renders the reference back to its grammar form.
func (r *Reference) String() string {
	switch r.Scheme {
	case SchemeFile:
		return "file:" + r.Path
	case SchemeHTTPS:
		if r.Digest != "" {
			return r.URL + "#sha256=" + r.Digest
		}
		return r.URL
	default:
		if r.Version != "" {
			return r.ID + "@" + r.Version
		}
		return r.ID
	}
}
