// Package archive reads and writes the gzipped POSIX tar packages nah
// installs (.nap and .nak). Writes are deterministic: sorted names,
// numeric owner zero, epoch mtime, fixed gzip level. Extraction rejects
// every entry type that could escape or alias the target directory.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fsutil"
)

// epoch is the fixed mtime stamped on every archive entry.
var epoch = time.Unix(0, 0)

// Pack writes the tree rooted at srcDir as a deterministic .nap/.nak
// archive at outPath. Symlinks and non-regular files in the tree are an
// error.
func Pack(srcDir, outPath string) error {
	entries, err := collectEntries(srcDir)
	if err != nil {
		return err
	}

	tmp := outPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fault.Wrap(fault.KindIOError, err, "creating %s", tmp)
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	gz, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		if err := writeEntry(tw, srcDir, e); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fault.Wrap(fault.KindIOError, err, "finalizing tar stream")
	}
	if err := gz.Close(); err != nil {
		return fault.Wrap(fault.KindIOError, err, "finalizing gzip stream")
	}
	if err := f.Close(); err != nil {
		return fault.Wrap(fault.KindIOError, err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return fault.Wrap(fault.KindIOError, err, "renaming archive into place")
	}
	return nil
}

type packEntry struct {
	rel   string
	isDir bool
	exec  bool
	size  int64
}

// collectEntries walks srcDir and returns directories and regular files
// sorted by relative path.
func collectEntries(srcDir string) ([]packEntry, error) {
	var entries []packEntry
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			return fault.New(fault.KindArchiveUnsafe, "symlink in package tree: %s", rel)
		case info.IsDir():
			entries = append(entries, packEntry{rel: rel, isDir: true})
		case info.Mode().IsRegular():
			entries = append(entries, packEntry{
				rel:  rel,
				exec: info.Mode()&0100 != 0,
				size: info.Size(),
			})
		default:
			return fault.New(fault.KindArchiveUnsafe, "non-regular file in package tree: %s", rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func writeEntry(tw *tar.Writer, srcDir string, e packEntry) error {
	hdr := &tar.Header{
		Name:    e.rel,
		Uid:     0,
		Gid:     0,
		ModTime: epoch,
		Format:  tar.FormatUSTAR,
	}
	if e.isDir {
		hdr.Name += "/"
		hdr.Typeflag = tar.TypeDir
		hdr.Mode = 0755
		return tw.WriteHeader(hdr)
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = e.size
	if e.exec {
		hdr.Mode = 0755
	} else {
		hdr.Mode = 0644
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fault.Wrap(fault.KindIOError, err, "writing header for %s", e.rel)
	}

	f, err := os.Open(filepath.Join(srcDir, filepath.FromSlash(e.rel)))
	if err != nil {
		return fault.Wrap(fault.KindIOError, err, "opening %s", e.rel)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fault.Wrap(fault.KindIOError, err, "writing %s", e.rel)
	}
	return nil
}

// Extract unpacks the archive at srcPath into destDir. Entries that are
// links or devices, or whose path would leave destDir, fail with
// archive_unsafe. The context is checked between entries so a cancelled
// extraction stops promptly; the caller owns destDir cleanup.
func Extract(ctx context.Context, srcPath, destDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fault.Wrap(fault.KindIOError, err, "opening archive %s", srcPath)
	}
	defer f.Close()
	return ExtractReader(ctx, f, destDir)
}

// ExtractReader unpacks a gzipped tar stream into destDir.
func ExtractReader(ctx context.Context, r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fault.Wrap(fault.KindInvalidReference, err, "archive is not gzip")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return fault.Wrap(fault.KindIOError, err, "extraction cancelled")
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fault.Wrap(fault.KindIOError, err, "reading tar header")
		}
		if err := extractEntry(tr, hdr, destDir); err != nil {
			return err
		}
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, destDir string) error {
	clean := strings.TrimPrefix(hdr.Name, "./")
	if clean == "" || clean == "/" {
		return nil
	}

	target := filepath.Join(destDir, filepath.FromSlash(clean))
	if !fsutil.IsWithinDir(target, destDir) {
		return fault.New(fault.KindArchiveUnsafe, "entry escapes destination: %s", hdr.Name)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			return fault.Wrap(fault.KindIOError, err, "creating directory %s", clean)
		}
		return nil
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fault.Wrap(fault.KindIOError, err, "creating parent of %s", clean)
		}
		perm := os.FileMode(0644)
		if hdr.FileInfo().Mode()&0100 != 0 {
			perm = 0755
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
		if err != nil {
			return fault.Wrap(fault.KindIOError, err, "creating %s", clean)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fault.Wrap(fault.KindIOError, err, "writing %s", clean)
		}
		return out.Close()
	case tar.TypeSymlink, tar.TypeLink:
		return fault.New(fault.KindArchiveUnsafe, "link entry in archive: %s", hdr.Name)
	default:
		return fault.New(fault.KindArchiveUnsafe, "unsupported entry type %q: %s", hdr.Typeflag, hdr.Name)
	}
}
