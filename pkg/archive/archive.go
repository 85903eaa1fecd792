// Package archive streams zip and tar.gz bundles of sandbox entries.
//
// Zip compression is adaptive: when the combined input size reaches the
// configured threshold the archive switches to store mode, trading size for
// throughput on large downloads. Tarballs are always gzip-compressed.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/storage/local"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// Format selects the archive container.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

// ParseFormat maps a request parameter to a Format. Empty selects zip.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "zip":
		return FormatZip, nil
	case "tar.gz", "targz", "tgz":
		return FormatTarGz, nil
	default:
		return "", fmt.Errorf("unsupported archive format %q", s)
	}
}

// Ext returns the filename extension for the format, without a leading dot.
func (f Format) Ext() string {
	if f == FormatTarGz {
		return "tar.gz"
	}
	return "zip"
}

// Streamer builds archives from entries of one sandbox.
type Streamer struct {
	adapter    *local.Adapter
	largeBytes int64 // zip switches to store mode at this combined size
}

// NewStreamer creates a streamer over the given adapter. largeBytes is the
// combined input size at which zip compression is turned off.
func NewStreamer(adapter *local.Adapter, largeBytes int64) *Streamer {
	return &Streamer{adapter: adapter, largeBytes: largeBytes}
}

type item struct {
	host string
	name string // archive-root name of this entry
}

// Stream writes an archive of the given virtual paths to w. Directories
// recurse; symlinks are skipped. Entries are rooted at their leaf name.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, format Format, virtuals []string) error {
	if len(virtuals) == 0 {
		return vpath.ErrInvalidPath
	}

	items := make([]item, 0, len(virtuals))
	for _, virtual := range virtuals {
		res, err := s.adapter.Resolve(virtual)
		if err != nil {
			return err
		}
		name := path.Base(res.Normalized)
		if res.Normalized == "/" {
			name = "files"
		}
		items = append(items, item{host: res.HostPath, name: name})
	}

	switch format {
	case FormatTarGz:
		return s.streamTarGz(ctx, w, items)
	default:
		return s.streamZip(ctx, w, items)
	}
}

func (s *Streamer) streamZip(ctx context.Context, w io.Writer, items []item) error {
	method := uint16(zip.Deflate)
	hosts := make([]string, len(items))
	for i, it := range items {
		hosts[i] = it.host
	}
	total, hit, err := s.adapter.SizeProbe(ctx, hosts, s.largeBytes)
	if err != nil {
		return err
	}
	if hit {
		logger.Debug("zip switching to store mode", "probed_bytes", total, "threshold", s.largeBytes)
		method = zip.Store
	}

	zw := zip.NewWriter(w)
	for _, it := range items {
		err := walkItem(ctx, it, func(arcPath string, info fs.FileInfo, hostPath string) error {
			header, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			header.Method = method
			if info.IsDir() {
				header.Name = arcPath + "/"
				_, err := zw.CreateHeader(header)
				return err
			}
			header.Name = arcPath
			dst, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			return copyInto(dst, hostPath)
		})
		if err != nil {
			return err
		}
	}
	return zw.Close()
}

func (s *Streamer) streamTarGz(ctx context.Context, w io.Writer, items []item) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, it := range items {
		err := walkItem(ctx, it, func(arcPath string, info fs.FileInfo, hostPath string) error {
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = arcPath
			if info.IsDir() {
				header.Name += "/"
			}
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			return copyInto(tw, hostPath)
		})
		if err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// walkItem visits the item and, for directories, everything under it.
// Symlinks are skipped entirely.
func walkItem(ctx context.Context, it item, fn func(arcPath string, info fs.FileInfo, hostPath string) error) error {
	return filepath.WalkDir(it.host, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(it.host, p)
		if err != nil {
			return err
		}
		arcPath := it.name
		if rel != "." {
			arcPath = path.Join(it.name, filepath.ToSlash(rel))
		}
		info, err := d.Info()
		if err != nil {
			return nil // entry vanished mid-walk
		}
		return fn(arcPath, info, p)
	})
}

func copyInto(dst io.Writer, hostPath string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

// Filename derives the download filename: the leaf name for a single entry,
// otherwise a timestamped bundle name.
func Filename(virtuals []string, format Format) string {
	if len(virtuals) == 1 {
		if normalized, err := vpath.Normalize(virtuals[0]); err == nil && normalized != "/" {
			return path.Base(normalized) + "." + format.Ext()
		}
	}
	return fmt.Sprintf("bundle-%s.%s", time.Now().UTC().Format("20060102-150405"), format.Ext())
}

// ContentDisposition renders an attachment header carrying both the ASCII
// fallback filename and the RFC 5987 encoded form.
func ContentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s",
		asciiFallback(filename), escapeRFC5987(filename))
}

func asciiFallback(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		}
	}
	return b.String()
}
