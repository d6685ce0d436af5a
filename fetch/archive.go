package fetch

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"pixi.build/dispatcher/errs"
)

// archiveFormat is one of the supported URL-source archive shapes (§6).
type archiveFormat int

const (
	formatTarPlain archiveFormat = iota
	formatTarGzip
	formatTarBzip2
	formatTarXz
	formatTarZstd
	formatZip
	format7z
)

// detectArchiveFormat maps a filename's extension to a supported archive
// format, or reports UnsupportedArchive.
func detectArchiveFormat(name string) (archiveFormat, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".taz"):
		return formatTarGzip, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tz2"):
		return formatTarBzip2, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"), strings.HasSuffix(lower, ".tar.lzma"), strings.HasSuffix(lower, ".tlz"):
		return formatTarXz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return formatTarZstd, nil
	case strings.HasSuffix(lower, ".tar"):
		return formatTarPlain, nil
	case strings.HasSuffix(lower, ".zip"):
		return formatZip, nil
	case strings.HasSuffix(lower, ".7z"):
		return format7z, nil
	default:
		return 0, errs.New(errs.SourceCheckout, "UnsupportedArchive(%s)", name)
	}
}

// extractArchive extracts archivePath (whose format was detected from
// filename) into destDir, which must already exist and be empty.
func extractArchive(archivePath, destDir string) error {
	format, err := detectArchiveFormat(archivePath)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return errs.Wrap(errs.SourceCheckout, err, "opening archive %s", archivePath)
	}
	defer f.Close()

	switch format {
	case formatZip, format7z:
		return extractRandomAccess(archivePath, format, destDir)
	default:
		return extractTar(f, format, destDir)
	}
}

func extractTar(f *os.File, format archiveFormat, destDir string) error {
	var r io.Reader = f
	switch format {
	case formatTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "opening gzip stream")
		}
		defer gz.Close()
		r = gz
	case formatTarBzip2:
		r = bzip2.NewReader(f)
	case formatTarXz:
		// .tar.lzma/.tlz hold a raw LZMA stream rather than an xz container.
		br := bufio.NewReader(f)
		if magic, _ := br.Peek(6); bytes.Equal(magic, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}) {
			xzr, err := xz.NewReader(br)
			if err != nil {
				return errs.Wrap(errs.SourceCheckout, err, "opening xz stream")
			}
			r = xzr
		} else {
			lr, err := lzma.NewReader(br)
			if err != nil {
				return errs.Wrap(errs.SourceCheckout, err, "opening lzma stream")
			}
			r = lr
		}
	case formatTarZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "opening zstd stream")
		}
		defer zr.Close()
		r = zr
	case formatTarPlain:
		// r is already f.
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "reading tar stream")
		}
		if err := writeTarEntry(destDir, hdr, tr); err != nil {
			return err
		}
	}
}

func writeTarEntry(destDir string, hdr *tar.Header, r io.Reader) error {
	target, err := safeJoin(destDir, hdr.Name)
	if err != nil {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
		if err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "creating %s", target)
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "writing %s", target)
		}
		return nil
	case tar.TypeSymlink:
		return os.Symlink(hdr.Linkname, target)
	default:
		return nil
	}
}

func extractRandomAccess(archivePath string, format archiveFormat, destDir string) error {
	switch format {
	case formatZip:
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "opening zip %s", archivePath)
		}
		defer zr.Close()
		for _, file := range zr.File {
			if err := extractZipEntry(destDir, file); err != nil {
				return err
			}
		}
		return nil
	case format7z:
		zr, err := sevenzip.OpenReader(archivePath)
		if err != nil {
			return errs.Wrap(errs.SourceCheckout, err, "opening 7z %s", archivePath)
		}
		defer zr.Close()
		for _, file := range zr.File {
			if err := extract7zEntry(destDir, file); err != nil {
				return err
			}
		}
		return nil
	default:
		return errs.New(errs.SourceCheckout, "unreachable archive format")
	}
}

func extractZipEntry(destDir string, file *zip.File) error {
	target, err := safeJoin(destDir, file.Name)
	if err != nil {
		return err
	}
	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return errs.Wrap(errs.SourceCheckout, err, "opening zip entry %s", file.Name)
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, file.Mode()|0o200)
	if err != nil {
		return errs.Wrap(errs.SourceCheckout, err, "creating %s", target)
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func extract7zEntry(destDir string, file *sevenzip.File) error {
	target, err := safeJoin(destDir, file.Name)
	if err != nil {
		return err
	}
	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return errs.Wrap(errs.SourceCheckout, err, "opening 7z entry %s", file.Name)
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.SourceCheckout, err, "creating %s", target)
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

// safeJoin joins destDir with an archive-relative entry name, rejecting
// entries that would escape destDir via ".." traversal.
func safeJoin(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(destDir, name))
	if cleaned != destDir && !strings.HasPrefix(cleaned, destDir+string(filepath.Separator)) {
		return "", errs.New(errs.SourceCheckout, "archive entry %q escapes destination", name)
	}
	return cleaned, nil
}

// hoistSingleTopLevelDir moves the contents of the archive's single
// top-level directory up to destDir, so the result directory root is the
// package root. It is a no-op (leaving destDir unhoisted) if the archive
// did not contain exactly one top-level directory.
func hoistSingleTopLevelDir(destDir string) error {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	top := filepath.Join(destDir, entries[0].Name())
	inner, err := os.ReadDir(top)
	if err != nil {
		return err
	}
	for _, e := range inner {
		if err := os.Rename(filepath.Join(top, e.Name()), filepath.Join(destDir, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(top)
}
