// Package download fetches dataset archives and pretrained weights into a
// local cache, with a progress bar and optional SHA-256 verification.
package download

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ShowProgress controls whether downloads render a progress bar on stderr.
var ShowProgress = true

// CacheDir returns the default cache directory, ~/.cache/born-transfer.
func CacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "born-transfer")
}

// copyBytesBar copies bytes to an io.Writer while advancing a progress bar.
type copyBytesBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newCopyBytesBar(w io.Writer, contentLength int64, description string) *copyBytesBar {
	return &copyBytesBar{
		w: w,
		bar: progressbar.NewOptions64(contentLength,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(os.Stderr, "\n") }),
		),
	}
}

// Write implements io.Writer, while updating the progress bar.
func (b *copyBytesBar) Write(p []byte) (n int, err error) {
	n, err = b.w.Write(p)
	_ = b.bar.Add(n)
	return
}

// File downloads url into filePath, creating parent directories. The file is
// written under a temporary name and renamed once complete.
func File(ctx context.Context, url, filePath string) (size int64, err error) {
	if err = os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for %q", filePath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "bad url %q", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}

	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	var dst io.Writer = file
	if ShowProgress && resp.ContentLength > 0 {
		dst = newCopyBytesBar(file, resp.ContentLength, filepath.Base(filePath))
	}
	size, err = io.Copy(dst, resp.Body)
	if err != nil {
		_ = file.Close()
		return 0, errors.Wrapf(err, "downloading %q to %q", url, tmpPath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed renaming %q", tmpPath)
	}
	klog.V(1).Infof("Downloaded %s to %s (%s)", url, filePath, humanize.IBytes(uint64(size)))
	return size, nil
}

// IfMissing downloads url into filePath unless the file already exists.
// If checkHash is not empty, the file's SHA-256 must match it.
func IfMissing(ctx context.Context, url, filePath, checkHash string) error {
	if _, err := os.Stat(filePath); err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to stat %q", filePath)
		}
		klog.Infof("Downloading %s ...", url)
		if _, err := File(ctx, url, filePath); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return ValidateChecksum(filePath, checkHash)
}

// ValidateChecksum verifies the hex SHA-256 of a file.
func ValidateChecksum(filePath, want string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.Wrapf(err, "failed to hash %q", filePath)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return errors.Errorf("file %q has SHA-256 %s, want %s", filePath, got, want)
	}
	return nil
}

// Untar extracts a tar archive into baseDir. Archives ending in .gz or .tgz
// are gunzipped first. Entries escaping baseDir are rejected.
func Untar(baseDir, tarFile string) error {
	f, err := os.Open(tarFile)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", tarFile)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(tarFile, ".gz") || strings.HasSuffix(tarFile, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "failed to un-gzip %q", tarFile)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	root := filepath.Clean(baseDir)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "while reading %q", tarFile)
		}
		target := filepath.Join(root, filepath.Clean(hdr.Name))
		// "./" entries, as written by `tar -C dir .`, name baseDir itself.
		if target == root && hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(root, 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %q", root)
			}
			continue
		}
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return errors.Errorf("tar entry %q escapes %q", hdr.Name, baseDir)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %q", target)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return err
			}
		default:
			klog.V(2).Infof("Skipping tar entry %q (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %q", filepath.Dir(target))
	}
	out, err := os.Create(target)
	if err != nil {
		return errors.Wrapf(err, "failed creating %q", target)
	}
	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // Archives come from pinned, checksummed URLs
		_ = out.Close()
		return errors.Wrapf(err, "failed writing %q", target)
	}
	return errors.Wrapf(out.Close(), "failed closing %q", target)
}

// AndUntarIfMissing downloads tarFile from url if needed and extracts it
// into baseDir, unless targetDir already exists.
func AndUntarIfMissing(ctx context.Context, url, baseDir, tarFile, targetDir, checkHash string) error {
	if !filepath.IsAbs(tarFile) {
		tarFile = filepath.Join(baseDir, tarFile)
	}
	if !filepath.IsAbs(targetDir) {
		targetDir = filepath.Join(baseDir, targetDir)
	}
	if _, err := os.Stat(targetDir); err == nil {
		return nil
	}
	if err := IfMissing(ctx, url, tarFile, checkHash); err != nil {
		return err
	}
	if err := Untar(baseDir, tarFile); err != nil {
		return err
	}
	if _, err := os.Stat(targetDir); err != nil {
		return errors.Errorf("downloaded from %q and untar'ed %q, but didn't get directory %q", url, tarFile, targetDir)
	}
	return nil
}
