package acp

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/perch/internal/logger"
)

// BinaryManager downloads and extracts binary-distributed agents. Installs
// of the same agent id are single-flight: a per-id mutex is held for the
// whole download/extract, so concurrent callers serialize while distinct
// agents install in parallel.
type BinaryManager struct {
	paths  Paths
	client *http.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewBinaryManager(paths Paths) *BinaryManager {
	return &BinaryManager{
		paths:  paths,
		client: &http.Client{Timeout: 10 * time.Minute},
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *BinaryManager) lockFor(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

// Install downloads and extracts the agent archive, returning the path to
// the runnable executable. Re-installing an already extracted version
// short-circuits without touching the network.
func (m *BinaryManager) Install(ctx context.Context, agentID, version string, info BinaryInfo) (string, error) {
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	installDir := m.paths.AgentVersionDir(agentID, version)
	downloadDir := m.paths.AgentDownloadDir(agentID, version)

	if _, err := os.Stat(installDir); err == nil {
		if exe := m.findExecutable(installDir, info); exe != "" {
			logger.Info("agent already installed", "agent", agentID, "path", exe)
			return exe, nil
		}
	}

	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return "", fmt.Errorf("create install dir: %w", err)
	}

	archivePath, err := m.download(ctx, info, downloadDir)
	if err != nil {
		return "", err
	}

	if err := extractArchive(archivePath, installDir); err != nil {
		return "", err
	}

	exe := m.findExecutable(installDir, info)
	if exe == "" {
		return "", fmt.Errorf("could not find executable in extracted archive")
	}

	if err := prepareExecutable(exe); err != nil {
		return "", err
	}

	// Best effort; a leftover staging dir is harmless.
	if err := os.RemoveAll(downloadDir); err != nil {
		logger.Warn("staging cleanup failed", "dir", downloadDir, "error", err)
	}

	logger.Info("installed agent binary", "agent", agentID, "version", version, "path", exe)
	return exe, nil
}

// Uninstall removes the agent's entire directory tree. A missing directory
// is not an error.
func (m *BinaryManager) Uninstall(agentID string) error {
	dir := m.paths.AgentDir(agentID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove agent directory: %w", err)
	}
	return nil
}

func (m *BinaryManager) download(ctx context.Context, info BinaryInfo, downloadDir string) (string, error) {
	logger.Info("downloading agent archive", "url", info.Archive)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.Archive, nil)
	if err != nil {
		return "", fmt.Errorf("bad archive url: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %s", resp.Status)
	}

	archivePath := filepath.Join(downloadDir, archiveFilename(info.Archive))
	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	if info.Sha256 != "" {
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, info.Sha256) {
			return "", fmt.Errorf("archive checksum mismatch: got %s want %s", sum, info.Sha256)
		}
	}

	logger.Info("downloaded archive", "bytes", n, "path", archivePath)
	return archivePath, nil
}

// archiveFilename derives a local filename from the URL, dropping any query.
func archiveFilename(url string) string {
	name := url
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "?"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		name = "archive"
	}
	return name
}

// extractArchive dispatches on the archive filename extension. Unknown
// extensions are treated as a raw executable and copied as-is.
func extractArchive(archivePath, installDir string) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, installDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTarGz(archivePath, installDir)
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return extractTarBz2(archivePath, installDir)
	case strings.HasSuffix(lower, ".tar"):
		return extractTarFile(archivePath, installDir)
	default:
		// Not an archive: the payload is the executable itself.
		dest := filepath.Join(installDir, filepath.Base(archivePath))
		if err := copyFile(archivePath, dest); err != nil {
			return fmt.Errorf("copy binary: %w", err)
		}
		if runtime.GOOS != "windows" {
			if err := os.Chmod(dest, 0755); err != nil {
				return fmt.Errorf("set permissions: %w", err)
			}
		}
		return nil
	}
}

func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		outPath, err := sanitizePath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(outPath, 0755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("read zip entry: %w", err)
		}
		out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0600)
		if err != nil {
			rc.Close()
			return fmt.Errorf("create file: %w", err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("extract file: %w", err)
		}
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar.gz: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read gzip: %w", err)
	}
	defer gz.Close()

	return untar(tar.NewReader(gz), dest)
}

func extractTarBz2(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar.bz2: %w", err)
	}
	defer f.Close()

	return untar(tar.NewReader(bzip2.NewReader(f)), dest)
}

func extractTarFile(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar: %w", err)
	}
	defer f.Close()

	return untar(tar.NewReader(f), dest)
}

func untar(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		outPath, err := sanitizePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, 0755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeSymlink:
			if err := safeSymlink(dest, outPath, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
			mode := fs.FileMode(hdr.Mode).Perm()
			out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0600)
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			_, err = io.Copy(out, tr)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("extract file: %w", err)
			}
		}
	}
}

// safeSymlink creates a symlink at path, rejecting targets that resolve
// outside dest. A link pointing outside the install dir would let a later
// entry write through it to an arbitrary location.
func safeSymlink(dest, path, target string) error {
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(path), resolved)
	}
	resolved = filepath.Clean(resolved)
	if resolved != filepath.Clean(dest) && !strings.HasPrefix(resolved, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("symlink target escapes destination: %s", target)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

// sanitizePath joins an archive entry name under dest, rejecting entries
// that would escape it.
func sanitizePath(dest, name string) (string, error) {
	out := filepath.Join(dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(out, filepath.Clean(dest)+string(os.PathSeparator)) && out != filepath.Clean(dest) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

// findExecutable locates the runnable entry point in installDir: the
// descriptor's declared cmd (a "./name" prefix is stripped) directly or via
// recursive search, falling back to the first file carrying an executable
// bit (or .exe on Windows).
func (m *BinaryManager) findExecutable(installDir string, info BinaryInfo) string {
	if info.Cmd != "" {
		exeName := strings.TrimPrefix(info.Cmd, "./")
		direct := filepath.Join(installDir, exeName)
		if _, err := os.Stat(direct); err == nil {
			return direct
		}
		if found := findFileRecursive(installDir, exeName); found != "" {
			return found
		}
	}

	entries, err := os.ReadDir(installDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(installDir, entry.Name())
		if runtime.GOOS == "windows" {
			if strings.EqualFold(filepath.Ext(path), ".exe") {
				return path
			}
			continue
		}
		if fi, err := entry.Info(); err == nil && fi.Mode().Perm()&0111 != 0 {
			return path
		}
	}
	return ""
}

func findFileRecursive(dir, name string) string {
	var found string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

// prepareExecutable sets the owner-executable bit and strips the macOS
// quarantine attribute so a freshly downloaded binary can run.
func prepareExecutable(exePath string) error {
	fi, err := os.Stat(exePath)
	if err != nil {
		return fmt.Errorf("stat executable: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(exePath, fi.Mode().Perm()|0755); err != nil {
			return fmt.Errorf("set permissions: %w", err)
		}
	}

	if runtime.GOOS == "darwin" {
		// Failure is fine: the attribute may simply not be present.
		exec.Command("xattr", "-d", "com.apple.quarantine", exePath).Run()
	}
	return nil
}
