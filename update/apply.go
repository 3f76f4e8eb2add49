package update

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"whisperclip/models"
)

// Apply downloads the release binary next to the current executable and
// swaps it in with an atomic rename.
func Apply(rel *Release) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolve symlinks: %w", err)
	}

	// Same directory keeps the rename on one filesystem.
	tmpPath := filepath.Join(filepath.Dir(execPath), "."+BinaryName+"-update")
	defer os.Remove(tmpPath)

	for p := range models.NewDownloader().Download(rel.AssetURL, tmpPath) {
		if p.Err != nil {
			return fmt.Errorf("download binary: %w", p.Err)
		}
		if p.Done {
			fmt.Fprintf(os.Stderr, "\r  downloaded %d KB\n", p.Downloaded/1024)
		} else if p.Total > 0 {
			fmt.Fprintf(os.Stderr, "\r  %d%% (%d / %d KB)",
				p.Downloaded*100/p.Total, p.Downloaded/1024, p.Total/1024)
		}
	}

	if rel.ChecksumURL != "" {
		actual, err := fileSHA256(tmpPath)
		if err != nil {
			return fmt.Errorf("hash binary: %w", err)
		}
		expected, err := fetchExpectedHash(rel.ChecksumURL, assetName())
		if err != nil {
			return fmt.Errorf("fetch checksums: %w", err)
		}
		if actual != expected {
			return fmt.Errorf("checksum mismatch: got %s, want %s", actual[:12], expected[:12])
		}
	}

	if err := os.Chmod(tmpPath, 0755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	// Atomic swap: current -> .old, new -> current, remove .old
	oldPath := execPath + ".old"
	if err := os.Rename(execPath, oldPath); err != nil {
		return fmt.Errorf("backup current binary: %w", err)
	}
	if err := os.Rename(tmpPath, execPath); err != nil {
		_ = os.Rename(oldPath, execPath)
		return fmt.Errorf("install new binary: %w", err)
	}
	_ = os.Remove(oldPath)
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fetchExpectedHash(checksumURL, filename string) (string, error) {
	resp, err := http.Get(checksumURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("checksums: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		// Format: "<hash>  <filename>" or "<hash> <filename>"
		parts := strings.Fields(scanner.Text())
		if len(parts) == 2 && parts[1] == filename {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("no checksum for %s", filename)
}
