// ABOUTME: Source fingerprinting for build deduplication and artifact cache keys.
// ABOUTME: sha256 over sorted relative paths and file contents of a target's source tree.
package build

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// skippedDirs are never part of a target's fingerprint.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
}

// Fingerprint hashes a target's source tree. Identical trees produce
// identical fingerprints regardless of walk order or mtimes.
func Fingerprint(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".wasm") {
			// Build outputs must not feed back into the fingerprint.
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking target source %s: %w", dir, err)
	}

	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		fmt.Fprintf(h, "%s\x00", rel)
		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", rel, err)
		}
		_, copyErr := io.Copy(h, f)
		_ = f.Close()
		if copyErr != nil {
			return "", fmt.Errorf("hashing %s: %w", rel, copyErr)
		}
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashBytes returns the hex sha256 of data, used for artifact content hashes.
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
