// Package fingerprint loads reference images and compares listing photos
// against them using 64-bit perceptual hashes.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/corona10/goimagehash"
	"github.com/gabriel-vasile/mimetype"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrNoReferences is returned by Load when no reference directory exists or
// none of the files inside decode to a usable image. The daemon cannot match
// anything without references, so callers treat this as fatal.
var ErrNoReferences = errors.New("no usable reference images")

// Reference is a single reference image reduced to its perceptual hash.
type Reference struct {
	Name string
	Hash *goimagehash.ImageHash
}

// Store holds the reference hashes. It is read-only after construction and
// safe for concurrent readers.
type Store struct {
	refs []Reference
}

// NewStore builds a store from pre-computed references.
func NewStore(refs ...Reference) *Store {
	return &Store{refs: refs}
}

// Load scans the candidate directories (non-recursive) for .png, .jpg, .jpeg
// and .webp files and hashes each one. Files that fail to read or decode are
// logged and skipped so one corrupt reference never blocks startup.
func Load(dirs []string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var refs []Reference
	found := false
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("reference directory unreadable", "dir", dir, "error", err)
			}
			continue
		}
		found = true
		for _, entry := range entries {
			if entry.IsDir() || !isImageName(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("reference image unreadable", "path", path, "error", err)
				continue
			}
			hash, err := HashBytes(data)
			if err != nil {
				logger.Warn("reference image skipped", "path", path, "error", err)
				continue
			}
			refs = append(refs, Reference{Name: entry.Name(), Hash: hash})
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: none of %v exists", ErrNoReferences, dirs)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no decodable image in %v", ErrNoReferences, dirs)
	}
	logger.Info("reference images loaded", "count", len(refs))
	return &Store{refs: refs}, nil
}

// Len reports the number of loaded references.
func (s *Store) Len() int {
	return len(s.refs)
}

// MinDistance returns the smallest Hamming distance between the candidate
// hash and any reference, along with the name of that reference.
func (s *Store) MinDistance(candidate *goimagehash.ImageHash) (int, string, error) {
	if candidate == nil {
		return 0, "", fmt.Errorf("candidate hash is required")
	}
	if len(s.refs) == 0 {
		return 0, "", ErrNoReferences
	}

	best := -1
	bestName := ""
	for _, ref := range s.refs {
		d, err := candidate.Distance(ref.Hash)
		if err != nil {
			return 0, "", fmt.Errorf("comparing against %s: %w", ref.Name, err)
		}
		if best == -1 || d < best {
			best = d
			bestName = ref.Name
		}
	}
	return best, bestName, nil
}

// HashImage computes the 64-bit DCT perceptual hash of a decoded image.
func HashImage(img image.Image) (*goimagehash.ImageHash, error) {
	return goimagehash.PerceptionHash(img)
}

// HashBytes sniffs, decodes and hashes a raw image payload. Non-image
// payloads (HTML error pages, tracking pixels served as text) are rejected
// before the decoder sees them.
func HashBytes(data []byte) (*goimagehash.ImageHash, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	contentType := mimetype.Detect(data).String()
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unsupported content type %s", contentType)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", contentType, err)
	}
	return HashImage(img)
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return true
	default:
		return false
	}
}
