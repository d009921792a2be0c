// Package storage publishes reconstructed files into an output directory.
package storage

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/opd-ai/qrxfer/limits"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/sirupsen/logrus"
)

// FallbackFilename replaces names that are empty or unsafe once sanitized.
const FallbackFilename = "downloaded_file"

// maxCollisions bounds the " (n)" suffix search.
const maxCollisions = 10000

// ErrInvalidDirectory indicates an empty or unusable output directory.
var ErrInvalidDirectory = errors.New("invalid output directory")

// ErrPublish indicates that the file could not be written or moved into place.
var ErrPublish = errors.New("failed to publish file")

// Publisher writes files into Dir. Nothing is visible under the final name
// until the whole content has been written and synced.
type Publisher struct {
	Dir string
}

// NewPublisher creates a publisher for dir.
func NewPublisher(dir string) *Publisher {
	return &Publisher{Dir: dir}
}

// Publish writes data under a sanitized form of meta.Filename and returns
// the final path. An existing file is never overwritten: the name gets a
// " (n)" suffix instead.
func (p *Publisher) Publish(meta receiver.Metadata, data []byte) (string, error) {
	if strings.TrimSpace(p.Dir) == "" {
		return "", ErrInvalidDirectory
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}

	name := SanitizeFilename(meta.Filename, meta.MimeType)

	tmp, err := os.CreateTemp(p.Dir, ".qrxfer-*.part")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeAndSync(tmp, data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Publish",
			"file_name": name,
			"error":     err.Error(),
		}).Error("Failed to write scratch file")
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	final, err := p.moveIntoPlace(tmpPath, name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Publish",
			"file_name": name,
			"error":     err.Error(),
		}).Error("Failed to move file into place")
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Publish",
		"transfer_id": meta.TransferID,
		"path":        final,
		"size":        len(data),
	}).Info("File saved")

	return final, nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// moveIntoPlace links tmpPath to the first free candidate name. Link fails
// on an existing target, so a concurrent writer cannot be overwritten.
func (p *Publisher) moveIntoPlace(tmpPath, name string) (string, error) {
	for n := 0; n < maxCollisions; n++ {
		candidate := filepath.Join(p.Dir, candidateName(name, n))

		err := os.Link(tmpPath, candidate)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}

		// Filesystems without hard links.
		if _, statErr := os.Lstat(candidate); statErr == nil {
			continue
		}
		if err := os.Rename(tmpPath, candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxCollisions)
}

// candidateName returns name for n == 0 and "base (n).ext" otherwise.
func candidateName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// SanitizeFilename reduces name to a single safe path element. Directory
// components and control characters are removed, the result is limited to
// limits.MaxFileNameLength bytes, and an extension is added from mimetype
// when name has none.
func SanitizeFilename(name, mimetype string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")

	if name == "" {
		name = FallbackFilename
	}

	if filepath.Ext(name) == "" {
		if ext := extensionFor(mimetype); ext != "" {
			name += ext
		}
	}

	if err := limits.ValidateFileName(name); err != nil {
		name = truncateName(name, limits.MaxFileNameLength)
	}
	return name
}

func extensionFor(mimetype string) string {
	mediaType, _, err := mime.ParseMediaType(mimetype)
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// truncateName shortens name to max bytes, keeping the extension and never
// splitting a UTF-8 sequence.
func truncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= max {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)
	limit := max - len(ext)

	cut := 0
	for i := range base {
		if i > limit {
			break
		}
		cut = i
	}
	if len(base) <= limit {
		cut = len(base)
	}
	return base[:cut] + ext
}
