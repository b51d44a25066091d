package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"arenachat/internal/models"

	"github.com/h2non/filetype"
)

// Local stores blobs on the filesystem, sharded by the first two hash
// characters to keep directories small.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &Local{root: root}, nil
}

func (s *Local) path(fileID string) string {
	if len(fileID) < 2 {
		return filepath.Join(s.root, fileID)
	}
	return filepath.Join(s.root, fileID[:2], fileID)
}

// Save hashes and sniffs the content while streaming it to a temp file,
// then moves the file into its content-addressed place in one rename.
func (s *Local) Save(r io.Reader, limit int64) (Meta, error) {
	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return Meta{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	// Read one byte past the limit so an oversized upload is detected
	// without trusting a client-declared length.
	size, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(r, limit+1))
	if err != nil {
		return Meta{}, fmt.Errorf("failed to write upload: %w", err)
	}
	if size > limit {
		return Meta{}, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		return Meta{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	meta := Meta{
		FileID: hex.EncodeToString(hasher.Sum(nil)),
		Size:   size,
	}
	meta.Mime, meta.Kind = sniff(tmp.Name())

	path := s.path(meta.FileID)
	if _, err := os.Stat(path); err == nil {
		return meta, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Meta{}, fmt.Errorf("failed to create shard directory: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Meta{}, fmt.Errorf("failed to place upload: %w", err)
	}
	return meta, nil
}

func (s *Local) Open(fileID string) (io.ReadCloser, Meta, error) {
	path := s.path(fileID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, models.ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("failed to open file %s: %w", fileID, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Meta{}, fmt.Errorf("failed to stat file %s: %w", fileID, err)
	}
	meta := Meta{FileID: fileID, Size: info.Size()}
	meta.Mime, meta.Kind = sniff(path)
	return f, meta, nil
}

// sniff classifies the stored content by magic bytes. Unrecognized
// content is served as a generic download, never as something the
// browser might execute.
func sniff(path string) (string, models.AttachmentType) {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream", models.AttachmentTypeFile
	}
	defer f.Close()

	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream", models.AttachmentTypeFile
	}
	if filetype.IsImage(head[:n]) {
		return kind.MIME.Value, models.AttachmentTypeImage
	}
	return kind.MIME.Value, models.AttachmentTypeFile
}
