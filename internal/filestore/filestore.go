package filestore

import (
	"errors"
	"io"

	"arenachat/internal/models"
)

// ErrTooLarge is returned by Save when the upload exceeds the limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// Meta describes a stored attachment blob. FileID is the content hash,
// so identical uploads land on the same blob.
type Meta struct {
	FileID string
	Mime   string
	Kind   models.AttachmentType
	Size   int64
}

// Store holds attachment content. Attachment metadata travels with the
// message; the store only deals in blobs.
type Store interface {
	// Save streams the upload to storage, enforcing limit bytes, and
	// returns the blob's metadata. Saving content that already exists is
	// a no-op returning the existing blob's metadata.
	Save(r io.Reader, limit int64) (Meta, error)

	// Open returns the blob's content and metadata for download, so the
	// caller can set response headers from the same sniffing that ran at
	// upload time.
	Open(fileID string) (io.ReadCloser, Meta, error)
}
