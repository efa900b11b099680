package client

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned by Get when no object exists under the name.
var ErrBlobNotFound = errors.New("blob not found")

// PutOptions controls how an object is stored.
type PutOptions struct {
	ContentType string
	// Public marks the object as anonymously readable through its URL.
	Public bool
	// AddRandomSuffix appends a random token to the name so repeated
	// uploads of the same file name never collide.
	AddRandomSuffix bool
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// BlobStore defines the interface for object storage operations
type BlobStore interface {
	// Put stores data under name and returns its public URL.
	Put(ctx context.Context, name string, data []byte, opts PutOptions) (string, error)
	// Delete removes the object behind a URL previously returned by Put.
	Delete(ctx context.Context, blobURL string) error
	// List returns every object whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	// Get returns the content stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
}

// withRandomSuffix turns "song_1.mp3" into "song_1-3f9c0a1b2d4e5f60.mp3".
func withRandomSuffix(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return base + "-" + token + ext
}

// objectKey resolves the storage key behind a public URL. publicBase is the
// prefix used when the URL was built; if the URL does not start with it the
// URL path is used instead.
func objectKey(publicBase, blobURL string) string {
	if publicBase != "" {
		prefix := strings.TrimRight(publicBase, "/") + "/"
		if strings.HasPrefix(blobURL, prefix) {
			return strings.TrimPrefix(blobURL, prefix)
		}
	}
	if u, err := url.Parse(blobURL); err == nil && u.Path != "" {
		return strings.TrimPrefix(u.Path, "/")
	}
	return blobURL
}
