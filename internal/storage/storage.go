// Package storage moves submitted media to a place the analysis service can
// read it from.
//
// Two layers live here:
// - Storage: a key/value object store (LocalStorage for development,
//   R2Storage for Cloudflare R2 or any S3-compatible bucket)
// - Uploader: the narrow contract the orchestrator consumes. ObjectUploader
//   adapts any Storage to it; CloudinaryUploader talks to an unsigned
//   upload endpoint directly.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definitions
// =============================================================================

// Uploader accepts raw media and returns a durable locator the analysis
// service can fetch it from.
type Uploader interface {
	Upload(ctx context.Context, body io.Reader, meta Metadata) (string, error)
}

// Storage defines the interface for object storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key with the given options.
	// Returns ErrKeyExists if the key is taken and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key. The caller must close
	// the reader. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Idempotent.
	Delete(ctx context.Context, key string) error

	// URL returns a URL for accessing the object: a permanent public URL or
	// a presigned one valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// Metadata describes a submitted file.
type Metadata struct {
	Filename    string // Original file name, used for the key extension
	ContentType string // Declared MIME type
	Size        int64  // Declared size in bytes, 0 if unknown
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	// If empty, it is detected from the key's extension.
	ContentType string

	// MaxSize is the maximum allowed size in bytes. 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool

	// Public sets a public-read ACL where the provider supports it.
	Public bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag (if available)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	BasePath string

	// BaseURL is the public URL prefix the files are served under.
	// Example: "http://localhost:8080/files"
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL is the bucket's public URL when served from a custom domain.
	// If empty, presigned URLs are used.
	PublicURL string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string

	// Endpoint overrides the account-derived R2 endpoint, for other
	// S3-compatible providers.
	Endpoint string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	ProviderLocal      = "local"
	ProviderR2         = "r2"
	ProviderCloudinary = "cloudinary"
)

// =============================================================================
// Object Uploader
// =============================================================================

// DefaultLocatorTTL is how long a presigned locator stays valid. It only
// needs to outlive the analysis call.
const DefaultLocatorTTL = 30 * time.Minute

// ObjectUploader adapts a Storage to the Uploader contract.
type ObjectUploader struct {
	store      Storage
	maxSize    int64
	locatorTTL time.Duration
	logger     *slog.Logger
}

// NewObjectUploader creates an uploader over store. maxSize of 0 disables
// the size check.
func NewObjectUploader(store Storage, maxSize int64, logger *slog.Logger) *ObjectUploader {
	return &ObjectUploader{
		store:      store,
		maxSize:    maxSize,
		locatorTTL: DefaultLocatorTTL,
		logger:     logger,
	}
}

// Upload stores body under a fresh key and returns a URL for it.
func (u *ObjectUploader) Upload(ctx context.Context, body io.Reader, meta Metadata) (string, error) {
	key := SubmissionKey(meta.Filename)

	contentType := DetectContentType(meta.ContentType, meta.Filename, nil)
	if err := u.store.Put(ctx, key, body, PutOptions{
		ContentType: contentType,
		MaxSize:     u.maxSize,
	}); err != nil {
		return "", err
	}

	locator, err := u.store.URL(ctx, key, u.locatorTTL)
	if err != nil {
		// Best effort: the object is useless without a locator.
		if delErr := u.store.Delete(ctx, key); delErr != nil {
			u.logger.Warn("failed to clean up unaddressable object", "key", key, "error", delErr)
		}
		return "", err
	}

	u.logger.Debug("uploaded submission", "key", key, "content_type", contentType)
	return locator, nil
}

// =============================================================================
// Key Generation Helpers
// =============================================================================

// SubmissionKey generates a storage key for submitted media.
// Format: submissions/{yyyy}/{mm}/{uuid}.{ext}
//
// Example: "submissions/2026/03/0195f1c2-7a3b-7c4d-9e8f-0123456789ab.png"
func SubmissionKey(filename string) string {
	return submissionKeyAt(filename, time.Now().UTC())
}

func submissionKeyAt(filename string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("submissions/%04d/%02d/%s%s", at.Year(), int(at.Month()), id, ext)
}
