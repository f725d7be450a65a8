package pixelmill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
)

// LocalKeyPrefix marks a storage key as addressing the local-fallback
// backend. Remote object-store keys never start with it.
const LocalKeyPrefix = "/"

// BaseKey returns the logical base key for one stored image's assets.
func BaseKey(ownerID, imageID uuid.UUID) string {
	return fmt.Sprintf("images/%s/%s", ownerID, imageID)
}

// OriginalVariant returns the variant suffix for the re-encoded original.
func OriginalVariant(codec pipeline.Codec) string {
	return "original." + codec.Ext()
}

// ThumbnailVariant returns the variant suffix for the thumbnail.
func ThumbnailVariant(codec pipeline.Codec) string {
	return "thumb." + codec.Ext()
}

// WidthVariant returns the variant suffix for one responsive-ladder width.
func WidthVariant(width int, codec pipeline.Codec) string {
	return fmt.Sprintf("w%d.%s", width, codec.Ext())
}

// KeyResolver maps logical asset keys to a backend-specific address and
// moves bytes through the matching BlobStore. The remote store is optional;
// when absent, newly minted keys carry the local prefix and all traffic goes
// to the local backend. Existing keys always route by their prefix, so a
// deployment that gains remote configuration keeps serving older local
// assets.
type KeyResolver struct {
	remote BlobStore // may be nil
	local  BlobStore
}

// NewKeyResolver builds a resolver. The local backend is the mandatory
// fallback; remote may be nil when the object store is not configured.
func NewKeyResolver(remote, local BlobStore) (*KeyResolver, error) {
	if local == nil {
		return nil, errors.New("local fallback backend is required")
	}
	return &KeyResolver{remote: remote, local: local}, nil
}

// RemoteConfigured reports whether a remote object store is available.
func (r *KeyResolver) RemoteConfigured() bool { return r.remote != nil }

// MintKey produces the storage key for a base key and variant suffix,
// targeting the remote store when configured and the local fallback
// otherwise.
func (r *KeyResolver) MintKey(baseKey, variant string) string {
	key := baseKey + "/" + variant
	if r.remote == nil {
		return LocalKeyPrefix + key
	}
	return key
}

func (r *KeyResolver) route(key string) (BlobStore, string, string, error) {
	if strings.HasPrefix(key, LocalKeyPrefix) {
		return r.local, strings.TrimPrefix(key, LocalKeyPrefix), "local", nil
	}
	if r.remote == nil {
		return nil, "", "", fmt.Errorf("%w: remote key %q without remote backend", ErrStorageBackendNotFound, key)
	}
	return r.remote, key, "remote", nil
}

// Put writes bytes at key with overwrite semantics. Write failures wrap
// ErrStorageUnavailable and must not be swallowed by callers.
func (r *KeyResolver) Put(ctx context.Context, key string, data []byte, mimeType string) error {
	store, objectKey, backend, err := r.route(key)
	if err != nil {
		return err
	}
	err = store.UploadWithParams(ctx, bytes.NewReader(data), UploadParams{
		ObjectKey: objectKey,
		MimeType:  mimeType,
	})
	if err != nil {
		return &StorageError{
			Backend: backend,
			Key:     key,
			Op:      "put",
			Err:     fmt.Errorf("%w: %v", ErrStorageUnavailable, err),
		}
	}
	return nil
}

// Get reads the full object at key. A missing key fails with
// ErrObjectNotFound.
func (r *KeyResolver) Get(ctx context.Context, key string) ([]byte, error) {
	store, objectKey, backend, err := r.route(key)
	if err != nil {
		return nil, err
	}
	rc, err := store.Download(ctx, objectKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
		return nil, &StorageError{
			Backend: backend,
			Key:     key,
			Op:      "get",
			Err:     fmt.Errorf("%w: %v", ErrStorageUnavailable, err),
		}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &StorageError{
			Backend: backend,
			Key:     key,
			Op:      "get",
			Err:     fmt.Errorf("%w: %v", ErrStorageUnavailable, err),
		}
	}
	return data, nil
}

// URL resolves a read URL for key: a signed URL on the remote store, a
// path-based URL on the local fallback.
func (r *KeyResolver) URL(ctx context.Context, key string) (string, error) {
	store, objectKey, _, err := r.route(key)
	if err != nil {
		return "", err
	}
	return store.GetDownloadURL(ctx, objectKey, "")
}
