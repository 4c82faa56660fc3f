package storage

import "context"

// ObjectStore is the sink for mirrored image bytes. Upload must fail loudly
// on error; idempotency is enforced by the caller's existence check, not here.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}
