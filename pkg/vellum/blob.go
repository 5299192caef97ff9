package vellum

import (
	"context"
	"encoding/json"
)

// Shared blob defaults.
const (
	// DefaultBlobBudgetBytes is the platform hard limit of the shared blob.
	DefaultBlobBudgetBytes = 16 * 1024
	// DefaultBlobHeadroomBytes is kept free below the hard limit.
	DefaultBlobHeadroomBytes = 1024
)

// BlobDocument is the top-level object held by the shared blob store.
type BlobDocument map[string]json.RawMessage

// BlobChangeHandler observes the full blob document after every accepted write.
type BlobChangeHandler func(ctx context.Context, document BlobDocument)

// SharedBlobStore is the cross-member, size-bounded shared object.
//
// Only Host and Privileged Peer members write; Guests read and observe.
type SharedBlobStore interface {
	// Read returns the current document. A never-written blob yields an empty document.
	Read(ctx context.Context) (BlobDocument, error)
	// Write merges patch into the document. A JSON null value removes its key.
	Write(ctx context.Context, patch BlobDocument) error
	// OnChange registers handler and returns the function that removes it.
	OnChange(handler BlobChangeHandler) (unsubscribe func())
}

// MergeBlob applies patch over base and returns the merged document.
func MergeBlob(base BlobDocument, patch BlobDocument) BlobDocument {
	merged := make(BlobDocument, len(base)+len(patch))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range patch {
		if isJSONNull(value) {
			delete(merged, key)
			continue
		}
		merged[key] = append(json.RawMessage(nil), value...)
	}

	return merged
}

// BlobSize returns the serialized size of document in bytes.
func BlobSize(document BlobDocument) (int, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return 0, err
	}

	return len(encoded), nil
}

func isJSONNull(value json.RawMessage) bool {
	return len(value) == 0 || string(value) == "null"
}
