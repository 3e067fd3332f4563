package persistence

import (
	"encoding/json"

	"github.com/jidohq/sessiond/internal/errs"
)

const sidecarSchemaVersion = 1

// WriteRevisionSidecar writes <path>.jido.rev atomically, without
// preserving target metadata. The payload is JSON rather than an opaque
// binary format so other tools can read it without a schema.
func WriteRevisionSidecar(path string, metadata map[string]any) (*DiskSnapshot, *errs.Error) {
	payload := map[string]any{"schema_version": sidecarSchemaVersion}
	for k, v := range metadata {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to encode revision sidecar", err)
	}

	return WriteFile(sidecarPath(path), data, AtomicWriteOptions{PreserveMetadata: false})
}

func sidecarPath(path string) string {
	return path + ".jido.rev"
}
