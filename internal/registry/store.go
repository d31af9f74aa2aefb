package registry

import "context"

// Store is the versioned artifact namespace the registry owns. A version is
// staged with Put, made visible with Publish, and read back with Get/List.
type Store interface {
	// Lock takes the exclusive training lock on the namespace.
	Lock(ctx context.Context) (unlock func() error, err error)
	// Put writes one staged artifact, e.g. "models/beds_needed.json".
	Put(ctx context.Context, version, name string, data []byte) error
	// Publish atomically makes version the current artifact set.
	Publish(ctx context.Context, version string) error
	// Discard removes a staged version that was never published.
	Discard(ctx context.Context, version string) error
	// Current returns the published version, or domain.ErrNotFound when none exists.
	Current(ctx context.Context) (string, error)
	// Get reads one artifact; a missing artifact is domain.ErrNotFound.
	Get(ctx context.Context, version, name string) ([]byte, error)
	// List returns the artifact file names under dir, sorted.
	List(ctx context.Context, version, dir string) ([]string, error)
}

// Artifact names within a version.
const (
	modelsDir       = "models"
	scalersDir      = "scalers"
	schemaFile      = "schema.json"
	profileFile     = "peak_profile.json"
	metadataFile    = "metadata.json"
	artifactFileExt = ".json"
)

func modelName(target string) string { return modelsDir + "/" + target + artifactFileExt }
func scalerName(group string) string { return scalersDir + "/" + group + artifactFileExt }
