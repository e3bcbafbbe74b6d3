package publish

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Factory creates an Uploader from the configuration.
type Factory func(config Config) (Uploader, error)

// BackendInfo contains metadata about a backend.
type BackendInfo struct {
	Name        string
	Description string
	Factory     Factory
}

// Registry manages the registered upload backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*BackendInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]*BackendInfo),
	}
}

// Register adds a backend to the registry.
func (r *Registry) Register(name string, info *BackendInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %s is already registered", name)
	}

	r.backends[name] = info
	return nil
}

// Get retrieves a backend by name.
func (r *Registry) Get(name string) (*BackendInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.backends[name]
	if !exists {
		return nil, fmt.Errorf("backend %s not found", name)
	}

	return info, nil
}

// List returns the registered backend names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Create builds the uploader selected by config.Backend.
func (r *Registry) Create(config Config) (Uploader, error) {
	info, err := r.Get(config.Backend)
	if err != nil {
		return nil, err
	}

	uploader, err := info.Factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", config.Backend, err)
	}
	return uploader, nil
}

// DefaultRegistry holds the built-in backends.
var DefaultRegistry = NewRegistry()

// RegisterBackend registers a backend with the default registry.
func RegisterBackend(name string, info *BackendInfo) {
	if err := DefaultRegistry.Register(name, info); err != nil {
		slog.Warn("Failed to register backend", "backend", name, "error", err)
	} else {
		slog.Debug("Registered backend", "backend", name, "description", info.Description)
	}
}

// NewUploader creates an uploader from the default registry.
func NewUploader(config Config) (Uploader, error) {
	return DefaultRegistry.Create(config)
}

func init() {
	RegisterBackend("local", &BackendInfo{
		Name:        "Local directory",
		Description: "Copies files into a directory served by a web server",
		Factory:     func(c Config) (Uploader, error) { return NewLocalUploader(c.Local.Dir, c.PublicURL) },
	})
	RegisterBackend("sftp", &BackendInfo{
		Name:        "SFTP",
		Description: "Uploads over SSH to a remote directory",
		Factory:     func(c Config) (Uploader, error) { return NewSFTPUploader(c.SFTP, c.PublicURL) },
	})
	RegisterBackend("s3", &BackendInfo{
		Name:        "S3",
		Description: "Puts objects into an S3 compatible bucket",
		Factory:     func(c Config) (Uploader, error) { return NewS3Uploader(c.S3, c.PublicURL) },
	})
}
