package host

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"touchbridge/internal/platform"
)

// ErrUnknownApplication is returned for identifiers absent from the manifest.
var ErrUnknownApplication = errors.New("host: unknown application")

// Manifest is a MetadataQuery backed by a YAML document of the form
//
//	applications:
//	  org.example.game:
//	    metadata:
//	      org.nvgt.capability.DIRECT_TOUCH: "true"
//	    entry_point:
//	      org.nvgt.capability.DIRECT_TOUCH: "true"
type Manifest struct {
	mu   sync.RWMutex
	apps map[string]ManifestApp
}

// ManifestApp is one application's declared metadata.
type ManifestApp struct {
	Metadata   map[string]string `yaml:"metadata"`
	EntryPoint map[string]string `yaml:"entry_point"`
}

type manifestFile struct {
	Applications map[string]ManifestApp `yaml:"applications"`
}

var _ platform.MetadataQuery = (*Manifest)(nil)

// LoadManifest reads a manifest file. An empty path yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return &Manifest{apps: map[string]ManifestApp{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var f manifestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if f.Applications == nil {
		f.Applications = map[string]ManifestApp{}
	}
	return &Manifest{apps: f.Applications}, nil
}

// Set adds or replaces an application's entry.
func (m *Manifest) Set(appID string, app ManifestApp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[appID] = app
}

// ApplicationMetadata implements platform.MetadataQuery.
func (m *Manifest) ApplicationMetadata(appID string) (platform.Metadata, error) {
	app, err := m.lookup(appID)
	if err != nil {
		return nil, err
	}
	return copyMetadata(app.Metadata), nil
}

// EntryPointMetadata implements platform.MetadataQuery.
func (m *Manifest) EntryPointMetadata(appID string) (platform.Metadata, error) {
	app, err := m.lookup(appID)
	if err != nil {
		return nil, err
	}
	if app.EntryPoint == nil {
		return nil, fmt.Errorf("%s: no launchable entry point", appID)
	}
	return copyMetadata(app.EntryPoint), nil
}

func (m *Manifest) lookup(appID string) (ManifestApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[appID]
	if !ok {
		return ManifestApp{}, fmt.Errorf("%w: %s", ErrUnknownApplication, appID)
	}
	return app, nil
}

func copyMetadata(src map[string]string) platform.Metadata {
	if src == nil {
		return nil
	}
	out := make(platform.Metadata, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
