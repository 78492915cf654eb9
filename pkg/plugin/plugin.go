// Package plugin defines the lifecycle contract a filesystem plugin
// implements, independent of how the plugin is hosted. In-process plugins
// satisfy ServicePlugin directly; the api package adapts native shared
// libraries and WASM modules to the same interface.
package plugin

import (
	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

// DefaultReadme is returned by plugins that ship no documentation.
const DefaultReadme = "No documentation available"

// ConfigParameter describes one configuration key a plugin accepts. The
// JSON field names are part of the wire contract with out-of-process
// plugins.
type ConfigParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

// ServicePlugin is the full plugin lifecycle. The host drives it in order:
// Validate, Initialize, then filesystem traffic through GetFileSystem, and
// finally Shutdown. Validate must not mutate state; a plugin whose Validate
// failed may still be initialized later with a corrected configuration.
type ServicePlugin interface {
	// Name returns the stable plugin identifier.
	Name() string

	// Validate checks cfg without acquiring resources.
	Validate(cfg *config.Config) error

	// Initialize acquires resources and makes the filesystem ready.
	Initialize(cfg *config.Config) error

	// GetFileSystem returns the filesystem capability. Only valid after a
	// successful Initialize.
	GetFileSystem() filesystem.FileSystem

	// GetReadme returns human-readable plugin documentation.
	GetReadme() string

	// GetConfigParams declares the configuration keys the plugin accepts.
	GetConfigParams() []ConfigParameter

	// Shutdown releases everything Initialize acquired. A plugin is not
	// reusable after Shutdown.
	Shutdown() error
}

// Base supplies neutral defaults for the optional parts of ServicePlugin so
// a plugin only spells out what it actually customizes.
type Base struct{}

func (Base) Validate(cfg *config.Config) error {
	return nil
}

func (Base) Initialize(cfg *config.Config) error {
	return nil
}

func (Base) Shutdown() error {
	return nil
}

func (Base) GetReadme() string {
	return DefaultReadme
}

func (Base) GetConfigParams() []ConfigParameter {
	return nil
}
