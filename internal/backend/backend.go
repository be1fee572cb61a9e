// Package backend defines the capability contract every agent CLI plugin implements.
// Plugins may be compiled in, loaded from a shared library, or built from a
// declarative manifest; callers only ever see the Plugin interface.
package backend

import (
	"context"
	"errors"
)

// Errors shared by every plugin implementation.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrPluginNotFound        = errors.New("plugin not found")
	ErrCapabilityUnsupported = errors.New("capability not supported")
	ErrInvalidSettings       = errors.New("invalid settings")
)

// Metadata describes a plugin for display.
type Metadata interface {
	// Name returns the unique plugin identifier (e.g., "claude-code").
	Name() string
	DisplayName() string
	Version() string
	Description() string
	Icon() string
	Color() string
}

// Health reports whether the wrapped CLI is usable.
type Health interface {
	// CheckInstallation reports whether the CLI binary is on PATH.
	CheckInstallation(ctx context.Context) (bool, error)

	// CLIVersion returns the version string printed by the CLI.
	CLIVersion(ctx context.Context) (string, error)

	// ValidateSettings checks flag values before a session starts.
	ValidateSettings(ctx context.Context, settings map[string]string) error
}

// Sessions manages logical sessions. The wrapped CLI may run once per
// message, so a session is not necessarily backed by a live process.
type Sessions interface {
	StartSession(ctx context.Context, projectPath string, settings map[string]string) (SessionHandle, error)

	// ResumeSession binds a fresh internal session to an existing vendor session id.
	ResumeSession(ctx context.Context, vendorSessionID, projectPath string, settings map[string]string) (SessionHandle, error)

	StopSession(ctx context.Context, h SessionHandle) error
	SessionStatus(ctx context.Context, h SessionHandle) (SessionStatus, error)
}

// Messaging sends input and drains classified output.
type Messaging interface {
	// SendMessage returns once the CLI is spawned; output arrives asynchronously.
	SendMessage(ctx context.Context, h SessionHandle, message string) error

	// ReadOutput drains everything produced since the previous read.
	ReadOutput(ctx context.Context, h SessionHandle) ([]OutputChunk, error)
}

// HistorySource exposes the CLI's own persisted transcripts.
// Implementations without native history return empty results, not errors.
type HistorySource interface {
	ListSessions(ctx context.Context, projectPath string) ([]SessionInfo, error)
	History(ctx context.Context, vendorSessionID string) ([]HistoryMessage, error)
	HistoryPage(ctx context.Context, vendorSessionID string, offset, limit int) (PaginatedHistory, error)
}

// Watcher subscribes to live transcript updates.
// Implementations without a watch mechanism return ErrCapabilityUnsupported.
type Watcher interface {
	Watch(ctx context.Context, projectPath, vendorSessionID string, fn func(SessionUpdate)) (WatchHandle, error)
	Unwatch(ctx context.Context, h WatchHandle) error
}

// Introspection lists what a plugin supports and which flags it exposes.
type Introspection interface {
	Capabilities() []Capability
	Flags() []Flag
}

// Plugin is the full capability contract.
type Plugin interface {
	Metadata
	Health
	Sessions
	Messaging
	HistorySource
	Watcher
	Introspection
}

// Constructor is the signature a shared-library plugin exports as NewPlugin.
type Constructor func() Plugin

// HasCapability reports whether p advertises c.
func HasCapability(p Introspection, c Capability) bool {
	for _, have := range p.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
