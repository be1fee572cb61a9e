package generic

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/id"
	"github.com/tessro/atelier/internal/manifest"
)

// Watch tails the vendor transcript named by the manifest's
// [watch] transcript_path. Manifests without it cannot be watched.
func (a *Adapter) Watch(ctx context.Context, projectPath, vendorSessionID string, fn func(backend.SessionUpdate)) (backend.WatchHandle, error) {
	if a.m.Watch.TranscriptPath == "" {
		return backend.WatchHandle{}, fmt.Errorf("%s: watch: %w", a.Name(), backend.ErrCapabilityUnsupported)
	}
	path, err := a.TranscriptPath(projectPath, vendorSessionID)
	if err != nil {
		return backend.WatchHandle{}, err
	}

	h := backend.WatchHandle{
		ID:              id.Short(),
		PluginName:      a.Name(),
		VendorSessionID: vendorSessionID,
	}
	if err := a.watcher.Watch(h.ID, path, fn); err != nil {
		return backend.WatchHandle{}, err
	}

	a.mu.Lock()
	a.watches[h.ID] = h
	a.mu.Unlock()

	a.log.Info("watching transcript", "watch", h.ID, "path", path)
	return h, nil
}

// Unwatch cancels a watch. An empty handle is a no-op.
func (a *Adapter) Unwatch(ctx context.Context, h backend.WatchHandle) error {
	if h.ID == "" {
		return nil
	}
	a.mu.Lock()
	_, ok := a.watches[h.ID]
	delete(a.watches, h.ID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: watch %s", backend.ErrSessionNotFound, h.ID)
	}
	a.watcher.Unwatch(h.ID)
	return nil
}

// TranscriptPath expands the transcript template for one session.
func (a *Adapter) TranscriptPath(projectPath, vendorSessionID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	out := manifest.Substitute([]string{a.m.Watch.TranscriptPath}, map[string]string{
		"home":         home,
		"project_path": projectPath,
		"project_slug": ProjectSlug(projectPath),
		"session_id":   vendorSessionID,
	})
	return out[0], nil
}

// ProjectSlug replaces every non-alphanumeric rune of path with '-', the
// scheme CLIs use to name per-project transcript directories.
func ProjectSlug(path string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '-'
	}, path)
}
