package generic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/manifest"
	"github.com/tessro/atelier/internal/proc"
)

// ErrEmptyVersion is returned when no version probe printed anything.
var ErrEmptyVersion = errors.New("cli printed no version")

// versionProbes are tried in order when the manifest has no get_version.
var versionProbes = [][]string{{"--version"}, {"-v"}, {"-V"}, {"version"}}

type sessionRecord struct {
	SessionID    string `json:"session_id"`
	StartedAt    int64  `json:"started_at"`
	LastActivity int64  `json:"last_activity"`
	MessageCount int    `json:"message_count"`
	Status       string `json:"status"`
}

// ListSessions runs list_sessions and parses its JSON array. Without the
// template it returns no sessions.
func (a *Adapter) ListSessions(ctx context.Context, projectPath string) ([]backend.SessionInfo, error) {
	template := a.m.Commands.ListSessions
	if len(template) == 0 {
		return nil, nil
	}
	args := manifest.Substitute(template, map[string]string{"project_path": projectPath})
	out, err := proc.Output(ctx, projectPath, a.m.Plugin.CLICommand, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var records []sessionRecord
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, fmt.Errorf("list sessions: decode output: %w", err)
	}
	infos := make([]backend.SessionInfo, 0, len(records))
	for _, r := range records {
		if r.SessionID == "" {
			continue
		}
		infos = append(infos, backend.SessionInfo{
			VendorSessionID: r.SessionID,
			StartedAt:       r.StartedAt,
			LastActivity:    r.LastActivity,
			MessageCount:    r.MessageCount,
			Status:          r.Status,
		})
	}
	return infos, nil
}

// History runs get_history and decodes its JSON array. Entries without a
// role or content are skipped. Without the template it returns nothing.
func (a *Adapter) History(ctx context.Context, vendorSessionID string) ([]backend.HistoryMessage, error) {
	template := a.m.Commands.GetHistory
	if len(template) == 0 {
		return nil, nil
	}
	args := manifest.Substitute(template, map[string]string{"session_id": vendorSessionID})
	out, err := proc.Output(ctx, "", a.m.Plugin.CLICommand, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	msgs, err := backend.DecodeMessages(out, a.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return msgs, nil
}

// HistoryPage returns one page of history, most recent first, cut at the
// latest continuation marker. A non-positive limit yields an empty page.
func (a *Adapter) HistoryPage(ctx context.Context, vendorSessionID string, offset, limit int) (backend.PaginatedHistory, error) {
	msgs, err := a.History(ctx, vendorSessionID)
	if err != nil {
		return backend.PaginatedHistory{}, err
	}
	return a.detector.Paginate(msgs, offset, limit), nil
}

// CLIVersion returns the first non-empty line printed by a version probe.
func (a *Adapter) CLIVersion(ctx context.Context) (string, error) {
	probes := versionProbes
	if len(a.m.Commands.GetVersion) > 0 {
		probes = [][]string{a.m.Commands.GetVersion}
	}

	var lastErr error
	for _, args := range probes {
		v, err := a.probeVersion(ctx, args)
		if err != nil {
			lastErr = err
			continue
		}
		if v != "" {
			return v, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrEmptyVersion
}

func (a *Adapter) probeVersion(ctx context.Context, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := proc.Output(ctx, "", a.m.Plugin.CLICommand, args...)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", nil
}
