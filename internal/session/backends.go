package session

import (
	"regexp"
	"slices"
	"strconv"
)

// StdinThreshold is the message size above which messages go through
// stdin instead of argv, for backends that accept it.
const StdinThreshold = 16 * 1024

// initPrompt is sent by the one-shot init call that harvests a vendor id.
const initPrompt = "Reply with OK."

// Options are per-session CLI settings.
type Options struct {
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	MaxTurns       int    `json:"max_turns,omitempty"`
}

// Backend describes how to drive one agent CLI per message.
type Backend struct {
	Name    string
	Command string

	// BaseArgs come first on every invocation.
	BaseArgs []string

	// ResumeArgs continues an existing vendor session. Nil means the
	// backend cannot continue sessions.
	ResumeArgs func(vendorID string) []string

	// PermissionArgs renders a permission mode. Nil means unsupported.
	PermissionArgs func(mode string) []string

	ModelFlag    string
	MaxTurnsFlag string

	// PromptFlag precedes the message on argv. Empty means positional.
	PromptFlag string

	// Stdin reports whether the CLI reads the prompt from stdin. StdinArg
	// is passed in place of the message when it does.
	Stdin    bool
	StdinArg string

	// SessionIDPattern captures the vendor session id in group 1.
	SessionIDPattern *regexp.Regexp

	// InitArgs, when set, run once at Start to harvest a vendor id.
	InitArgs []string

	VersionArgs []string
}

// NeedsInit reports whether Start makes a one-shot init call.
func (b Backend) NeedsInit() bool { return len(b.InitArgs) > 0 }

// UseStdin reports whether message should be delivered through stdin.
func (b Backend) UseStdin(message string) bool {
	return b.Stdin && len(message) > StdinThreshold
}

// Args builds the argument list for one message.
func (b Backend) Args(message, vendorID string, opts Options, viaStdin bool) []string {
	args := slices.Clone(b.BaseArgs)
	if vendorID != "" && b.ResumeArgs != nil {
		args = append(args, b.ResumeArgs(vendorID)...)
	}
	if opts.PermissionMode != "" && b.PermissionArgs != nil {
		args = append(args, b.PermissionArgs(opts.PermissionMode)...)
	}
	if opts.Model != "" && b.ModelFlag != "" {
		args = append(args, b.ModelFlag, opts.Model)
	}
	if opts.MaxTurns > 0 && b.MaxTurnsFlag != "" {
		args = append(args, b.MaxTurnsFlag, strconv.Itoa(opts.MaxTurns))
	}
	if viaStdin {
		if b.StdinArg != "" {
			args = append(args, b.StdinArg)
		}
		return args
	}
	if b.PromptFlag != "" {
		args = append(args, b.PromptFlag)
	}
	return append(args, message)
}

// VendorID extracts a vendor session id from one output line.
func (b Backend) VendorID(line string) string {
	if b.SessionIDPattern == nil {
		return ""
	}
	if m := b.SessionIDPattern.FindStringSubmatch(line); len(m) > 1 {
		return m[1]
	}
	return ""
}

func flagArgs(flag string) func(string) []string {
	return func(v string) []string { return []string{flag, v} }
}

var jsonSessionID = regexp.MustCompile(`"session_id"\s*:\s*"([^"]+)"`)

// DefaultBackends is the built-in backend table.
func DefaultBackends() []Backend {
	return []Backend{
		{
			Name:             "claude",
			Command:          "claude",
			BaseArgs:         []string{"-p", "--output-format", "stream-json", "--verbose"},
			ResumeArgs:       flagArgs("--resume"),
			PermissionArgs:   flagArgs("--permission-mode"),
			ModelFlag:        "--model",
			MaxTurnsFlag:     "--max-turns",
			Stdin:            true,
			SessionIDPattern: jsonSessionID,
			InitArgs:         []string{"-p", "--output-format", "json", initPrompt},
			VersionArgs:      []string{"--version"},
		},
		{
			Name:       "codex",
			Command:    "codex",
			BaseArgs:   []string{"exec", "--json", "--skip-git-repo-check"},
			ResumeArgs: func(id string) []string { return []string{"resume", id} },
			PermissionArgs: func(mode string) []string {
				if mode == "full-auto" {
					return []string{"--full-auto"}
				}
				return []string{"--sandbox", mode}
			},
			ModelFlag:        "--model",
			Stdin:            true,
			StdinArg:         "-",
			SessionIDPattern: regexp.MustCompile(`"(?:thread_id|session_id)"\s*:\s*"([^"]+)"`),
			VersionArgs:      []string{"--version"},
		},
		{
			Name:             "gemini",
			Command:          "gemini",
			BaseArgs:         []string{"--output-format", "json"},
			ResumeArgs:       flagArgs("--resume"),
			PermissionArgs:   flagArgs("--approval-mode"),
			ModelFlag:        "--model",
			PromptFlag:       "--prompt",
			SessionIDPattern: jsonSessionID,
			VersionArgs:      []string{"--version"},
		},
		{
			Name:        "aider",
			Command:     "aider",
			BaseArgs:    []string{"--yes-always", "--no-pretty", "--no-stream"},
			ResumeArgs:  func(string) []string { return []string{"--restore-chat-history"} },
			ModelFlag:   "--model",
			PromptFlag:  "--message",
			VersionArgs: []string{"--version"},
		},
		{
			Name:             "opencode",
			Command:          "opencode",
			BaseArgs:         []string{"run", "--format", "json"},
			ResumeArgs:       flagArgs("--session"),
			ModelFlag:        "--model",
			SessionIDPattern: regexp.MustCompile(`"sessionID"\s*:\s*"([^"]+)"`),
			VersionArgs:      []string{"--version"},
		},
	}
}
