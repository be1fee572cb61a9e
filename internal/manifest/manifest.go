// Package manifest loads declarative plugin manifests.
//
// A manifest describes a CLI backend entirely through configuration:
// metadata, capability booleans, argument templates with {variable}
// placeholders, and output parsing rules. Manifests are TOML (plugin.toml)
// or YAML (plugin.yaml / plugin.yml).
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/config"
	"gopkg.in/yaml.v3"
)

// Validation errors.
var (
	ErrMissingCLICommand = errors.New("cli_command cannot be empty")
	ErrMissingCommand    = errors.New("required command template is empty")
	ErrInvalidPattern    = errors.New("invalid regular expression")
	ErrInvalidFlag       = errors.New("invalid flag definition")
	ErrUnknownFormat     = errors.New("unknown manifest format")
	ErrNoManifest        = errors.New("no manifest found")
)

// FileNames are the manifest file names searched in a plugin directory,
// in priority order.
var FileNames = []string{"plugin.toml", "plugin.yaml", "plugin.yml"}

// Output formats understood by the session-id extractor.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Manifest is a parsed plugin manifest.
type Manifest struct {
	Plugin        PluginSection        `toml:"plugin" yaml:"plugin"`
	Capabilities  CapabilitiesSection  `toml:"capabilities" yaml:"capabilities"`
	Commands      CommandsSection      `toml:"commands" yaml:"commands"`
	OutputParsing OutputParsingSection `toml:"output_parsing" yaml:"output_parsing"`
	History       HistorySection       `toml:"history" yaml:"history"`
	Watch         WatchSection         `toml:"watch" yaml:"watch"`
	Flags         []backend.Flag       `toml:"flags" yaml:"flags"`

	// Dir is the directory the manifest was loaded from.
	Dir string `toml:"-" yaml:"-"`
}

// PluginSection is the [plugin] table.
type PluginSection struct {
	Name        string `toml:"name" yaml:"name"`
	DisplayName string `toml:"display_name" yaml:"display_name"`
	Version     string `toml:"version" yaml:"version"`
	Description string `toml:"description" yaml:"description"`
	Author      string `toml:"author" yaml:"author"`
	Homepage    string `toml:"homepage" yaml:"homepage"`
	CLICommand  string `toml:"cli_command" yaml:"cli_command"`
	Icon        string `toml:"icon" yaml:"icon"`
	Color       string `toml:"color" yaml:"color"`

	// Library optionally names the shared library to load, relative to Dir.
	Library string `toml:"library" yaml:"library"`
}

// CapabilitiesSection is the [capabilities] table.
type CapabilitiesSection struct {
	SessionResume   bool `toml:"session_resume" yaml:"session_resume"`
	StreamingOutput bool `toml:"streaming_output" yaml:"streaming_output"`
	ToolUse         bool `toml:"tool_use" yaml:"tool_use"`
	MultiTurn       bool `toml:"multi_turn" yaml:"multi_turn"`
	FileContext     bool `toml:"file_context" yaml:"file_context"`
	Thinking        bool `toml:"thinking" yaml:"thinking"`
}

// List returns the enabled capabilities.
func (c CapabilitiesSection) List() []backend.Capability {
	var caps []backend.Capability
	add := func(on bool, cap backend.Capability) {
		if on {
			caps = append(caps, cap)
		}
	}
	add(c.SessionResume, backend.CapSessionResume)
	add(c.StreamingOutput, backend.CapStreamingOutput)
	add(c.ToolUse, backend.CapToolUse)
	add(c.MultiTurn, backend.CapMultiTurn)
	add(c.FileContext, backend.CapFileContext)
	add(c.Thinking, backend.CapThinking)
	return caps
}

// CommandsSection holds argument templates. Each template is the argument
// list passed to cli_command after {variable} substitution.
type CommandsSection struct {
	StartSession  []string `toml:"start_session" yaml:"start_session"`
	SendMessage   []string `toml:"send_message" yaml:"send_message"`
	ResumeSession []string `toml:"resume_session" yaml:"resume_session"`
	ListSessions  []string `toml:"list_sessions" yaml:"list_sessions"`
	GetHistory    []string `toml:"get_history" yaml:"get_history"`
	GetVersion    []string `toml:"get_version" yaml:"get_version"`
}

// OutputParsingSection is the [output_parsing] table.
type OutputParsingSection struct {
	// SessionIDPattern captures the vendor session id in group 1.
	SessionIDPattern string `toml:"session_id_pattern" yaml:"session_id_pattern"`

	// OutputFormat is "text" or "json".
	OutputFormat string `toml:"output_format" yaml:"output_format"`

	// SessionIDJSONPath is a dotted path (e.g. "result.session_id") read
	// from JSON output lines when OutputFormat is "json".
	SessionIDJSONPath string `toml:"session_id_json_path" yaml:"session_id_json_path"`
}

// HistorySection is the [history] table.
type HistorySection struct {
	ContinuationMarkers []string `toml:"continuation_markers" yaml:"continuation_markers"`
	AnalysisMinLength   int      `toml:"analysis_min_length" yaml:"analysis_min_length"`
}

// WatchSection is the [watch] table.
type WatchSection struct {
	// TranscriptPath is a template for the vendor transcript file. Supports
	// {home}, {project_path}, {project_slug}, and {session_id}.
	TranscriptPath string `toml:"transcript_path" yaml:"transcript_path"`
}

// New returns a manifest with default capability and parsing values.
func New() *Manifest {
	return &Manifest{
		Capabilities: CapabilitiesSection{
			StreamingOutput: true,
			MultiTurn:       true,
		},
		OutputParsing: OutputParsingSection{
			OutputFormat: FormatText,
		},
	}
}

// Parse decodes a manifest. format is "toml" or "yaml".
func Parse(data []byte, format string) (*Manifest, error) {
	m := New()
	switch format {
	case "toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(m); err != nil {
			return nil, fmt.Errorf("decode toml manifest: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("decode yaml manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if m.OutputParsing.OutputFormat == "" {
		m.OutputParsing.OutputFormat = FormatText
	}
	return m, nil
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Find returns the manifest path inside dir, if any.
func Find(dir string) (string, bool) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// LoadDir loads the manifest from a plugin directory.
func LoadDir(dir string) (*Manifest, error) {
	path, ok := Find(dir)
	if !ok {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}
	return Load(path)
}

// Validate checks that the manifest can drive a CLI.
func (m *Manifest) Validate() error {
	if err := config.ValidatePluginName(m.Plugin.Name); err != nil {
		return err
	}
	if strings.TrimSpace(m.Plugin.CLICommand) == "" {
		return &config.ValidationError{
			Field:   "plugin.cli_command",
			Message: "cannot be empty",
			Err:     ErrMissingCLICommand,
		}
	}
	if len(m.Commands.StartSession) == 0 {
		return &config.ValidationError{
			Field:   "commands.start_session",
			Message: "cannot be empty",
			Err:     ErrMissingCommand,
		}
	}
	if len(m.Commands.SendMessage) == 0 {
		return &config.ValidationError{
			Field:   "commands.send_message",
			Message: "cannot be empty",
			Err:     ErrMissingCommand,
		}
	}
	if _, err := m.SessionIDRegex(); err != nil {
		return err
	}
	switch m.OutputParsing.OutputFormat {
	case FormatText, FormatJSON:
	default:
		return &config.ValidationError{
			Field:   "output_parsing.output_format",
			Value:   m.OutputParsing.OutputFormat,
			Message: "must be text or json",
			Err:     ErrUnknownFormat,
		}
	}
	return m.validateFlags()
}

func (m *Manifest) validateFlags() error {
	seen := make(map[string]bool, len(m.Flags))
	for i, f := range m.Flags {
		field := fmt.Sprintf("flags[%d]", i)
		switch {
		case f.ID == "":
			return &config.ValidationError{Field: field + ".id", Message: "cannot be empty", Err: ErrInvalidFlag}
		case seen[f.ID]:
			return &config.ValidationError{Field: field + ".id", Value: f.ID, Message: "is duplicated", Err: ErrInvalidFlag}
		case f.Flag == "":
			return &config.ValidationError{Field: field + ".flag", Message: "cannot be empty", Err: ErrInvalidFlag}
		}
		switch f.Type {
		case backend.FlagToggle, backend.FlagString:
		case backend.FlagSelect:
			if len(f.Options) == 0 {
				return &config.ValidationError{Field: field + ".options", Value: f.ID, Message: "select flags need options", Err: ErrInvalidFlag}
			}
		default:
			return &config.ValidationError{Field: field + ".type", Value: string(f.Type), Message: "must be toggle, select, or string", Err: ErrInvalidFlag}
		}
		seen[f.ID] = true
	}
	return nil
}

// SessionIDRegex compiles the session id pattern. It returns nil, nil when
// no pattern is configured.
func (m *Manifest) SessionIDRegex() (*regexp.Regexp, error) {
	if m.OutputParsing.SessionIDPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(m.OutputParsing.SessionIDPattern)
	if err != nil {
		return nil, &config.ValidationError{
			Field:   "output_parsing.session_id_pattern",
			Value:   m.OutputParsing.SessionIDPattern,
			Message: err.Error(),
			Err:     ErrInvalidPattern,
		}
	}
	return re, nil
}

// Flag returns the flag definition with the given id.
func (m *Manifest) Flag(id string) (backend.Flag, bool) {
	for _, f := range m.Flags {
		if f.ID == id {
			return f, true
		}
	}
	return backend.Flag{}, false
}

// Substitute replaces {key} placeholders in each template argument with
// vars[key]. Substitution is literal; unknown placeholders are left intact.
func Substitute(template []string, vars map[string]string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, "{"+k+"}", v)
		}
		out[i] = arg
	}
	return out
}
