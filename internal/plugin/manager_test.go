package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/generic"
	"github.com/tessro/atelier/internal/manifest"
	"github.com/tessro/atelier/internal/settings"
)

const echoManifest = `
[plugin]
name = "echo"
display_name = "Echo"
version = "0.1.0"
cli_command = "echo"

[commands]
start_session = ["start"]
send_message = ["{message}"]

[[flags]]
id = "model"
flag = "--model"
label = "Model"
type = "select"
default = "small"
options = [
  { value = "small", label = "Small" },
  { value = "large", label = "Large" },
]

[[flags]]
id = "fast"
flag = "--fast"
label = "Fast"
type = "toggle"
`

func writePlugin(t *testing.T, root, name, file, content string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	store, err := settings.OpenPath(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(store)
	t.Cleanup(m.Close)
	return m
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", "plugin.toml", echoManifest)
	writePlugin(t, root, "yamlish", "plugin.yaml", `
plugin:
  name: yamlish
  cli_command: cat
commands:
  start_session: ["-"]
  send_message: ["{message}"]
`)
	// Invalid manifests skip only themselves.
	writePlugin(t, root, "broken", "plugin.toml", `
[plugin]
name = "broken"
cli_command = "x"
`)
	writePlugin(t, root, "no-manifest", "README.md", "nothing here")
	os.WriteFile(filepath.Join(root, "stray.toml"), []byte("x"), 0644)

	m := newManager(t)
	n, err := m.Discover(root)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Discover() = %d, want 2", n)
	}
	if got := m.Names(); !reflect.DeepEqual(got, []string{"echo", "yamlish"}) {
		t.Errorf("Names() = %v", got)
	}

	infos := m.List()
	if len(infos) != 2 || infos[0].Name != "echo" || infos[0].DisplayName != "Echo" {
		t.Errorf("List() = %+v", infos)
	}
}

func TestDiscover_MissingRoot(t *testing.T) {
	m := newManager(t)
	n, err := m.Discover(filepath.Join(t.TempDir(), "absent"))
	if err != nil || n != 0 {
		t.Errorf("Discover(missing) = %d, %v; want 0, nil", n, err)
	}
}

func TestDiscover_BadLibraryFallsBack(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "echo", "plugin.toml", echoManifest)
	// Not a real shared object: loading must fail and the manifest adapter
	// takes over.
	os.WriteFile(filepath.Join(dir, "echo.so"), []byte("not elf"), 0644)

	m := newManager(t)
	if n, _ := m.Discover(root); n != 1 {
		t.Fatalf("Discover() = %d, want 1", n)
	}
	p, err := m.Get("echo")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*generic.Adapter); !ok {
		t.Errorf("Get() = %T, want config adapter", p)
	}
}

func TestLibraryPath(t *testing.T) {
	dir := t.TempDir()
	mf := &manifest.Manifest{Dir: dir}

	if _, err := libraryPath(mf); !errors.Is(err, ErrNoLibrary) {
		t.Errorf("libraryPath(empty dir) = %v, want ErrNoLibrary", err)
	}

	os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "agent.so"), nil, 0644)
	got, err := libraryPath(mf)
	if err != nil || got != filepath.Join(dir, "agent.so") {
		t.Errorf("libraryPath() = %q, %v", got, err)
	}

	mf.Plugin.Library = "custom.dylib"
	if _, err := libraryPath(mf); !errors.Is(err, ErrNoLibrary) {
		t.Errorf("libraryPath(missing library key) = %v", err)
	}
	os.WriteFile(filepath.Join(dir, "custom.dylib"), nil, 0644)
	if got, _ := libraryPath(mf); got != filepath.Join(dir, "custom.dylib") {
		t.Errorf("libraryPath(library key) = %q", got)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	m := newManager(t)
	mf, err := manifest.Parse([]byte(echoManifest), "toml")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := generic.New(mf)
	b, _ := generic.New(mf)
	defer b.Close()

	if err := m.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(b); !errors.Is(err, ErrDuplicatePlugin) {
		t.Errorf("Register(duplicate) = %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	m := newManager(t)
	if _, err := m.Get("nope"); !errors.Is(err, backend.ErrPluginNotFound) {
		t.Errorf("Get() = %v", err)
	}
	if _, err := m.Flags("nope"); !errors.Is(err, backend.ErrPluginNotFound) {
		t.Errorf("Flags() = %v", err)
	}
	if _, err := m.Capabilities("nope"); !errors.Is(err, backend.ErrPluginNotFound) {
		t.Errorf("Capabilities() = %v", err)
	}
	if _, err := m.GetFlag("nope", "model"); !errors.Is(err, backend.ErrPluginNotFound) {
		t.Errorf("GetFlag() = %v", err)
	}
}

func TestFlagsAndSettings(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", "plugin.toml", echoManifest)
	m := newManager(t)
	m.Discover(root)
	ctx := context.Background()

	flags, err := m.Flags("echo")
	if err != nil || len(flags) != 2 {
		t.Fatalf("Flags() = %+v, %v", flags, err)
	}
	caps, _ := m.Capabilities("echo")
	if !reflect.DeepEqual(caps, []backend.Capability{backend.CapStreamingOutput, backend.CapMultiTurn}) {
		t.Errorf("Capabilities() = %v", caps)
	}

	if v, err := m.GetFlag("echo", "model"); err != nil || v != "small" {
		t.Errorf("GetFlag(default) = %q, %v", v, err)
	}
	if err := m.SetFlag(ctx, "echo", "model", "large"); err != nil {
		t.Fatalf("SetFlag() error = %v", err)
	}
	if v, _ := m.GetFlag("echo", "model"); v != "large" {
		t.Errorf("GetFlag() = %q, want large", v)
	}
	if err := m.SetFlag(ctx, "echo", "model", "huge"); !errors.Is(err, backend.ErrInvalidSettings) {
		t.Errorf("SetFlag(bad option) = %v", err)
	}
	if err := m.SetFlag(ctx, "echo", "missing", "x"); !errors.Is(err, backend.ErrInvalidSettings) {
		t.Errorf("SetFlag(unknown flag) = %v", err)
	}
	if _, err := m.GetFlag("echo", "missing"); !errors.Is(err, backend.ErrInvalidSettings) {
		t.Errorf("GetFlag(unknown flag) = %v", err)
	}
	m.SetFlag(ctx, "echo", "fast", "true")

	got, err := m.Settings("echo")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"model": "large", "fast": "true"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Settings() = %v, want %v", got, want)
	}
}

func TestSettings_DropsStaleFlags(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", "plugin.toml", echoManifest)
	store, _ := settings.OpenPath(filepath.Join(t.TempDir(), "s.toml"))
	store.Set("echo", "removed", "x")
	m := NewManager(store)
	defer m.Close()
	m.Discover(root)

	got, _ := m.Settings("echo")
	if _, ok := got["removed"]; ok {
		t.Errorf("Settings() = %v, kept stale flag", got)
	}
	if _, _, err := m.StartSession(context.Background(), "echo", t.TempDir()); err != nil {
		t.Errorf("StartSession() error = %v", err)
	}
}

func TestStartSession(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", "plugin.toml", echoManifest)
	m := newManager(t)
	m.Discover(root)
	ctx := context.Background()

	p, h, err := m.StartSession(ctx, "echo", t.TempDir())
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if p.Name() != "echo" || h.PluginName != "echo" || h.SessionID == "" {
		t.Errorf("StartSession() = %s, %+v", p.Name(), h)
	}
	if _, _, err := m.StartSession(ctx, "nope", t.TempDir()); !errors.Is(err, backend.ErrPluginNotFound) {
		t.Errorf("StartSession(unknown) = %v", err)
	}
	if _, _, err := m.ResumeSession(ctx, "echo", "v-1", t.TempDir()); !errors.Is(err, backend.ErrCapabilityUnsupported) {
		t.Errorf("ResumeSession(no resume capability) = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	want := []string{"aider", "claude-code", "codex", "gemini"}
	if got := DefaultNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("DefaultNames() = %v, want %v", got, want)
	}

	manifests, err := DefaultManifests()
	if err != nil {
		t.Fatalf("DefaultManifests() error = %v", err)
	}
	for _, mf := range manifests {
		if mf.Plugin.Color == "" || len(mf.Flags) == 0 {
			t.Errorf("%s: missing color or flags", mf.Plugin.Name)
		}
	}

	m := newManager(t)
	n, err := m.RegisterDefaults()
	if err != nil || n != len(want) {
		t.Errorf("RegisterDefaults() = %d, %v", n, err)
	}
	if n, _ := m.RegisterDefaults(); n != 0 {
		t.Errorf("RegisterDefaults() again = %d, want 0", n)
	}
}

func TestInstallDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")

	// A user-edited plugin is never overwritten.
	custom := writePlugin(t, dir, "aider", "plugin.toml", echoManifest)

	installed, err := InstallDefaults(dir)
	if err != nil {
		t.Fatalf("InstallDefaults() error = %v", err)
	}
	if !reflect.DeepEqual(installed, []string{"claude-code", "codex", "gemini"}) {
		t.Errorf("InstallDefaults() = %v", installed)
	}
	data, _ := os.ReadFile(filepath.Join(custom, "plugin.toml"))
	if string(data) != echoManifest {
		t.Error("InstallDefaults() overwrote an existing plugin")
	}
	if _, err := os.Stat(filepath.Join(dir, "gemini", "plugin.yaml")); err != nil {
		t.Errorf("gemini manifest missing: %v", err)
	}

	m := newManager(t)
	if n, _ := m.Discover(dir); n != 4 {
		t.Errorf("Discover(installed) = %d, want 4", n)
	}

	again, err := InstallDefaults(dir)
	if err != nil || len(again) != 0 {
		t.Errorf("InstallDefaults() again = %v, %v", again, err)
	}
}
