package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	Version, Commit, Date = "1.2.3", "abc123", "2026-01-02"
	t.Cleanup(func() { Version, Commit, Date = "dev", "unknown", "unknown" })

	got := String()
	if !strings.HasPrefix(got, "atelier 1.2.3 (commit: abc123, built: 2026-01-02, ") {
		t.Errorf("String() = %q", got)
	}
	if !strings.Contains(got, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("String() = %q, missing platform", got)
	}
}

func TestGet(t *testing.T) {
	Version, Commit = "1.2.3", "abc123"
	t.Cleanup(func() { Version, Commit = "dev", "unknown" })

	info := Get()
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Errorf("Get() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}
