package daemon

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pithecene-io/buildlink/types"
)

func testParams(t *testing.T) *Parameters {
	t.Helper()
	// Unix socket paths are length limited; keep the base dir short.
	dir, err := os.MkdirTemp("", "bl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return &Parameters{
		BaseDir:       dir,
		JavaHome:      "/jdk",
		JvmArgs:       []string{"-Xmx1g"},
		IdleTimeoutMs: time.Minute.Milliseconds(),
	}
}

func TestRegistry_ReadWithoutDaemon(t *testing.T) {
	r := NewRegistry(testParams(t))
	if _, err := r.Read(); !errors.Is(err, ErrNoDaemon) {
		t.Fatalf("Read = %v, want ErrNoDaemon", err)
	}
}

func TestRegistry_WriteReadRemove(t *testing.T) {
	p := testParams(t)
	r := NewRegistry(p)

	info := NewInfo(p, p.SocketPath())
	if err := r.Write(info); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Socket != info.Socket || got.PID != os.Getpid() || got.Version != types.Version {
		t.Errorf("Read = %+v, want %+v", got, info)
	}

	// Another pid's removal must not clear our registration.
	if err := r.Remove(os.Getpid() + 1); err != nil {
		t.Fatalf("Remove(other): %v", err)
	}
	if _, err := r.Read(); err != nil {
		t.Fatalf("registration removed by foreign pid: %v", err)
	}

	if err := r.Remove(os.Getpid()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, ErrNoDaemon) {
		t.Fatalf("Read after Remove = %v, want ErrNoDaemon", err)
	}
}

func TestRegistry_CorruptDiscoveryFile(t *testing.T) {
	p := testParams(t)
	if err := os.WriteFile(p.DiscoveryPath(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewRegistry(p).Read()
	if err == nil || errors.Is(err, ErrNoDaemon) {
		t.Fatalf("Read = %v, want parse error", err)
	}
}

func TestInfo_Compatible(t *testing.T) {
	p := testParams(t)
	info := NewInfo(p, "sock")
	if err := info.Compatible(p); err != nil {
		t.Fatalf("Compatible with own params: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(i *Info)
	}{
		{"version", func(i *Info) { i.Version = "0.0.1" }},
		{"java home", func(i *Info) { i.JavaHome = "/other" }},
		{"jvm args", func(i *Info) { i.JvmArgs = []string{"-Xmx4g"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := *info
			tt.mutate(&i)
			if err := i.Compatible(p); err == nil {
				t.Fatal("expected incompatibility")
			}
		})
	}
}

func TestInfo_Age(t *testing.T) {
	info := &Info{StartedAt: "2026-01-01T00:00:00Z"}
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	if got := info.Age(now); got != time.Hour {
		t.Errorf("Age = %v, want 1h", got)
	}
	if got := (&Info{StartedAt: "garbage"}).Age(now); got != 0 {
		t.Errorf("Age of unparsable start = %v, want 0", got)
	}
}
