package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"reimagine/internal/daemon"
	"reimagine/internal/daemonctl"
	"reimagine/internal/eventlog"
	"reimagine/internal/ipc"
	"reimagine/internal/logging"
	"reimagine/internal/testsupport"
	"reimagine/internal/workflow"
)

func TestConnectWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.Connect(cfg.SocketPath()); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(cfg.SocketPath())
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected no daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
	if err := daemonctl.WaitForShutdown(cfg.SocketPath(), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	if _, err := daemonctl.Shutdown(cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning from Shutdown, got %v", err)
	}
}

func TestProcessInfoReportsPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, testsupport.MustOpenStore(t), eventlog.New(0), workflow.StageSet{
		Analyzer:  &testsupport.StubAnalyzer{},
		Generator: &testsupport.StubGenerator{},
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	server.Serve()
	defer server.Close()

	alive, pid, err := daemonctl.ProcessInfo(cfg.SocketPath())
	if err != nil || !alive {
		t.Fatalf("expected daemon reachable, got alive=%v err=%v", alive, err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
	client, err := daemonctl.Connect(cfg.SocketPath())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = client.Close()
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reimagine.pid")
	if _, err := daemonctl.ReadPIDFile(path); err == nil {
		t.Fatal("expected error for missing pid file")
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(4242)+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := daemonctl.ReadPIDFile(path)
	if err != nil || pid != 4242 {
		t.Fatalf("expected 4242, got %d (%v)", pid, err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := daemonctl.ReadPIDFile(path); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := daemonctl.Launch("  ", daemonctl.LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable path")
	}
}
