package ipc_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reimagine/internal/api"
	"reimagine/internal/daemon"
	"reimagine/internal/eventlog"
	"reimagine/internal/ipc"
	"reimagine/internal/logging"
	"reimagine/internal/queue"
	"reimagine/internal/services"
	"reimagine/internal/stage"
	"reimagine/internal/testsupport"
	"reimagine/internal/workflow"
)

func startServer(t *testing.T, stages workflow.StageSet) (*daemon.Daemon, *ipc.Client) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t)
	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, eventlog.New(0), stages, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close(context.Background())
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return d, client
}

func png(name string) ipc.File {
	img := testsupport.PNG(name)
	return ipc.File{Name: img.Name, Data: img.Data}
}

func waitIdle(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("batch did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIPCServerClient(t *testing.T) {
	analyzer := &testsupport.StubAnalyzer{}
	analyzer.Fn = func(_ context.Context, image queue.Image, _ stage.Config, _ func(string)) (string, error) {
		if image.Name == "bad.png" {
			return "", services.Wrap(services.ErrStageRequest, stage.NameAnalysis, "post", "", errors.New("http 500"))
		}
		return "a photo of " + image.Name, nil
	}
	d, client := startServer(t, workflow.StageSet{Analyzer: analyzer, Generator: &testsupport.StubGenerator{}})

	addResp, err := client.AddFiles([]ipc.File{png("good.png"), png("bad.png")})
	if err != nil {
		t.Fatalf("AddFiles: %v", err)
	}
	if len(addResp.Items) != 2 || addResp.Items[0].Name != "good.png" || addResp.Items[0].SourceMimeType != "image/png" {
		t.Fatalf("unexpected add response %+v", addResp.Items)
	}
	good, bad := addResp.Items[0].ID, addResp.Items[1].ID

	if _, err := client.AddFiles([]ipc.File{{Name: "notes.txt", Data: []byte("plain text")}}); err == nil {
		t.Fatal("expected non-image upload to fail")
	}

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}
	waitIdle(t, d)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Workflow.Running || status.Workflow.QueueStats.Completed != 1 || status.Workflow.QueueStats.Failed != 1 {
		t.Fatalf("unexpected status %+v", status.Workflow)
	}
	if status.PID == 0 || len(status.Workflow.StageHealth) != 2 {
		t.Fatalf("unexpected runtime info %+v", status.DaemonStatus)
	}

	listResp, err := client.QueueList([]string{"failed"})
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if len(listResp.Items) != 1 || listResp.Items[0].ID != bad || listResp.Stats.Total != 2 {
		t.Fatalf("unexpected failed listing %+v", listResp)
	}
	if _, err := client.QueueList([]string{"bogus"}); err == nil {
		t.Fatal("expected unknown status to fail")
	}

	describe, err := client.QueueDescribe(bad)
	if err != nil {
		t.Fatalf("QueueDescribe: %v", err)
	}
	if describe.Item.ErrorKind != string(services.KindStageRequestFailed) || !strings.HasPrefix(describe.Item.ErrorMessage, "analysis:") {
		t.Fatalf("unexpected failed item %+v", describe.Item)
	}
	if _, err := client.QueueDescribe(999); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}

	result, err := client.QueueResult(good)
	if err != nil {
		t.Fatalf("QueueResult: %v", err)
	}
	want := testsupport.GeneratedImage("good.png", "a photo of good.png")
	if result.Result.Name != want.Name || string(result.Result.Data) != string(want.Data) {
		t.Fatalf("unexpected result %+v", result.Result)
	}
	if _, err := client.QueueResult(bad); err == nil {
		t.Fatal("expected failed item to have no result")
	}

	retry, err := client.QueueRetry(nil)
	if err != nil {
		t.Fatalf("QueueRetry: %v", err)
	}
	if retry.RetriedCount != 1 || len(retry.Items) != 1 || retry.Items[0].ID != bad {
		t.Fatalf("unexpected retry result %+v", retry.RetryItemsResult)
	}

	remove, err := client.QueueRemove([]int64{bad, 999})
	if err != nil {
		t.Fatalf("QueueRemove: %v", err)
	}
	if remove.RemovedCount != 1 || remove.Items[1].Outcome != api.RemoveItemNotFound {
		t.Fatalf("unexpected remove result %+v", remove.RemoveItemsResult)
	}

	cleared, err := client.QueueClearFinished()
	if err != nil {
		t.Fatalf("QueueClearFinished: %v", err)
	}
	if !cleared.Applied || cleared.Count != 1 {
		t.Fatalf("unexpected clear result %+v", cleared.BulkActionResult)
	}

	health, err := client.DatabaseHealth()
	if err != nil {
		t.Fatalf("DatabaseHealth: %v", err)
	}
	if !health.TableExists || health.TotalItems != 0 {
		t.Fatalf("unexpected health %+v", health)
	}

	stop, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stop.Stopping {
		t.Fatal("stop on idle daemon should report nothing running")
	}
}

func TestIPCLogTail(t *testing.T) {
	d, client := startServer(t, workflow.StageSet{})
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if _, err := client.AddFiles([]ipc.File{png(name)}); err != nil {
			t.Fatalf("AddFiles: %v", err)
		}
	}

	tail, err := client.LogTail(ipc.LogTailRequest{Tail: true, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail: %v", err)
	}
	if len(tail.Records) != 2 || tail.Next != tail.Records[1].Seq {
		t.Fatalf("unexpected tail %+v", tail.LogBatch)
	}

	followDone := make(chan ipc.LogTailResponse, 1)
	go func(since uint64) {
		resp, err := client.LogTail(ipc.LogTailRequest{Since: since, Follow: true, WaitMillis: 2000})
		if err != nil {
			t.Errorf("LogTail follow: %v", err)
			followDone <- ipc.LogTailResponse{}
			return
		}
		followDone <- *resp
	}(tail.Next)

	time.Sleep(100 * time.Millisecond)
	d.Events().Append(eventlog.SeverityWarning, "disk is fine", nil)

	select {
	case resp := <-followDone:
		if len(resp.Records) != 1 || resp.Records[0].Message != "disk is fine" || resp.Records[0].Severity != "warning" {
			t.Fatalf("unexpected follow records %+v", resp.Records)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("log tail follow timed out")
	}

	idle, err := client.LogTail(ipc.LogTailRequest{Since: tail.Next + 1, Follow: true, WaitMillis: 50})
	if err != nil {
		t.Fatalf("LogTail idle follow: %v", err)
	}
	if len(idle.Records) != 0 {
		t.Fatalf("expected no new records, got %+v", idle.Records)
	}

	if _, err := client.LogClear(); err != nil {
		t.Fatalf("LogClear: %v", err)
	}
	if d.Events().Len() != 0 {
		t.Fatal("expected event log to be empty")
	}
}
