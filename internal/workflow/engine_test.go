package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reimagine/internal/eventlog"
	"reimagine/internal/queue"
	"reimagine/internal/services"
	"reimagine/internal/stage"
	"reimagine/internal/testsupport"
	"reimagine/internal/workflow"
)

type harness struct {
	store     *queue.Store
	events    *eventlog.Log
	analyzer  *testsupport.StubAnalyzer
	generator *testsupport.StubGenerator
	engine    *workflow.Engine
}

func newHarness(t *testing.T, settings workflow.SettingsSource) *harness {
	t.Helper()
	h := &harness{
		store:     testsupport.MustOpenStore(t),
		events:    eventlog.New(0),
		analyzer:  &testsupport.StubAnalyzer{},
		generator: &testsupport.StubGenerator{},
	}
	if settings == nil {
		settings = workflow.StaticSettings(workflow.Settings{StageTimeout: 5 * time.Second})
	}
	h.engine = workflow.NewEngine(h.store, h.events, nil, workflow.StageSet{
		Analyzer:  h.analyzer,
		Generator: h.generator,
	}, settings)
	return h
}

func waitIdle(t *testing.T, engine *workflow.Engine) {
	t.Helper()
	select {
	case <-engine.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not finish")
	}
}

func errorRecords(events *eventlog.Log) []eventlog.Record {
	var out []eventlog.Record
	for _, rec := range events.All() {
		if rec.Severity == eventlog.SeverityError {
			out = append(out, rec)
		}
	}
	return out
}

func TestEngineIsolatesItemFailure(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 3)
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		if image.Name == "img-2.png" {
			return "", services.Wrap(services.ErrStageRequest, stage.NameAnalysis, "post", "http 500", nil)
		}
		onPartial("partial")
		return "described " + image.Name, nil
	}

	if !h.engine.Start(context.Background()) {
		t.Fatal("expected Start to launch the loop")
	}
	waitIdle(t, h.engine)

	first := testsupport.MustGet(t, h.store, items[0].ID)
	second := testsupport.MustGet(t, h.store, items[1].ID)
	third := testsupport.MustGet(t, h.store, items[2].ID)

	if first.Status != queue.StatusCompleted || third.Status != queue.StatusCompleted {
		t.Fatalf("expected items 1 and 3 completed, got %s and %s", first.Status, third.Status)
	}
	if first.Result == nil || first.Description != "described img-1.png" || first.ErrorMessage != "" {
		t.Fatalf("unexpected completed item %+v", first)
	}
	if second.Status != queue.StatusError || second.Result != nil {
		t.Fatalf("expected item 2 failed without result, got %+v", second)
	}
	if second.ErrorMessage != "analysis: http 500" {
		t.Fatalf("error message = %q", second.ErrorMessage)
	}
	if second.ErrorKind != string(services.KindStageRequestFailed) {
		t.Fatalf("error kind = %q", second.ErrorKind)
	}

	errs := errorRecords(h.events)
	if len(errs) != 1 || errs[0].ItemID != items[1].ID {
		t.Fatalf("expected exactly one error record for item 2, got %+v", errs)
	}
	if calls := h.generator.Calls(); strings.Join(calls, ",") != "img-1.png,img-3.png" {
		t.Fatalf("generator calls = %v", calls)
	}

	all := h.events.All()
	last := all[len(all)-1]
	if last.Severity != eventlog.SeveritySuccess || !strings.HasPrefix(last.Message, "Batch finished") {
		t.Fatalf("expected finished record last, got %+v", last)
	}
	if last.Detail["completed"] != 2 || last.Detail["failed"] != 1 {
		t.Fatalf("unexpected summary detail %+v", last.Detail)
	}
}

func TestEngineStartIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	testsupport.AddItems(t, h.store, 2)
	release := make(chan struct{})
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		<-release
		return "described", nil
	}

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if h.engine.Start(context.Background()) {
				started.Add(1)
			}
		})
	}
	wg.Wait()
	if started.Load() != 1 {
		t.Fatalf("expected exactly one loop, got %d", started.Load())
	}
	if !h.engine.Running() {
		t.Fatal("expected engine running")
	}

	close(release)
	waitIdle(t, h.engine)
	if calls := h.analyzer.Calls(); len(calls) != 2 {
		t.Fatalf("expected each item analyzed once, got %v", calls)
	}
	if h.engine.Running() {
		t.Fatal("expected engine idle")
	}
	if !h.engine.Start(context.Background()) {
		t.Fatal("expected restart after idle")
	}
	waitIdle(t, h.engine)
}

func TestEngineStopLetsCurrentItemFinish(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 3)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		close(entered)
		<-release
		return "described", nil
	}

	h.engine.Start(context.Background())
	<-entered
	if got := testsupport.MustGet(t, h.store, items[0].ID).Status; got != queue.StatusAnalyzing {
		t.Fatalf("expected item 1 analyzing, got %s", got)
	}
	if !h.engine.RequestStop() {
		t.Fatal("expected RequestStop to report a running loop")
	}
	if !h.engine.StopRequested() {
		t.Fatal("expected stop to be pending")
	}
	close(release)
	waitIdle(t, h.engine)

	if got := testsupport.MustGet(t, h.store, items[0].ID).Status; got != queue.StatusCompleted {
		t.Fatalf("expected in-flight item to complete, got %s", got)
	}
	for _, item := range items[1:] {
		if got := testsupport.MustGet(t, h.store, item.ID).Status; got != queue.StatusPending {
			t.Fatalf("expected item %d pending, got %s", item.ID, got)
		}
	}
	all := h.events.All()
	if last := all[len(all)-1]; !strings.HasPrefix(last.Message, "Batch stopped") {
		t.Fatalf("expected stopped record, got %+v", last)
	}
	if h.engine.RequestStop() {
		t.Fatal("RequestStop on an idle engine should report false")
	}
}

func TestEngineStreamsPartialsIntoStore(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 1)
	id := items[0].ID
	var observed []string
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		for _, partial := range []string{"A", "A red", "A red barn"} {
			onPartial(partial)
			item, err := h.store.GetByID(context.Background(), id)
			if err != nil || item == nil {
				t.Errorf("GetByID during streaming: %v", err)
				return "", err
			}
			if item.Status != queue.StatusAnalyzing {
				t.Errorf("status during streaming = %s", item.Status)
			}
			observed = append(observed, item.Description)
		}
		return "  A red barn at dusk  ", nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	if strings.Join(observed, "|") != "A|A red|A red barn" {
		t.Fatalf("observed partials %q", observed)
	}
	item := testsupport.MustGet(t, h.store, id)
	if item.Description != "A red barn at dusk" {
		t.Fatalf("final description = %q", item.Description)
	}
	if descs := h.generator.Descriptions(); len(descs) != 1 || descs[0] != "A red barn at dusk" {
		t.Fatalf("generator received %q", descs)
	}
}

func TestEngineIgnoresStalePartials(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 1)
	var captured func(string)
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		captured = onPartial
		return "final", nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)
	captured("stale text")

	if got := testsupport.MustGet(t, h.store, items[0].ID).Description; got != "final" {
		t.Fatalf("stale partial overwrote description: %q", got)
	}
}

func TestEngineTimesOutStageCalls(t *testing.T) {
	h := newHarness(t, workflow.StaticSettings(workflow.Settings{StageTimeout: 50 * time.Millisecond}))
	items := testsupport.AddItems(t, h.store, 2)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		if image.Name == "img-1.png" {
			<-release // ignores its context
		}
		return "described", nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	failed := testsupport.MustGet(t, h.store, items[0].ID)
	if failed.Status != queue.StatusError || failed.ErrorKind != string(services.KindStageRequestFailed) {
		t.Fatalf("expected timeout failure, got %+v", failed)
	}
	if !strings.Contains(failed.ErrorMessage, "timed out") {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
	if got := testsupport.MustGet(t, h.store, items[1].ID).Status; got != queue.StatusCompleted {
		t.Fatalf("expected next item to complete, got %s", got)
	}
}

func TestEngineRecoversStagePanic(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 2)
	h.generator.Fn = func(ctx context.Context, image queue.Image, description string, cfg stage.Config) (queue.Image, error) {
		if image.Name == "img-1.png" {
			panic("boom")
		}
		return testsupport.GeneratedImage(image.Name, description), nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	failed := testsupport.MustGet(t, h.store, items[0].ID)
	if failed.Status != queue.StatusError || !strings.Contains(failed.ErrorMessage, "panicked") {
		t.Fatalf("expected panic failure, got %+v", failed)
	}
	if got := testsupport.MustGet(t, h.store, items[1].ID).Status; got != queue.StatusCompleted {
		t.Fatalf("expected next item to complete, got %s", got)
	}
}

func TestEngineRejectsEmptyStageOutput(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 2)
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		if image.Name == "img-1.png" {
			return "   ", nil
		}
		return "described", nil
	}
	h.generator.Fn = func(ctx context.Context, image queue.Image, description string, cfg stage.Config) (queue.Image, error) {
		return queue.Image{Name: "empty.png"}, nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	for i, wantStage := range []string{"analysis", "generation"} {
		item := testsupport.MustGet(t, h.store, items[i].ID)
		if item.Status != queue.StatusError || item.ErrorKind != string(services.KindMalformedStageResponse) {
			t.Fatalf("item %d: expected malformed failure, got %+v", i+1, item)
		}
		if !strings.HasPrefix(item.ErrorMessage, wantStage+":") {
			t.Fatalf("item %d: error message = %q", i+1, item.ErrorMessage)
		}
	}
}

func TestEngineMissingGeneratorFailsItems(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	events := eventlog.New(0)
	items := testsupport.AddItems(t, store, 2)
	engine := workflow.NewEngine(store, events, nil, workflow.StageSet{Analyzer: &testsupport.StubAnalyzer{}}, nil)

	engine.Start(context.Background())
	waitIdle(t, engine)

	for _, item := range items {
		got := testsupport.MustGet(t, store, item.ID)
		if got.Status != queue.StatusError || got.ErrorKind != string(services.KindMissingCredential) {
			t.Fatalf("expected unconfigured stage failure, got %+v", got)
		}
	}
	if len(errorRecords(events)) != 2 {
		t.Fatalf("expected one error record per item, got %d", len(errorRecords(events)))
	}

	health := engine.Status(context.Background()).StageHealth
	if health[stage.NameGeneration].Ready || !health[stage.NameAnalysis].Ready {
		t.Fatalf("unexpected stage health %+v", health)
	}
}

func TestEngineShutdownFailsActiveItem(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 2)
	entered := make(chan struct{})
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.engine.Start(ctx)
	<-entered
	cancel()
	waitIdle(t, h.engine)

	active := testsupport.MustGet(t, h.store, items[0].ID)
	if active.Status != queue.StatusError || active.ErrorMessage != queue.DaemonStopReason {
		t.Fatalf("expected daemon stopped failure, got %+v", active)
	}
	if got := testsupport.MustGet(t, h.store, items[1].ID).Status; got != queue.StatusPending {
		t.Fatalf("expected queued item untouched, got %s", got)
	}
	if len(errorRecords(h.events)) != 1 {
		t.Fatalf("expected one error record, got %d", len(errorRecords(h.events)))
	}
}

func TestEnginePacesBetweenItems(t *testing.T) {
	h := newHarness(t, workflow.StaticSettings(workflow.Settings{PacingDelay: 80 * time.Millisecond, StageTimeout: time.Second}))
	testsupport.AddItems(t, h.store, 2)

	started := time.Now()
	h.engine.Start(context.Background())
	waitIdle(t, h.engine)
	if elapsed := time.Since(started); elapsed < 160*time.Millisecond {
		t.Fatalf("expected pacing after each item, finished in %s", elapsed)
	}
}

func TestEngineStopInterruptsPacing(t *testing.T) {
	h := newHarness(t, workflow.StaticSettings(workflow.Settings{PacingDelay: time.Hour, StageTimeout: time.Second}))
	items := testsupport.AddItems(t, h.store, 2)

	h.engine.Start(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for testsupport.MustGet(t, h.store, items[0].ID).Status != queue.StatusCompleted {
		if time.Now().After(deadline) {
			t.Fatal("first item never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.engine.RequestStop()
	waitIdle(t, h.engine)

	if got := testsupport.MustGet(t, h.store, items[1].ID).Status; got != queue.StatusPending {
		t.Fatalf("expected second item pending, got %s", got)
	}
}

func TestEngineReadsSettingsPerItem(t *testing.T) {
	var model atomic.Value
	model.Store("model-a")
	settings := func() workflow.Settings {
		return workflow.Settings{
			Analysis:     stage.Config{Model: model.Load().(string)},
			StageTimeout: time.Second,
		}
	}
	h := newHarness(t, settings)
	testsupport.AddItems(t, h.store, 2)

	var seen []string
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		seen = append(seen, cfg.Model)
		model.Store("model-b")
		return "described", nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)
	if strings.Join(seen, ",") != "model-a,model-b" {
		t.Fatalf("models seen = %v", seen)
	}
}

func TestEngineEmptyQueueFinishesImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	all := h.events.All()
	if len(all) != 2 || !strings.HasPrefix(all[1].Message, "Batch finished") {
		t.Fatalf("unexpected records %+v", all)
	}
}

func TestEngineStatusReportsLastItem(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 1)
	h.generator.Fn = func(ctx context.Context, image queue.Image, description string, cfg stage.Config) (queue.Image, error) {
		return queue.Image{}, errors.New("provider exploded")
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	summary := h.engine.Status(context.Background())
	if summary.Running || summary.LastItem == nil || summary.LastItem.ID != items[0].ID {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.LastItem.ErrorMessage != "generation: provider exploded" {
		t.Fatalf("last item error = %q", summary.LastItem.ErrorMessage)
	}
	if summary.QueueStats.Failed != 1 || summary.QueueStats.Total != 1 {
		t.Fatalf("unexpected stats %+v", summary.QueueStats)
	}
}

func TestEngineClassifiesUnwrappedStageErrors(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 1)
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		return "", errors.New("connection reset by peer")
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	got := testsupport.MustGet(t, h.store, items[0].ID)
	if got.Status != queue.StatusError {
		t.Fatalf("expected failed item, got %s", got.Status)
	}
	if got.ErrorKind != string(services.KindStageRequestFailed) {
		t.Fatalf("error kind = %q, want %q", got.ErrorKind, services.KindStageRequestFailed)
	}
	if got.ErrorMessage != "analysis: connection reset by peer" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestEngineHaltFailsInFlightItem(t *testing.T) {
	h := newHarness(t, nil)
	items := testsupport.AddItems(t, h.store, 2)
	h.analyzer.Fn = func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
		// Move the item behind the engine's back so the next transition fails.
		if _, err := h.store.Update(context.Background(), items[0].ID, queue.Patch{Status: queue.Ptr(queue.StatusGenerating)}); err != nil {
			t.Errorf("store.Update: %v", err)
		}
		return "a description", nil
	}

	h.engine.Start(context.Background())
	waitIdle(t, h.engine)

	halted := testsupport.MustGet(t, h.store, items[0].ID)
	if halted.Status != queue.StatusError {
		t.Fatalf("expected halted item to be failed, got %s", halted.Status)
	}
	if !strings.HasPrefix(halted.ErrorMessage, "batch halted: ") {
		t.Fatalf("error message = %q", halted.ErrorMessage)
	}
	if halted.ErrorKind != string(services.KindStageRequestFailed) {
		t.Fatalf("error kind = %q", halted.ErrorKind)
	}
	if got := testsupport.MustGet(t, h.store, items[1].ID).Status; got != queue.StatusPending {
		t.Fatalf("expected untouched pending item, got %s", got)
	}
	if summary := h.engine.Status(context.Background()); summary.LastError == "" {
		t.Fatal("expected halt error in status")
	}
}
