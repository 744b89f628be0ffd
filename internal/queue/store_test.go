package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"reimagine/internal/queue"
	"reimagine/internal/testsupport"
)

func TestAppendPreservesCallOrder(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, testsupport.PNG("a.png"), testsupport.PNG("b.png"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := store.Append(ctx, testsupport.PNG("c.png"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("unexpected append results: %d, %d", len(first), len(second))
	}
	for _, item := range append(first, second...) {
		if item.Status != queue.StatusPending {
			t.Fatalf("expected pending, got %s", item.Status)
		}
		if item.Description != "" || item.Result != nil || item.ErrorMessage != "" {
			t.Fatalf("new item should be blank: %#v", item)
		}
	}

	// Update the first item several times; order must not change.
	for i := 0; i < 3; i++ {
		if _, err := store.Update(ctx, first[0].ID, queue.Patch{Description: queue.Ptr(fmt.Sprintf("pass %d", i))}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	want := []string{"a.png", "b.png", "c.png"}
	if len(all) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(all))
	}
	for i, item := range all {
		if item.Source.Name != want[i] {
			t.Fatalf("position %d: got %q want %q", i, item.Source.Name, want[i])
		}
	}
	if all[0].Description != "pass 2" {
		t.Fatalf("expected last description, got %q", all[0].Description)
	}
	if string(all[1].Source.Data) != string(testsupport.PNG("b.png").Data) {
		t.Fatalf("source bytes not preserved")
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	items := testsupport.AddItems(t, store, 2)
	if _, err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	again := testsupport.AddItems(t, store, 1)
	if again[0].ID <= items[1].ID {
		t.Fatalf("expected id greater than %d, got %d", items[1].ID, again[0].ID)
	}
}

func TestUpdateMergesOnlyPatchedFields(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	item := testsupport.AddItems(t, store, 1)[0]

	started := time.Now()
	ok, err := store.Update(ctx, item.ID, queue.Patch{
		Status:      queue.Ptr(queue.StatusAnalyzing),
		Description: queue.Ptr("a cat"),
		StartedAt:   &started,
	})
	if err != nil || !ok {
		t.Fatalf("Update failed: ok=%v err=%v", ok, err)
	}
	if _, err := store.Update(ctx, item.ID, queue.Patch{Status: queue.Ptr(queue.StatusGenerating)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got := testsupport.MustGet(t, store, item.ID)
	if got.Status != queue.StatusGenerating {
		t.Fatalf("expected generating, got %s", got.Status)
	}
	if got.Description != "a cat" {
		t.Fatalf("description overwritten: %q", got.Description)
	}
	if got.StartedAt == nil {
		t.Fatal("expected started timestamp to survive")
	}
	if got.Source.Name != item.Source.Name {
		t.Fatalf("source changed: %q", got.Source.Name)
	}
}

func TestUpdateMissingIDIsNoop(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ok, err := store.Update(context.Background(), 999, queue.Patch{Description: queue.Ptr("x")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatal("expected no row to change")
	}
	removed, err := store.Remove(context.Background(), 999)
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op removal, got %d, %v", removed, err)
	}
}

func TestUpdateIfStatusGuardsStaleWrites(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	item := testsupport.AddItems(t, store, 1)[0]

	ok, err := store.Update(ctx, item.ID, queue.Patch{
		IfStatus:    queue.Ptr(queue.StatusAnalyzing),
		Description: queue.Ptr("late partial"),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if ok {
		t.Fatal("expected guarded update to be skipped")
	}
	if got := testsupport.MustGet(t, store, item.ID); got.Description != "" {
		t.Fatalf("expected description untouched, got %q", got.Description)
	}
}

func TestStatusInvariantEnforced(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	item := testsupport.AddItems(t, store, 1)[0]

	if _, err := store.Update(ctx, item.ID, queue.Patch{Status: queue.Ptr(queue.StatusCompleted)}); err == nil {
		t.Fatal("expected completed without result to be rejected")
	}
	if _, err := store.Update(ctx, item.ID, queue.Patch{Status: queue.Ptr(queue.StatusError)}); err == nil {
		t.Fatal("expected error without message to be rejected")
	}

	ok, err := store.Update(ctx, item.ID, queue.Patch{
		Status: queue.Ptr(queue.StatusCompleted),
		Result: &queue.Image{URL: "https://cdn.example/out.png"},
	})
	if err != nil || !ok {
		t.Fatalf("expected completion to succeed: ok=%v err=%v", ok, err)
	}
	got := testsupport.MustGet(t, store, item.ID)
	if got.Result == nil || got.Result.URL != "https://cdn.example/out.png" {
		t.Fatalf("unexpected result: %#v", got.Result)
	}
}

func TestListSupportsStatusFilter(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	items := testsupport.AddItems(t, store, 3)

	if _, err := store.Update(ctx, items[1].ID, queue.Patch{
		Status:       queue.Ptr(queue.StatusError),
		ErrorMessage: queue.Ptr("boom"),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != items[0].ID || pending[1].ID != items[2].ID {
		t.Fatalf("unexpected pending list: %#v", pending)
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending failed: %v", err)
	}
	if next == nil || next.ID != items[0].ID {
		t.Fatalf("expected first pending item, got %#v", next)
	}

	failed, err := store.FindFirst(ctx, func(item *queue.Item) bool { return item.Status == queue.StatusError })
	if err != nil {
		t.Fatalf("FindFirst failed: %v", err)
	}
	if failed == nil || failed.ID != items[1].ID {
		t.Fatalf("expected failed item, got %#v", failed)
	}

	none, err := store.FindFirst(ctx, func(item *queue.Item) bool { return item.Status == queue.StatusCompleted })
	if err != nil || none != nil {
		t.Fatalf("expected no match, got %#v, %v", none, err)
	}
}

func TestRetryFailed(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	items := testsupport.AddItems(t, store, 2)

	finished := time.Now()
	if _, err := store.Update(ctx, items[0].ID, queue.Patch{
		Status:       queue.Ptr(queue.StatusError),
		Description:  queue.Ptr("partial text"),
		ErrorMessage: queue.Ptr("http 500"),
		ErrorKind:    queue.Ptr("stage_request_failed"),
		FinishedAt:   &finished,
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.RetryFailed(ctx, items[0].ID, items[1].ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the failed item to be retried, got %d", count)
	}

	got := testsupport.MustGet(t, store, items[0].ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.ErrorMessage != "" || got.ErrorKind != "" || got.Result != nil || got.Description != "" {
		t.Fatalf("expected retry to clear fields: %#v", got)
	}
	if got.FinishedAt != nil || got.StartedAt != nil {
		t.Fatal("expected timestamps cleared")
	}
}

func TestRemoveIfStatusRejectsActiveItems(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	items := testsupport.AddItems(t, store, 2)

	if _, err := store.Update(ctx, items[0].ID, queue.Patch{Status: queue.Ptr(queue.StatusAnalyzing)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	idle := []queue.Status{queue.StatusPending, queue.StatusCompleted, queue.StatusError}
	removed, err := store.RemoveIfStatus(ctx, items[0].ID, idle...)
	if err != nil {
		t.Fatalf("RemoveIfStatus failed: %v", err)
	}
	if removed {
		t.Fatal("expected active item to survive")
	}
	removed, err = store.RemoveIfStatus(ctx, items[1].ID, idle...)
	if err != nil || !removed {
		t.Fatalf("expected pending item removal: %v, %v", removed, err)
	}
}

func TestRemoveFinishedKeepsPending(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	items := testsupport.AddItems(t, store, 3)

	if _, err := store.Update(ctx, items[0].ID, queue.Patch{
		Status: queue.Ptr(queue.StatusCompleted),
		Result: &queue.Image{MIMEType: "image/png", Data: []byte("out")},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := store.Update(ctx, items[2].ID, queue.Patch{
		Status:       queue.Ptr(queue.StatusError),
		ErrorMessage: queue.Ptr("bad"),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	removed, err := store.RemoveFinished(ctx)
	if err != nil {
		t.Fatalf("RemoveFinished failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	remaining, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != items[1].ID || remaining[0].Status != queue.StatusPending {
		t.Fatalf("unexpected remaining items: %#v", remaining)
	}
}

func TestFailProcessing(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	items := testsupport.AddItems(t, store, 2)

	if _, err := store.Update(ctx, items[0].ID, queue.Patch{Status: queue.Ptr(queue.StatusGenerating)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	count, err := store.FailProcessing(ctx, queue.DaemonStopReason, "")
	if err != nil {
		t.Fatalf("FailProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 item failed, got %d", count)
	}
	got := testsupport.MustGet(t, store, items[0].ID)
	if got.Status != queue.StatusError || got.ErrorMessage != queue.DaemonStopReason {
		t.Fatalf("unexpected item: %#v", got)
	}
	if other := testsupport.MustGet(t, store, items[1].ID); other.Status != queue.StatusPending {
		t.Fatalf("pending item changed: %s", other.Status)
	}
}

func TestStatsTotalsAddUp(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	items := testsupport.AddItems(t, store, 5)

	patches := []queue.Patch{
		{Status: queue.Ptr(queue.StatusAnalyzing)},
		{Status: queue.Ptr(queue.StatusCompleted), Result: &queue.Image{Data: []byte("x")}},
		{Status: queue.Ptr(queue.StatusError), ErrorMessage: queue.Ptr("e")},
	}
	for i, patch := range patches {
		if _, err := store.Update(ctx, items[i].ID, patch); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := queue.Stats{Total: 5, Pending: 2, Analyzing: 1, Completed: 1, Failed: 1}
	if stats != want {
		t.Fatalf("got %+v want %+v", stats, want)
	}
	if stats.Total != stats.Pending+stats.Completed+stats.Failed+stats.Active() {
		t.Fatalf("totals do not add up: %+v", stats)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if folded := queue.StatsOf(all); folded != stats {
		t.Fatalf("StatsOf mismatch: %+v vs %+v", folded, stats)
	}
}

func TestConcurrentReadersSeeWholeDescriptions(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	item := testsupport.AddItems(t, store, 1)[0]

	values := map[string]struct{}{"": {}}
	for i := 1; i <= 50; i++ {
		values[fmt.Sprintf("partial-%03d", i)] = struct{}{}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			if _, err := store.Update(ctx, item.ID, queue.Patch{Description: queue.Ptr(fmt.Sprintf("partial-%03d", i))}); err != nil {
				t.Errorf("Update failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		got, err := store.GetByID(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if _, ok := values[got.Description]; !ok {
			t.Fatalf("observed torn description %q", got.Description)
		}
	}
	wg.Wait()
}

func TestHealthReportsSchema(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	testsupport.AddItems(t, store, 2)

	health, err := store.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("unexpected missing columns: %v", health.MissingColumns)
	}
	if health.TotalItems != 2 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected counts: %+v", health)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]queue.Status{
		"pending":     queue.StatusPending,
		" Analyzing ": queue.StatusAnalyzing,
		"failed":      queue.StatusError,
		"error":       queue.StatusError,
	}
	for input, want := range cases {
		got, ok := queue.ParseStatus(input)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := queue.ParseStatus("archived"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
