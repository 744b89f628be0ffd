package testsupport

import (
	"context"
	"fmt"
	"testing"

	"reimagine/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB) *queue.Store {
	t.Helper()

	store, err := queue.Open(context.Background())
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// PNG returns a small source image with the given name.
func PNG(name string) queue.Image {
	return queue.Image{
		Name:     name,
		MIMEType: "image/png",
		Data:     []byte(pngSignature + name),
	}
}

// AddItems appends count pending items named img-1.png, img-2.png, ...
func AddItems(t testing.TB, store *queue.Store, count int) []*queue.Item {
	t.Helper()

	sources := make([]queue.Image, count)
	for i := range sources {
		sources[i] = PNG(fmt.Sprintf("img-%d.png", i+1))
	}
	items, err := store.Append(context.Background(), sources...)
	if err != nil {
		t.Fatalf("store.Append: %v", err)
	}
	return items
}

// MustGet fetches an item and fails the test when it is missing.
func MustGet(t testing.TB, store *queue.Store, id int64) *queue.Item {
	t.Helper()

	item, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("store.GetByID(%d): %v", id, err)
	}
	if item == nil {
		t.Fatalf("item %d not found", id)
	}
	return item
}
