package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"print_kiosk/internal/model"
)

type countingStore struct {
	*GormStore
	gets int
}

func (c *countingStore) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	c.gets++
	return c.GormStore.GetFile(ctx, fileID)
}

func TestFileCache(t *testing.T) {
	inner := &countingStore{GormStore: newTestStore(t)}
	c := NewFileCache(inner, 16, time.Minute)
	ctx := context.Background()

	if err := c.PutFile(ctx, &model.FileRecord{FileID: "f1", OriginalName: "a.pdf", StoragePath: "/tmp/a.pdf", PageCount: 3}); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	got, err := c.GetFile(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.PageCount != 3 || inner.gets != 0 {
		t.Fatalf("page_count=%d inner gets=%d", got.PageCount, inner.gets)
	}

	// 修改返回值不影响缓存
	got.PageCount = 99
	again, _ := c.GetFile(ctx, "f1")
	if again.PageCount != 3 {
		t.Fatalf("cache mutated: %d", again.PageCount)
	}

	if _, err := c.GetFile(ctx, "missing"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
	if inner.gets != 1 {
		t.Fatalf("inner gets = %d, want 1", inner.gets)
	}

	// 订单方法透传
	seedOrder(t, inner.GormStore, "o1", model.OrderCreated)
	if _, err := c.GetOrder(ctx, "o1"); err != nil {
		t.Fatalf("GetOrder via cache: %v", err)
	}
}
