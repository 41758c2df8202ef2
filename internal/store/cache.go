package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"print_kiosk/internal/model"
)

var (
	fileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "print_kiosk_file_cache_hits_total",
		Help: "File record cache hits",
	})
	fileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "print_kiosk_file_cache_misses_total",
		Help: "File record cache misses",
	})
)

// FileCache 在 Store 前加一层文件记录 LRU。文件记录上传后不可变，
// 只需 TTL 兜底内存占用；订单相关方法直接透传。
type FileCache struct {
	Store
	files *expirable.LRU[string, *model.FileRecord]
}

func NewFileCache(inner Store, size int, ttl time.Duration) *FileCache {
	return &FileCache{
		Store: inner,
		files: expirable.NewLRU[string, *model.FileRecord](size, nil, ttl),
	}
}

func (c *FileCache) PutFile(ctx context.Context, f *model.FileRecord) error {
	if err := c.Store.PutFile(ctx, f); err != nil {
		return err
	}
	cp := *f
	c.files.Add(f.FileID, &cp)
	return nil
}

// GetFile 返回副本，调用方修改不会污染缓存。
func (c *FileCache) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if f, ok := c.files.Get(fileID); ok {
		fileCacheHits.Inc()
		cp := *f
		return &cp, nil
	}
	fileCacheMisses.Inc()

	f, err := c.Store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	cp := *f
	c.files.Add(fileID, &cp)
	return f, nil
}
