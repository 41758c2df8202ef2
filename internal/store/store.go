// Package store 用 gorm 持久化文件与订单记录。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"print_kiosk/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleStatus 条件更新时订单状态已不是期望值（并发迁移或重复回调）。
	ErrStaleStatus = errors.New("order status changed concurrently")
	// ErrStorageUnavailable 包装所有底层存储错误，本层不做重试。
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// MaxTransactions 交易列表单次返回上限。
const MaxTransactions = 100

// OrderPatch 订单局部更新；nil 字段不更新。
type OrderPatch struct {
	Status         *model.OrderStatus
	PaymentID      *string
	CollectionCode *int
	PrintJobID     *string
	FailureReason  *string
	PaidAt         *time.Time
	CompletedAt    *time.Time
}

func (p OrderPatch) columns() map[string]any {
	m := make(map[string]any, 7)
	if p.Status != nil {
		m["status"] = *p.Status
	}
	if p.PaymentID != nil {
		m["payment_id"] = *p.PaymentID
	}
	if p.CollectionCode != nil {
		m["collection_code"] = *p.CollectionCode
	}
	if p.PrintJobID != nil {
		m["print_job_id"] = *p.PrintJobID
	}
	if p.FailureReason != nil {
		m["failure_reason"] = *p.FailureReason
	}
	if p.PaidAt != nil {
		m["paid_at"] = *p.PaidAt
	}
	if p.CompletedAt != nil {
		m["completed_at"] = *p.CompletedAt
	}
	return m
}

// TransactionFilter 交易查询条件，零值字段不参与过滤。
type TransactionFilter struct {
	From   time.Time
	To     time.Time
	Status model.OrderStatus
}

// Store 核心逻辑依赖的订单/文件存储。
type Store interface {
	PutFile(ctx context.Context, f *model.FileRecord) error
	GetFile(ctx context.Context, fileID string) (*model.FileRecord, error)
	PutOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	// UpdateOrder 局部更新订单；expect 非空时做状态 compare-and-swap，
	// 状态不匹配返回 ErrStaleStatus。
	UpdateOrder(ctx context.Context, orderID string, expect model.OrderStatus, patch OrderPatch) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error)
	Ping(ctx context.Context) error
}

// GormStore 基于 gorm 的 Store 实现。
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// OpenSQLite 打开 SQLite 并自动建表。SQLite 只允许单写，连接池限制为 1。
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 自动建表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.FileRecord{}, &model.Order{}, &model.OrderEvent{}); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func (s *GormStore) PutFile(ctx context.Context, f *model.FileRecord) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return unavailable("put file", err)
	}
	return nil
}

func (s *GormStore) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	var f model.FileRecord
	err := s.db.WithContext(ctx).Where("file_id = ?", fileID).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, unavailable("get file", err)
	}
	return &f, nil
}

func (s *GormStore) PutOrder(ctx context.Context, o *model.Order) error {
	if o.Status == "" {
		o.Status = model.OrderCreated
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return unavailable("put order", err)
	}
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, unavailable("get order", err)
	}
	return &o, nil
}

func (s *GormStore) UpdateOrder(ctx context.Context, orderID string, expect model.OrderStatus, patch OrderPatch) error {
	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}

	q := s.db.WithContext(ctx).Model(&model.Order{}).Where("order_id = ?", orderID)
	if expect != "" {
		q = q.Where("status = ?", expect)
	}
	res := q.Updates(cols)
	if res.Error != nil {
		return unavailable("update order", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// 0 行受影响：区分订单不存在与状态已变化。
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	if expect != "" {
		return ErrStaleStatus
	}
	return nil
}

func (s *GormStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error) {
	q := s.db.WithContext(ctx).
		Table("orders AS o").
		Select("o.*, f.original_name, f.page_count").
		Joins("JOIN files AS f ON f.file_id = o.file_id").
		Where("o.deleted_at IS NULL")
	if !f.From.IsZero() {
		q = q.Where("o.created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("o.created_at <= ?", f.To)
	}
	if f.Status != "" {
		q = q.Where("o.status = ?", f.Status)
	}

	var out []model.Transaction
	if err := q.Order("o.created_at DESC").Limit(MaxTransactions).Scan(&out).Error; err != nil {
		return nil, unavailable("list transactions", err)
	}
	return out, nil
}

// PutOrderEvent 幂等写入审计事件，EventID 重复视为成功。
func (s *GormStore) PutOrderEvent(ctx context.Context, ev *model.OrderEvent) error {
	err := s.db.WithContext(ctx).Create(ev).Error
	if err != nil {
		if errorsLikeUnique(err) {
			return nil
		}
		return unavailable("put order event", err)
	}
	return nil
}

// OrderEvents 按发生时间升序返回订单的审计事件。
func (s *GormStore) OrderEvents(ctx context.Context, orderID string) ([]model.OrderEvent, error) {
	var out []model.OrderEvent
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("occurred_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, unavailable("list order events", err)
	}
	return out, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
