// Package order 是订单生命周期状态机：
//
//	created → paid → printing → completed
//	                         ↘ failed（重试耗尽）
//	                         ↘ cancelled（排队中被取消）
//
// 每次写库都以期望的前一状态做 compare-and-swap，不允许跳步或回退。
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"print_kiosk/internal/model"
	"print_kiosk/internal/payment"
	"print_kiosk/internal/pricing"
	"print_kiosk/internal/printqueue"
	"print_kiosk/internal/queue"
	"print_kiosk/internal/store"
	"print_kiosk/pkg/logger"
)

// PrintQueue 状态机对打印队列的依赖。
type PrintQueue interface {
	Enqueue(job model.PrintJob) (string, error)
	Status(jobID string) (printqueue.Snapshot, error)
	Cancel(jobID string) error
	Results() <-chan printqueue.Result
}

// Deps 组装 Service 所需的协作方。Events 为 nil 时不发布事件。
type Deps struct {
	Store    store.Store
	Pricing  *pricing.Engine
	Oracle   payment.Oracle
	Gate     *payment.Gate
	Queue    PrintQueue
	Locker   Locker
	Events   queue.Publisher
	Currency string
}

// Service 订单状态机。
type Service struct {
	store    store.Store
	pricing  *pricing.Engine
	oracle   payment.Oracle
	gate     *payment.Gate
	queue    PrintQueue
	locker   Locker
	events   queue.Publisher
	currency string
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Locker == nil {
		d.Locker = NewMemoryLocker()
	}
	if d.Pricing == nil {
		d.Pricing = pricing.Default()
	}
	if d.Currency == "" {
		d.Currency = "INR"
	}
	return &Service{
		store:    d.Store,
		pricing:  d.Pricing,
		oracle:   d.Oracle,
		gate:     d.Gate,
		queue:    d.Queue,
		locker:   d.Locker,
		events:   d.Events,
		currency: d.Currency,
		now:      time.Now,
	}
}

// CreateOrderInput 建单参数。
type CreateOrderInput struct {
	FileID   string
	Settings model.PrintSettings
	Email    string
	Phone    string
}

// CreateOrder 计价并向支付网关下单，订单以 created 状态落库。
// 参数不合法或范围内没有可打印页时，在任何外部调用和写库之前返回
// pricing.ErrInvalidSettings。落库的页码范围已按文档长度规范化。
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if err := s.pricing.Validate(in.Settings); err != nil {
		return nil, err
	}
	file, err := s.store.GetFile(ctx, in.FileID)
	if err != nil {
		return nil, err
	}
	settings := in.Settings.Normalize()
	amount, err := s.pricing.ComputeAmount(file.PageCount, settings)
	if err != nil {
		return nil, err
	}
	// 设备只打印计费过的页
	settings.PageRange = pricing.NormalizeRange(settings.PageRange, file.PageCount)
	if settings.PageRange == "" {
		return nil, fmt.Errorf("%w: no printable pages in range %q of %d-page document", pricing.ErrInvalidSettings, in.Settings.PageRange, file.PageCount)
	}

	remote, err := s.oracle.CreateRemoteOrder(ctx, amount, s.currency, map[string]string{
		"fileId": in.FileID,
		"email":  in.Email,
		"phone":  in.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("create remote order: %w", err)
	}

	o := &model.Order{
		OrderID:  remote.ID,
		FileID:   in.FileID,
		Settings: settings,
		Amount:   amount,
		Currency: s.currency,
		Email:    in.Email,
		Phone:    in.Phone,
		Status:   model.OrderCreated,
	}
	if err := s.store.PutOrder(ctx, o); err != nil {
		return nil, err
	}

	logger.Info(ctx, "order created", "order_id", o.OrderID, "amount", amount, "pages", file.PageCount)
	s.publish(ctx, o.OrderID, model.OrderCreated, "")
	return o, nil
}

// VerifyPayment 验签并推进 created → paid → printing。
// 同一订单的调用被串行化；重复回调返回首次记录的取件码和任务号，
// 且只会入队一次。返回前打印任务号已落库。
func (s *Service) VerifyPayment(ctx context.Context, req payment.VerifyRequest) (payment.VerifiedPayment, error) {
	orderID := req.OrderID
	if orderID == "" {
		orderID = req.RemoteOrderID
	}
	ctx = logger.WithOrderID(ctx, orderID)

	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		return payment.VerifiedPayment{}, fmt.Errorf("lock order: %w", err)
	}
	defer unlock()

	vp, fresh, err := s.gate.Verify(ctx, req)
	if err != nil {
		logger.Warn(ctx, "payment verification rejected", "error", err)
		return payment.VerifiedPayment{}, err
	}
	if fresh {
		logger.Info(ctx, "payment verified", "payment_id", vp.PaymentID, "collection_code", vp.CollectionCode)
		s.publish(ctx, vp.OrderID, model.OrderPaid, "")
	}

	// paid 但没有任务号：首次确认，或上次入队后进程崩溃。
	if vp.Status == model.OrderPaid && vp.PrintJobID == "" {
		jobID, err := s.dispatch(ctx, vp.OrderID)
		if err != nil {
			return payment.VerifiedPayment{}, err
		}
		vp.PrintJobID = jobID
		vp.Status = model.OrderPrinting
	}
	return vp, nil
}

// dispatch 入队并记录任务号，调用方必须持有订单锁。
func (s *Service) dispatch(ctx context.Context, orderID string) (string, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	file, err := s.store.GetFile(ctx, o.FileID)
	if err != nil {
		return "", err
	}

	jobID, err := s.queue.Enqueue(model.PrintJob{
		OrderID:        o.OrderID,
		FilePath:       file.StoragePath,
		Settings:       o.Settings,
		CollectionCode: o.CollectionCode,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue print job: %w", err)
	}

	printing := model.OrderPrinting
	if err := s.store.UpdateOrder(ctx, o.OrderID, model.OrderPaid, store.OrderPatch{
		Status:     &printing,
		PrintJobID: &jobID,
	}); err != nil {
		// 任务号没能落库：尽量撤回任务，避免出现无主打印。
		if cerr := s.queue.Cancel(jobID); cerr != nil {
			logger.Error(ctx, "orphan print job could not be cancelled", "job_id", jobID, "error", cerr)
		}
		return "", fmt.Errorf("record print job: %w", err)
	}

	logger.Info(ctx, "print job enqueued", "job_id", jobID)
	s.publish(ctx, o.OrderID, model.OrderPrinting, "")
	return jobID, nil
}

// Run 消费打印队列的终态通知，直到 ctx 取消或通道关闭。
func (s *Service) Run(ctx context.Context) {
	results := s.queue.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			if err := s.ApplyResult(context.WithoutCancel(ctx), r); err != nil {
				logger.Error(ctx, "apply print result", "job_id", r.JobID, "order_id", r.OrderID, "error", err)
			}
		}
	}
}

// ApplyResult 按任务号把 printing 订单推进到 completed / failed。
func (s *Service) ApplyResult(ctx context.Context, r printqueue.Result) error {
	ctx = logger.WithOrderID(ctx, r.OrderID)
	unlock, err := s.locker.Lock(ctx, r.OrderID)
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	defer unlock()

	o, err := s.store.GetOrder(ctx, r.OrderID)
	if err != nil {
		return err
	}
	if o.PrintJobID != r.JobID {
		logger.Warn(ctx, "print result does not match order job, ignored", "job_id", r.JobID, "order_job_id", o.PrintJobID)
		return nil
	}

	var (
		to    model.OrderStatus
		patch store.OrderPatch
	)
	switch r.Status {
	case model.JobCompleted:
		to = model.OrderCompleted
		now := s.now()
		patch.CompletedAt = &now
	case model.JobFailed:
		to = model.OrderFailed
		reason := fmt.Sprintf("print failed after %d attempts: %s", r.Attempts, r.Error)
		patch.FailureReason = &reason
	default:
		return fmt.Errorf("unexpected job status %q", r.Status)
	}
	patch.Status = &to

	if err := s.transition(ctx, o, to, patch); err != nil {
		return err
	}
	reason := ""
	if patch.FailureReason != nil {
		reason = *patch.FailureReason
	}
	logger.Info(ctx, "order finished", "status", to, "attempts", r.Attempts)
	s.publish(ctx, o.OrderID, to, reason)
	return nil
}

// CancelPrint 取消仍在排队的打印任务，订单进入 cancelled。
func (s *Service) CancelPrint(ctx context.Context, orderID string) (*model.Order, error) {
	ctx = logger.WithOrderID(ctx, orderID)
	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case o.Status.Terminal():
		return nil, printqueue.ErrAlreadyInProgress
	case o.Status != model.OrderPrinting:
		return nil, fmt.Errorf("%w: order %s is %s", payment.ErrInvalidOrderState, o.OrderID, o.Status)
	}

	if err := s.queue.Cancel(o.PrintJobID); err != nil {
		if errors.Is(err, printqueue.ErrJobNotFound) {
			// 任务已终态，结果尚未回写。
			return nil, printqueue.ErrAlreadyInProgress
		}
		return nil, err
	}

	cancelled := model.OrderCancelled
	reason := "print job cancelled before printing"
	now := s.now()
	if err := s.transition(ctx, o, cancelled, store.OrderPatch{Status: &cancelled, FailureReason: &reason, CompletedAt: &now}); err != nil {
		return nil, err
	}
	logger.Info(ctx, "print job cancelled", "job_id", o.PrintJobID)
	s.publish(ctx, o.OrderID, cancelled, reason)
	return s.store.GetOrder(ctx, orderID)
}

func (s *Service) transition(ctx context.Context, o *model.Order, to model.OrderStatus, patch store.OrderPatch) error {
	if !model.CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s → %s", payment.ErrInvalidOrderState, o.Status, to)
	}
	return s.store.UpdateOrder(ctx, o.OrderID, o.Status, patch)
}

// OrderView 订单详情，附带打印任务实时状态（任务已丢弃时为空）。
type OrderView struct {
	*model.Order
	PrintStatus *printqueue.Snapshot `json:"print_status"`
}

// GetOrder 查询订单及其打印进度。
func (s *Service) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	view := OrderView{Order: o}
	if o.PrintJobID != "" && !o.Status.Terminal() {
		if snap, err := s.queue.Status(o.PrintJobID); err == nil {
			view.PrintStatus = &snap
		}
	}
	return view, nil
}

// ListTransactions 交易列表，最新在前，最多 100 条。
func (s *Service) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]model.Transaction, error) {
	return s.store.ListTransactions(ctx, f)
}

// ResumePaid 启动时补投已支付但未入队的订单（上次进程在入队前退出）。
// printing 状态的订单其任务随进程内存丢失，无法判断是否已出纸，只记录告警。
func (s *Service) ResumePaid(ctx context.Context) (int, error) {
	paid, err := s.store.ListTransactions(ctx, store.TransactionFilter{Status: model.OrderPaid})
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, t := range paid {
		octx := logger.WithOrderID(ctx, t.OrderID)
		unlock, err := s.locker.Lock(octx, t.OrderID)
		if err != nil {
			return resumed, err
		}
		o, err := s.store.GetOrder(octx, t.OrderID)
		if err == nil && o.Status == model.OrderPaid && o.PrintJobID == "" {
			if _, err = s.dispatch(octx, o.OrderID); err == nil {
				resumed++
			}
		}
		unlock()
		if err != nil {
			logger.Error(octx, "resume paid order", "error", err)
		}
	}

	printing, err := s.store.ListTransactions(ctx, store.TransactionFilter{Status: model.OrderPrinting})
	if err != nil {
		return resumed, err
	}
	for _, t := range printing {
		if _, err := s.queue.Status(t.PrintJobID); errors.Is(err, printqueue.ErrJobNotFound) {
			logger.Warn(ctx, "printing order lost its job on restart, needs manual check", "order_id", t.OrderID, "job_id", t.PrintJobID)
		}
	}
	return resumed, nil
}

func (s *Service) publish(ctx context.Context, orderID string, status model.OrderStatus, reason string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, queue.NewOrderEvent(orderID, status, reason)); err != nil {
		logger.Warn(ctx, "publish order event", "status", status, "error", err)
	}
}
