package order

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"print_kiosk/internal/model"
	"print_kiosk/internal/payment"
	"print_kiosk/internal/pricing"
	"print_kiosk/internal/printer"
	"print_kiosk/internal/printqueue"
	"print_kiosk/internal/queue"
	"print_kiosk/internal/store"
)

const testSecret = "test_secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.OrderEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) statuses(orderID string) []model.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.OrderStatus
	for _, ev := range p.events {
		if ev.OrderID == orderID {
			out = append(out, ev.Status)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *store.GormStore
	driver *printer.Simulated
	queue  *printqueue.Queue
	events *recordingPublisher
}

func newFixture(t *testing.T, latency time.Duration) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "kiosk.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	st := store.New(db)
	driver := printer.NewSimulated(latency)
	q := printqueue.New(driver, printqueue.Config{MaxAttempts: 3, Timeout: 5 * time.Second})
	events := &recordingPublisher{}

	svc := NewService(Deps{
		Store:   st,
		Pricing: pricing.Default(),
		Oracle:  payment.LocalOracle{},
		Gate:    payment.NewGate(testSecret, st),
		Queue:   q,
		Events:  events,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)
	t.Cleanup(func() {
		cancel()
		q.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &fixture{svc: svc, store: st, driver: driver, queue: q, events: events}
}

func (f *fixture) putFile(t *testing.T, fileID string, pages int) {
	t.Helper()
	err := f.store.PutFile(context.Background(), &model.FileRecord{
		FileID:       fileID,
		OriginalName: fileID + ".pdf",
		StoragePath:  "/tmp/" + fileID + ".pdf",
		MimeType:     "application/pdf",
		PageCount:    pages,
	})
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
}

func (f *fixture) createOrder(t *testing.T, fileID string) *model.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		FileID:   fileID,
		Settings: model.PrintSettings{Color: model.ColorColor, Copies: 2, Sides: model.SidesSingle, PageRange: "1-3"},
		Email:    "a@example.com",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func verifyReq(orderID, paymentID string) payment.VerifyRequest {
	return payment.VerifyRequest{
		OrderID:       orderID,
		PaymentID:     paymentID,
		RemoteOrderID: orderID,
		Signature:     payment.Sign(testSecret, orderID, paymentID),
	}
}

func waitStatus(t *testing.T, svc *Service, orderID string, want model.OrderStatus) *model.Order {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := svc.GetOrder(context.Background(), orderID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if view.Status == want {
			return view.Order
		}
		if time.Now().After(deadline) {
			t.Fatalf("order %s status = %s, want %s", orderID, view.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	f.putFile(t, "doc1", 5)

	o := f.createOrder(t, "doc1")
	// 3 页 × 2 份 × 8
	if o.Amount != 48 {
		t.Fatalf("amount = %d, want 48", o.Amount)
	}
	if o.Status != model.OrderCreated {
		t.Fatalf("status = %s", o.Status)
	}

	first, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1"))
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if first.CollectionCode < 1000 || first.CollectionCode > 9999 {
		t.Fatalf("collection code %d out of range", first.CollectionCode)
	}
	if first.PrintJobID == "" {
		t.Fatal("print job id not recorded")
	}

	done := waitStatus(t, f.svc, o.OrderID, model.OrderCompleted)
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	again, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1"))
	if err != nil {
		t.Fatalf("second VerifyPayment: %v", err)
	}
	if again.CollectionCode != first.CollectionCode || again.PrintJobID != first.PrintJobID {
		t.Fatalf("duplicate verify changed result: %+v vs %+v", again, first)
	}
	if got := f.driver.Calls(); got != 1 {
		t.Fatalf("driver calls = %d, want 1", got)
	}

	want := []model.OrderStatus{model.OrderCreated, model.OrderPaid, model.OrderPrinting, model.OrderCompleted}
	// completed 事件在状态落库之后发布
	var got []model.OrderStatus
	for deadline := time.Now().Add(time.Second); ; time.Sleep(5 * time.Millisecond) {
		got = f.events.statuses(o.OrderID)
		if len(got) >= len(want) || time.Now().After(deadline) {
			break
		}
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestCreateOrderRejects(t *testing.T) {
	f := newFixture(t, 0)
	f.putFile(t, "doc1", 5)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{FileID: "doc1", Settings: model.PrintSettings{Color: "sepia", Copies: 1}})
	if !errors.Is(err, pricing.ErrInvalidSettings) {
		t.Fatalf("bad colour: err = %v", err)
	}
	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{FileID: "doc1", Settings: model.PrintSettings{Color: model.ColorBW, Copies: 0}})
	if !errors.Is(err, pricing.ErrInvalidSettings) {
		t.Fatalf("zero copies: err = %v", err)
	}
	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{FileID: "doc1", Settings: model.PrintSettings{Color: model.ColorBW, Copies: 1, PageRange: "9-12,abc"}})
	if !errors.Is(err, pricing.ErrInvalidSettings) {
		t.Fatalf("range outside document: err = %v", err)
	}
	f.putFile(t, "blank", 0)
	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{FileID: "blank", Settings: model.PrintSettings{Color: model.ColorBW, Copies: 1}})
	if !errors.Is(err, pricing.ErrInvalidSettings) {
		t.Fatalf("unknown page count: err = %v", err)
	}
	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{FileID: "missing", Settings: model.PrintSettings{Color: model.ColorBW, Copies: 1}})
	if !errors.Is(err, store.ErrFileNotFound) {
		t.Fatalf("missing file: err = %v", err)
	}

	txs, err := f.svc.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("rejected orders were persisted: %d", len(txs))
	}
}

func TestPrintedPagesMatchBilledPages(t *testing.T) {
	tests := []struct {
		name      string
		pageRange string
		pages     int
		amount    int64
		printed   string
	}{
		{"malformed token dropped", "1-3,abc", 5, 3 * 8, "1-3"},
		{"range clipped to document", "1-100", 1, 8, "1"},
		{"empty range prints whole document", "", 4, 4 * 8, "1-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.putFile(t, "doc", tt.pages)
			o, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
				FileID:   "doc",
				Settings: model.PrintSettings{Color: model.ColorColor, Copies: 1, PageRange: tt.pageRange},
			})
			if err != nil {
				t.Fatalf("CreateOrder: %v", err)
			}
			if o.Amount != tt.amount || o.Settings.PageRange != tt.printed {
				t.Fatalf("amount %d range %q, want %d %q", o.Amount, o.Settings.PageRange, tt.amount, tt.printed)
			}
			if _, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1")); err != nil {
				t.Fatalf("VerifyPayment: %v", err)
			}
			waitStatus(t, f.svc, o.OrderID, model.OrderCompleted)
			if got := f.driver.LastOptions().Pages; got != tt.printed {
				t.Errorf("device pages = %q, want %q", got, tt.printed)
			}
		})
	}
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	f := newFixture(t, 0)
	f.putFile(t, "doc1", 5)
	o := f.createOrder(t, "doc1")

	req := verifyReq(o.OrderID, "pay_1")
	req.Signature = payment.Sign("other", o.OrderID, "pay_1")
	if _, err := f.svc.VerifyPayment(context.Background(), req); !errors.Is(err, payment.ErrSignatureMismatch) {
		t.Fatalf("err = %v, want ErrSignatureMismatch", err)
	}
	got, err := f.store.GetOrder(context.Background(), o.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.OrderCreated {
		t.Fatalf("status = %s, want created", got.Status)
	}
	if f.queue.Len() != 0 {
		t.Fatal("job enqueued for rejected payment")
	}
}

func TestConcurrentVerifyEnqueuesOnce(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.putFile(t, "doc1", 5)
	o := f.createOrder(t, "doc1")

	const n = 8
	var wg sync.WaitGroup
	results := make([]payment.VerifiedPayment, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("verify %d: %v", i, errs[i])
		}
		if results[i].CollectionCode != results[0].CollectionCode || results[i].PrintJobID != results[0].PrintJobID {
			t.Fatalf("verify %d returned %+v, first %+v", i, results[i], results[0])
		}
	}

	waitStatus(t, f.svc, o.OrderID, model.OrderCompleted)
	if got := f.driver.Calls(); got != 1 {
		t.Fatalf("driver calls = %d, want 1", got)
	}
}

func TestPrintFailureExhaustsRetries(t *testing.T) {
	f := newFixture(t, 0)
	f.driver.FailAlways(true)
	f.putFile(t, "doc1", 5)
	o := f.createOrder(t, "doc1")

	if _, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1")); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	failed := waitStatus(t, f.svc, o.OrderID, model.OrderFailed)
	if failed.FailureReason == "" {
		t.Fatal("failure reason not recorded")
	}
	if got := f.driver.Calls(); got != 3 {
		t.Fatalf("driver calls = %d, want 3", got)
	}

	// failed 订单不再接受回调。
	if _, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1")); !errors.Is(err, payment.ErrInvalidOrderState) {
		t.Fatalf("verify failed order: err = %v", err)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	f := newFixture(t, 0)
	f.driver.FailFirst(2)
	f.putFile(t, "doc1", 5)
	o := f.createOrder(t, "doc1")

	if _, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1")); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	waitStatus(t, f.svc, o.OrderID, model.OrderCompleted)
	if got := f.driver.Calls(); got != 3 {
		t.Fatalf("driver calls = %d, want 3", got)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, 300*time.Millisecond)
	f.putFile(t, "doc1", 5)
	f.putFile(t, "doc2", 5)
	ctx := context.Background()

	busy := f.createOrder(t, "doc1")
	waiting := f.createOrder(t, "doc2")
	if _, err := f.svc.VerifyPayment(ctx, verifyReq(busy.OrderID, "pay_1")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VerifyPayment(ctx, verifyReq(waiting.OrderID, "pay_2")); err != nil {
		t.Fatal(err)
	}

	view, err := f.svc.GetOrder(ctx, waiting.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if view.PrintStatus == nil || view.PrintStatus.Position != 2 {
		t.Fatalf("print status = %+v, want position 2", view.PrintStatus)
	}

	cancelled, err := f.svc.CancelPrint(ctx, waiting.OrderID)
	if err != nil {
		t.Fatalf("CancelPrint: %v", err)
	}
	if cancelled.Status != model.OrderCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	waitStatus(t, f.svc, busy.OrderID, model.OrderCompleted)
	if _, err := f.svc.CancelPrint(ctx, busy.OrderID); !errors.Is(err, printqueue.ErrAlreadyInProgress) {
		t.Fatalf("cancel completed order: err = %v", err)
	}
	if got := f.driver.Calls(); got != 1 {
		t.Fatalf("driver calls = %d, want 1", got)
	}
}

func TestShutdownFinishesQueuedOrders(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.putFile(t, "doc1", 5)
	var ids []string
	for i := range 3 {
		o := f.createOrder(t, "doc1")
		if _, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_"+string(rune('a'+i)))); err != nil {
			t.Fatalf("VerifyPayment: %v", err)
		}
		ids = append(ids, o.OrderID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.queue.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, id := range ids {
		waitStatus(t, f.svc, id, model.OrderCompleted)
	}
	if got := f.driver.Calls(); got != 3 {
		t.Errorf("driver calls = %d, want 3", got)
	}
}

func TestApplyResultIgnoresForeignJob(t *testing.T) {
	f := newFixture(t, 300*time.Millisecond)
	f.putFile(t, "doc1", 5)
	o := f.createOrder(t, "doc1")
	if _, err := f.svc.VerifyPayment(context.Background(), verifyReq(o.OrderID, "pay_1")); err != nil {
		t.Fatal(err)
	}

	err := f.svc.ApplyResult(context.Background(), printqueue.Result{JobID: "JOB_other", OrderID: o.OrderID, Status: model.JobFailed})
	if err != nil {
		t.Fatalf("ApplyResult: %v", err)
	}
	got, _ := f.store.GetOrder(context.Background(), o.OrderID)
	if got.Status != model.OrderPrinting {
		t.Fatalf("status = %s, want printing", got.Status)
	}
}

func TestResumePaid(t *testing.T) {
	f := newFixture(t, 0)
	f.putFile(t, "doc1", 5)
	ctx := context.Background()

	// 模拟验签成功后、入队前进程退出。
	o := f.createOrder(t, "doc1")
	if _, _, err := payment.NewGate(testSecret, f.store).Verify(ctx, verifyReq(o.OrderID, "pay_1")); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.ResumePaid(ctx)
	if err != nil {
		t.Fatalf("ResumePaid: %v", err)
	}
	if n != 1 {
		t.Fatalf("resumed = %d, want 1", n)
	}
	waitStatus(t, f.svc, o.OrderID, model.OrderCompleted)
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}

	// 不同 key 互不阻塞
	other, err := l.Lock(ctx, "o2")
	if err != nil {
		t.Fatal(err)
	}
	other()

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(tctx, "o1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	unlock()
	unlock() // 重复释放无害
	again, err := l.Lock(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	again()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Fatalf("locks leaked: %d", len(l.locks))
	}
}
