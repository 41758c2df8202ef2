package router

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"

	"print_kiosk/internal/blob"
	"print_kiosk/internal/config"
	"print_kiosk/internal/middleware"
	"print_kiosk/internal/model"
	"print_kiosk/internal/order"
	"print_kiosk/internal/payment"
	"print_kiosk/internal/pricing"
	"print_kiosk/internal/printer"
	"print_kiosk/internal/printqueue"
	"print_kiosk/internal/store"
	"print_kiosk/pkg/logger"
	rediskey "print_kiosk/pkg/redis"
)

// Deps HTTP 层依赖。Redis 为 nil 时验签接口不限流。
type Deps struct {
	Orders *order.Service
	Store  store.Store
	Files  blob.LocalFS
	Driver printer.Driver
	Queue  interface{ Len() int }
	Redis  *rd.Client
	KeyID  string
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps, cfg config.AppConfig) {
	r.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery(), middleware.Metrics())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/config", getConfig(d.KeyID, cfg))
	api.GET("/status", getStatus(d, cfg.DemoMode))
	api.POST("/upload", upload(d.Store, d.Files, int64(cfg.MaxUploadMB)<<20))
	api.POST("/create-order", createOrder(d.Orders))

	verify := []gin.HandlerFunc{verifyPayment(d.Orders)}
	if d.Redis != nil {
		verify = append([]gin.HandlerFunc{middleware.RedisRateLimit(d.Redis, "verify_payment", cfg.VerifyRateLimit, cfg.VerifyRateWindow)}, verify...)
	}
	api.POST("/verify-payment", verify...)

	api.GET("/order/:order_id", getOrder(d.Orders))
	api.POST("/order/:order_id/cancel", cancelOrder(d.Orders))
	api.GET("/transactions", adminOnly(cfg.AdminToken), listTransactions(d.Orders))
}

// getConfig 前端拉起支付需要的公开配置。
func getConfig(keyID string, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"razorpay_key":  keyID,
			"provider":      cfg.PaymentProvider,
			"currency":      cfg.Currency,
			"price_bw":      cfg.PriceBW,
			"price_color":   cfg.PriceColor,
			"max_upload_mb": cfg.MaxUploadMB,
		}})
	}
}

// getStatus 设备与存储健康状况。数据库不可用时返回 503。
func getStatus(d Deps, demo bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		device := d.Driver.Status(ctx)
		dbOK := true
		dbMsg := "connected"
		if err := d.Store.Ping(ctx); err != nil {
			dbOK, dbMsg = false, err.Error()
		}

		code := http.StatusOK
		if !dbOK {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"code": 0, "data": gin.H{
			"server":      "online",
			"printer":     device,
			"demo_mode":   demo,
			"queue_len":   d.Queue.Len(),
			"database":    gin.H{"connected": dbOK, "message": dbMsg},
			"server_time": time.Now().UTC().Format(time.RFC3339),
		}})
	}
}

// createOrder 计价并创建支付订单。
func createOrder(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FileID        string              `json:"file_id" binding:"required"`
			PrintSettings model.PrintSettings `json:"print_settings"`
			Email         string              `json:"email" binding:"required,email"`
			Phone         string              `json:"phone" binding:"required,max=32"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		o, err := svc.CreateOrder(c.Request.Context(), order.CreateOrderInput{
			FileID:   req.FileID,
			Settings: req.PrintSettings,
			Email:    req.Email,
			Phone:    req.Phone,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"order_id": o.OrderID,
			"amount":   o.Amount,
			"currency": o.Currency,
			"status":   o.Status,
		}})
	}
}

// verifyPayment 支付网关回调：验签、发取件码、入打印队列。
// 重复回调返回同一取件码与任务号。
func verifyPayment(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID           string `json:"order_id"`
			RazorpayOrderID   string `json:"razorpay_order_id" binding:"required"`
			RazorpayPaymentID string `json:"razorpay_payment_id" binding:"required"`
			RazorpaySignature string `json:"razorpay_signature" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		vp, err := svc.VerifyPayment(c.Request.Context(), payment.VerifyRequest{
			OrderID:       req.OrderID,
			PaymentID:     req.RazorpayPaymentID,
			RemoteOrderID: req.RazorpayOrderID,
			Signature:     req.RazorpaySignature,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": vp})
	}
}

// getOrder 查询订单与打印进度。
func getOrder(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.GetOrder(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": view})
	}
}

// cancelOrder 取消仍在排队的打印任务。
func cancelOrder(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.CancelPrint(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

// listTransactions 交易记录，支持 start_date / end_date / status 过滤。
func listTransactions(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f store.TransactionFilter
		var err error
		if f.From, err = parseDate(c.Query("start_date"), false); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "start_date 格式错误，请用 YYYY-MM-DD 或 RFC3339"})
			return
		}
		if f.To, err = parseDate(c.Query("end_date"), true); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_date 格式错误，请用 YYYY-MM-DD 或 RFC3339"})
			return
		}
		if s := c.Query("status"); s != "" {
			f.Status = model.OrderStatus(s)
			if !f.Status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "未知订单状态: " + s})
				return
			}
		}

		list, err := svc.ListTransactions(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// parseDate 解析日期；纯日期作为结束边界时取当天最后一刻。
func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// adminOnly 简单管理员 token 校验。
func adminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}

// writeError 把领域错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, pricing.ErrInvalidSettings):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, payment.ErrSignatureMismatch):
		// 不透露细节
		status, msg = http.StatusBadRequest, "invalid payment signature"
	case errors.Is(err, store.ErrOrderNotFound):
		status, msg = http.StatusNotFound, "订单不存在"
	case errors.Is(err, store.ErrFileNotFound):
		status, msg = http.StatusNotFound, "文件不存在"
	case errors.Is(err, printqueue.ErrJobNotFound):
		status, msg = http.StatusNotFound, "打印任务不存在"
	case errors.Is(err, payment.ErrInvalidOrderState),
		errors.Is(err, store.ErrStaleStatus):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, printqueue.ErrAlreadyInProgress):
		status, msg = http.StatusConflict, "打印任务已开始或已结束，无法取消"
	case errors.Is(err, store.ErrStorageUnavailable),
		errors.Is(err, rediskey.ErrLockTimeout),
		errors.Is(err, printqueue.ErrClosed):
		status, msg = http.StatusServiceUnavailable, "服务暂不可用，请稍后重试"
	}

	if status >= 500 {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"code": status, "msg": msg})
}
