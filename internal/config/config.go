package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	// 上传文件落盘目录、大小上限、过期清理时间
	UploadDir   string
	MaxUploadMB int
	FileMaxAge  time.Duration

	// RedisAddr 为空时不连 Redis：订单锁退化为进程内锁，验签接口不限流
	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组；为空时不发布订单事件
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（状态机原子入流，Relay 异步转 Kafka）
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string

	// 验签接口限流
	VerifyRateLimit  int
	VerifyRateWindow time.Duration

	// 交易列表接口的简单管理员令牌
	AdminToken string

	// 支付：local 本地生成订单号，razorpay 调用网关
	PaymentProvider   string
	RazorpayKeyID     string
	RazorpayKeySecret string
	Currency          string

	// 单价（货币主单位 / 页）
	PriceBW    int64
	PriceColor int64

	// 打印设备：DemoMode 使用模拟设备，否则通过 lp 提交到 PrinterName，
	// PrinterName 为空时交给系统默认打印机
	DemoMode         bool
	PrinterName      string
	PrintLatency     time.Duration
	PrintTimeout     time.Duration
	PrintMaxAttempts int

	// 退出时等待队列打印完的上限，超时后取消剩余任务
	PrintDrainTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// EventsEnabled 配置了 Kafka 时才发布订单事件；有 Redis 时经 Stream outbox 中转。
func (c AppConfig) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "print_kiosk.db"),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB:        10,
		FileMaxAge:         24 * time.Hour,
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "print-kiosk-order-events"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "print-kiosk-event-audit"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "print_kiosk:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "print-kiosk-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "print-kiosk-relay-1"),
		VerifyRateLimit:    30,
		VerifyRateWindow:   time.Minute,
		AdminToken:         getEnv("ADMIN_TOKEN", "dev-admin-token"),
		PaymentProvider:    strings.ToLower(getEnv("PAYMENT_PROVIDER", "local")),
		RazorpayKeyID:      getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:  getEnv("RAZORPAY_KEY_SECRET", ""),
		Currency:           getEnv("CURRENCY", "INR"),
		PriceBW:            2,
		PriceColor:         8,
		DemoMode:           true,
		PrinterName:        getEnv("PRINTER_NAME", ""),
		PrintLatency:       2 * time.Second,
		PrintTimeout:       60 * time.Second,
		PrintMaxAttempts:   3,
		PrintDrainTimeout:  2 * time.Minute,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.MaxUploadMB, err = positiveInt("MAX_UPLOAD_MB", cfg.MaxUploadMB); err != nil {
		return AppConfig{}, err
	}
	maxAgeHour, err := positiveInt("FILE_MAX_AGE_HOUR", int(cfg.FileMaxAge.Hours()))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.FileMaxAge = time.Duration(maxAgeHour) * time.Hour

	if cfg.VerifyRateLimit, err = positiveInt("VERIFY_RATE_LIMIT", cfg.VerifyRateLimit); err != nil {
		return AppConfig{}, err
	}
	windowSec, err := positiveInt("VERIFY_RATE_WINDOW_SEC", int(cfg.VerifyRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.VerifyRateWindow = time.Duration(windowSec) * time.Second

	priceBW, err := positiveInt("PRICE_BW", int(cfg.PriceBW))
	if err != nil {
		return AppConfig{}, err
	}
	priceColor, err := positiveInt("PRICE_COLOR", int(cfg.PriceColor))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.PriceBW, cfg.PriceColor = int64(priceBW), int64(priceColor)

	if cfg.DemoMode, err = getEnvBool("DEMO_MODE", cfg.DemoMode); err != nil {
		return AppConfig{}, fmt.Errorf("invalid DEMO_MODE: %w", err)
	}
	latencyMs, err := getEnvInt("PRINT_LATENCY_MS", int(cfg.PrintLatency.Milliseconds()))
	if err != nil || latencyMs < 0 {
		return AppConfig{}, fmt.Errorf("PRINT_LATENCY_MS must be >= 0")
	}
	cfg.PrintLatency = time.Duration(latencyMs) * time.Millisecond

	timeoutSec, err := positiveInt("PRINT_TIMEOUT_SEC", int(cfg.PrintTimeout.Seconds()))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.PrintTimeout = time.Duration(timeoutSec) * time.Second

	if cfg.PrintMaxAttempts, err = positiveInt("PRINT_MAX_ATTEMPTS", cfg.PrintMaxAttempts); err != nil {
		return AppConfig{}, err
	}
	drainSec, err := positiveInt("PRINT_DRAIN_TIMEOUT_SEC", int(cfg.PrintDrainTimeout.Seconds()))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.PrintDrainTimeout = time.Duration(drainSec) * time.Second

	switch cfg.PaymentProvider {
	case "local":
		// 本地模式也需要 secret 计算回调签名
		if cfg.RazorpayKeySecret == "" {
			cfg.RazorpayKeySecret = "dev-payment-secret"
		}
	case "razorpay":
		if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
			return AppConfig{}, fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required for razorpay")
		}
	default:
		return AppConfig{}, fmt.Errorf("PAYMENT_PROVIDER must be local or razorpay, got %q", cfg.PaymentProvider)
	}

	if cfg.UploadDir == "" {
		return AppConfig{}, fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if cfg.OrderEventGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvBool 读取布尔环境变量（1/0、true/false），若为空则返回默认值。
func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func positiveInt(key string, fallback int) (int, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return n, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
