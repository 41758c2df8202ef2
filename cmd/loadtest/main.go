package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"print_kiosk/internal/document"
	"print_kiosk/internal/payment"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   []byte
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// 3 页空白 PDF，页数由服务端解析
var samplePDF = document.BlankPDF(3)

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	secret := flag.String("secret", "dev-payment-secret", "payment secret used to sign callbacks (PAYMENT_PROVIDER=local)")

	// 重复回调测试：每个订单并发投递多次相同的支付回调
	nOrders := flag.Int("orders", 20, "orders to create")
	dup := flag.Int("dup", 10, "duplicate callbacks per order")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	fileID, err := uploadSample(client, *baseURL)
	if err != nil {
		panic(fmt.Sprintf("upload failed: %v", err))
	}
	fmt.Println("upload ok, file_id:", fileID)

	orderIDs := make([]string, 0, *nOrders)
	for i := 0; i < *nOrders; i++ {
		id, err := createOrder(client, *baseURL, fileID)
		if err != nil {
			panic(fmt.Sprintf("create order failed: %v", err))
		}
		orderIDs = append(orderIDs, id)
	}
	fmt.Printf("created %d orders\n", len(orderIDs))

	// 1) 幂等测试：同一订单的重复回调必须返回同一取件码和任务号
	fmt.Printf("start duplicate callback test: orders=%d dup=%d concurrency=%d\n", *nOrders, *dup, *concurrency)
	results := runVerify(client, *baseURL, *secret, orderIDs, *dup, *concurrency)
	printSummary("verify", flatten(results))
	checkIdempotent(results)

	// 2) 限流测试：同一客户端连续投递错误签名（默认 30 次/分钟）
	fmt.Println("\nstart rate limit test: 60 bad-signature callbacks, concurrency 20")
	bad := make([]string, 60)
	for i := range bad {
		bad[i] = orderIDs[0]
	}
	results2 := runVerify(client, *baseURL, "wrong-secret", bad, 1, 20)
	printSummary("rate_limit", flatten(results2))
}

func uploadSample(client *http.Client, baseURL string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("document", "loadtest.pdf")
	if err != nil {
		return "", err
	}
	fw.Write(samplePDF)
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		FileID string `json:"file_id"`
	}
	if err := doJSON(client, req, &out); err != nil {
		return "", err
	}
	return out.FileID, nil
}

func createOrder(client *http.Client, baseURL, fileID string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"file_id":        fileID,
		"print_settings": map[string]any{"color": "bw", "copies": 1},
		"email":          "loadtest@example.com",
		"phone":          "0000000000",
	})
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/create-order", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := doJSON(client, req, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func runVerify(client *http.Client, baseURL, secret string, orderIDs []string, dup, concurrency int) [][]Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([][]Result, len(orderIDs))

	for i, id := range orderIDs {
		results[i] = make([]Result, dup)
		for j := 0; j < dup; j++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(i, j int, orderID string) {
				defer wg.Done()
				defer func() { <-sem }()
				paymentID := "pay_" + orderID
				results[i][j] = verifyOnce(client, baseURL, map[string]string{
					"razorpay_order_id":   orderID,
					"razorpay_payment_id": paymentID,
					"razorpay_signature":  payment.Sign(secret, orderID, paymentID),
				})
			}(i, j, id)
		}
	}

	wg.Wait()
	return results
}

func verifyOnce(client *http.Client, baseURL string, body any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/verify-payment", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: rb}
}

// checkIdempotent 同一订单所有成功响应的取件码与任务号必须一致。
func checkIdempotent(results [][]Result) {
	violations := 0
	for _, rs := range results {
		var first *payment.VerifiedPayment
		for _, r := range rs {
			if r.Err != nil || r.Status != http.StatusOK {
				continue
			}
			var env envelope
			var vp payment.VerifiedPayment
			if json.Unmarshal(r.Body, &env) != nil || json.Unmarshal(env.Data, &vp) != nil {
				continue
			}
			if first == nil {
				first = &vp
				continue
			}
			if vp.CollectionCode != first.CollectionCode || vp.PrintJobID != first.PrintJobID {
				violations++
				fmt.Printf("  order %s: got (%d, %s), first (%d, %s)\n", vp.OrderID, vp.CollectionCode, vp.PrintJobID, first.CollectionCode, first.PrintJobID)
			}
		}
	}
	fmt.Println("idempotency violations:", violations)
}

func flatten(results [][]Result) []Result {
	var out []Result
	for _, rs := range results {
		out = append(out, rs...)
	}
	return out
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doJSON 发送请求并把信封里的 data 解到 out。
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}
