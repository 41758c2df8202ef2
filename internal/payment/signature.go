package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign 计算网关回调签名：HMAC-SHA256(remoteOrderID + "|" + paymentID)，十六进制小写。
func Sign(secret, remoteOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(remoteOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 常量时间比较，避免计时侧信道。
func VerifySignature(secret, remoteOrderID, paymentID, signature string) bool {
	expected := Sign(secret, remoteOrderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
