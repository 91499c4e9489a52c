// Package gateway формирует подписанные запросы к внешнему платёжному шлюзу
// и проверяет подпись его ответов и уведомлений.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrConfiguration возвращается при неполной конфигурации шлюза.
	ErrConfiguration = errors.New("payment gateway is not configured")
	// ErrInvalidSignature возвращается, если подпись ответа шлюза не совпала.
	ErrInvalidSignature = errors.New("invalid gateway signature")
	// ErrInvalidRequest возвращается для некорректных параметров платежа.
	ErrInvalidRequest = errors.New("invalid payment request")
)

const (
	paramPrefix     = "vnp_"
	paramSecureHash = "vnp_SecureHash"
	paramHashType   = "vnp_SecureHashType"

	// SuccessCode означает успешную оплату.
	SuccessCode = "00"

	dateLayout     = "20060102150405"
	defaultVersion = "2.1.0"
	defaultLocale  = "vn"
	currency       = "VND"
	orderType      = "other"
	paymentWindow  = 15 * time.Minute
)

// Config содержит параметры подключения к шлюзу.
type Config struct {
	PaymentURL string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Version    string
	Locale     string
	Location   *time.Location
}

// Bridge подписывает исходящие запросы и проверяет входящие ответы шлюза.
// Состоянием денег не владеет.
type Bridge struct {
	cfg Config
}

// New проверяет конфигурацию и создаёт Bridge.
func New(cfg Config) (*Bridge, error) {
	var missing []string
	if cfg.PaymentURL == "" {
		missing = append(missing, "payment url")
	}
	if cfg.TmnCode == "" {
		missing = append(missing, "terminal code")
	}
	if cfg.HashSecret == "" {
		missing = append(missing, "hash secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if _, err := url.Parse(cfg.PaymentURL); err != nil {
		return nil, fmt.Errorf("%w: payment url: %v", ErrConfiguration, err)
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.Locale == "" {
		cfg.Locale = defaultLocale
	}
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("ICT", 7*60*60)
	}

	return &Bridge{cfg: cfg}, nil
}

// PaymentRequest описывает исходящий платёж.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	ReturnURL string
	BankCode  string
	Locale    string
}

// MaxAmount ограничивает сумму платежа так, чтобы она помещалась в int64 в сотых долях.
const MaxAmount = math.MaxInt64 / 100

// BuildPaymentURL возвращает адрес перенаправления на страницу оплаты.
// Сумма передаётся в сотых долях, ссылка действует 15 минут с момента now.
func (b *Bridge) BuildPaymentURL(req PaymentRequest, now time.Time) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("%w: empty transaction reference", ErrInvalidRequest)
	}
	if req.Amount <= 0 || req.Amount > MaxAmount {
		return "", fmt.Errorf("%w: amount %d", ErrInvalidRequest, req.Amount)
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = b.cfg.ReturnURL
	}
	if returnURL == "" {
		return "", fmt.Errorf("%w: return url", ErrConfiguration)
	}
	locale := req.Locale
	if locale == "" {
		locale = b.cfg.Locale
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + req.TxnRef
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	local := now.In(b.cfg.Location)
	params := url.Values{}
	params.Set("vnp_Version", b.cfg.Version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", b.cfg.TmnCode)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_CurrCode", currency)
	params.Set("vnp_TxnRef", req.TxnRef)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", local.Format(dateLayout))
	params.Set("vnp_ExpireDate", local.Add(paymentWindow).Format(dateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	signData := canonical(params)
	return b.cfg.PaymentURL + "?" + signData + "&" + paramSecureHash + "=" + b.sign(signData), nil
}

// Result содержит проверенный ответ шлюза.
type Result struct {
	TxnRef        string
	Amount        int64
	ResponseCode  string
	TransactionNo string
	BankCode      string
	PayDate       string
	Success       bool
}

// Verify проверяет подпись параметров ответа или уведомления шлюза.
// При несовпадении возвращает ErrInvalidSignature.
func (b *Bridge) Verify(params url.Values) (*Result, error) {
	received := params.Get(paramSecureHash)
	if received == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrInvalidSignature)
	}

	signed := url.Values{}
	for k, v := range params {
		if k == paramSecureHash || k == paramHashType || !strings.HasPrefix(k, paramPrefix) || len(v) == 0 {
			continue
		}
		signed.Set(k, v[0])
	}

	expected := b.sign(canonical(signed))
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	var amount int64
	if raw := params.Get("vnp_Amount"); raw != "" {
		minor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", ErrInvalidRequest, raw)
		}
		amount = minor / 100
	}

	code := params.Get("vnp_ResponseCode")
	return &Result{
		TxnRef:        params.Get("vnp_TxnRef"),
		Amount:        amount,
		ResponseCode:  code,
		TransactionNo: params.Get("vnp_TransactionNo"),
		BankCode:      params.Get("vnp_BankCode"),
		PayDate:       params.Get("vnp_PayDate"),
		Success:       code == SuccessCode,
	}, nil
}

// Sign возвращает подпись набора параметров. Нужна для тестов и симуляции ответов шлюза.
func (b *Bridge) Sign(params url.Values) string {
	return b.sign(canonical(params))
}

func (b *Bridge) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(b.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonical собирает строку key=value, отсортированную по ключу, с экранированием как в query.
func canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params.Get(k)))
	}
	return sb.String()
}
