package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"trip_booking/model"
)

const (
	vnpVersion    = "2.1.0"
	vnpDateLayout = "20060102150405"
)

// vnpZone is the timezone VNPay expects every date in.
var vnpZone = time.FixedZone("GMT+7", 7*3600)

type VNPay struct {
	Config  model.VNPayConfig
	clock   clockwork.Clock
	timeout time.Duration
}

func NewVNPay(cfg model.VNPayConfig, clock clockwork.Clock) *VNPay {
	return &VNPay{Config: cfg, clock: clock, timeout: 15 * time.Second}
}

// CreateSession builds the signed redirect URL for the VNPay checkout page.
func (v *VNPay) CreateSession(_ context.Context, req SessionRequest) (Session, error) {
	if req.Amount <= 0 {
		return Session{}, fmt.Errorf("%w: amount must be positive", model.ErrBadRequest)
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = v.clock.Now()
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Add("vnp_Version", vnpVersion)
	params.Add("vnp_Command", "pay")
	params.Add("vnp_TmnCode", v.Config.TmnCode)
	params.Add("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Add("vnp_CreateDate", created.In(vnpZone).Format(vnpDateLayout))
	params.Add("vnp_CurrCode", "VND")
	params.Add("vnp_IpAddr", ip)
	params.Add("vnp_Locale", "vn")
	params.Add("vnp_OrderInfo", req.OrderInfo)
	params.Add("vnp_OrderType", "other")
	params.Add("vnp_ReturnUrl", v.Config.ReturnURL)
	params.Add("vnp_TxnRef", req.OrderRef)
	params.Add("vnp_ExpireDate", req.ExpiresAt.In(vnpZone).Format(vnpDateLayout))

	query := params.Encode()
	return Session{
		OrderRef:    req.OrderRef,
		RedirectURL: v.Config.BaseURL + "?" + query + "&vnp_SecureHash=" + v.sign(query),
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// ParseNotification reads an IPN or return-URL query into a notification.
// The signature is not checked here.
func (v *VNPay) ParseNotification(query url.Values) (model.PaymentNotification, error) {
	n := model.PaymentNotification{
		OrderRef:      query.Get("vnp_TxnRef"),
		TransactionNo: query.Get("vnp_TransactionNo"),
		ResponseCode:  query.Get("vnp_ResponseCode"),
		Signature:     query.Get("vnp_SecureHash"),
		Params:        query,
	}
	if n.OrderRef == "" {
		return n, fmt.Errorf("%w: missing vnp_TxnRef", model.ErrBadRequest)
	}
	amount, err := strconv.ParseInt(query.Get("vnp_Amount"), 10, 64)
	if err != nil || amount < 0 || amount%100 != 0 {
		return n, fmt.Errorf("%w: malformed vnp_Amount", model.ErrBadRequest)
	}
	n.Amount = amount / 100
	return n, nil
}

// Verify recomputes the HMAC over every vnp_ parameter except the hash itself.
func (v *VNPay) Verify(n model.PaymentNotification) error {
	if n.Verified {
		return nil
	}
	if n.Signature == "" || n.Params == nil {
		return fmt.Errorf("%w: missing signature", model.ErrUnverified)
	}
	signed := url.Values{}
	for key, values := range n.Params {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" || !strings.HasPrefix(key, "vnp_") {
			continue
		}
		signed[key] = values
	}
	expected := v.sign(signed.Encode())
	if !hmac.Equal([]byte(strings.ToLower(n.Signature)), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch for %s", model.ErrUnverified, n.OrderRef)
	}
	return nil
}

type queryDRRequest struct {
	RequestId       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IpAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type queryDRResponse struct {
	ResponseId        string `json:"vnp_ResponseId"`
	Command           string `json:"vnp_Command"`
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TmnCode           string `json:"vnp_TmnCode"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	BankCode          string `json:"vnp_BankCode"`
	PayDate           string `json:"vnp_PayDate"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionType   string `json:"vnp_TransactionType"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	OrderInfo         string `json:"vnp_OrderInfo"`
	PromotionCode     string `json:"vnp_PromotionCode"`
	PromotionAmount   string `json:"vnp_PromotionAmount"`
	SecureHash        string `json:"vnp_SecureHash"`
}

func (r queryDRResponse) hashData() string {
	return strings.Join([]string{
		r.ResponseId, r.Command, r.ResponseCode, r.Message, r.TmnCode, r.TxnRef, r.Amount,
		r.BankCode, r.PayDate, r.TransactionNo, r.TransactionType, r.TransactionStatus,
		r.OrderInfo, r.PromotionCode, r.PromotionAmount,
	}, "|")
}

// QueryStatus asks VNPay's querydr API for the outcome of an order.
func (v *VNPay) QueryStatus(_ context.Context, q QueryRequest) (model.PaymentNotification, error) {
	ip := q.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	req := queryDRRequest{
		RequestId:       q.RequestID,
		Version:         vnpVersion,
		Command:         "querydr",
		TmnCode:         v.Config.TmnCode,
		TxnRef:          q.OrderRef,
		OrderInfo:       "Query order " + q.OrderRef,
		TransactionDate: q.TransactionDate.In(vnpZone).Format(vnpDateLayout),
		CreateDate:      v.clock.Now().In(vnpZone).Format(vnpDateLayout),
		IpAddr:          ip,
	}
	req.SecureHash = v.sign(strings.Join([]string{
		req.RequestId, req.Version, req.Command, req.TmnCode, req.TxnRef,
		req.TransactionDate, req.CreateDate, req.IpAddr, req.OrderInfo,
	}, "|"))

	var resp queryDRResponse
	code, _, errs := fiber.Post(v.Config.ApiURL).Timeout(v.timeout).JSON(req).Struct(&resp)
	if len(errs) > 0 {
		return model.PaymentNotification{}, fmt.Errorf("%w: vnpay querydr: %v", model.ErrInternal, errs[0])
	}
	if code != fiber.StatusOK {
		return model.PaymentNotification{}, fmt.Errorf("%w: vnpay querydr status %d", model.ErrInternal, code)
	}
	if !hmac.Equal([]byte(strings.ToLower(resp.SecureHash)), []byte(v.sign(resp.hashData()))) {
		return model.PaymentNotification{}, fmt.Errorf("%w: querydr response signature", model.ErrUnverified)
	}

	switch resp.ResponseCode {
	case "00":
	case "91":
		return model.PaymentNotification{}, fmt.Errorf("%w: vnpay has no order %s", model.ErrNotFound, q.OrderRef)
	default:
		return model.PaymentNotification{}, fmt.Errorf("%w: querydr %s: %s", model.ErrInternal, resp.ResponseCode, resp.Message)
	}
	if resp.TransactionStatus == "01" {
		return model.PaymentNotification{}, ErrPending
	}

	amount, err := strconv.ParseInt(resp.Amount, 10, 64)
	if err != nil {
		return model.PaymentNotification{}, fmt.Errorf("%w: malformed querydr amount", model.ErrBadRequest)
	}
	return model.PaymentNotification{
		OrderRef:      resp.TxnRef,
		Amount:        amount / 100,
		TransactionNo: resp.TransactionNo,
		ResponseCode:  resp.TransactionStatus,
		Verified:      true,
	}, nil
}

func (v *VNPay) sign(data string) string {
	h := hmac.New(sha512.New, []byte(v.Config.HashSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the vnp_SecureHash VNPay attaches to query.
func (v *VNPay) Sign(query url.Values) string {
	return v.sign(query.Encode())
}
