package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip_booking/model"
	"trip_booking/testutil"
)

func newVNPay(apiURL string) *VNPay {
	return NewVNPay(model.VNPayConfig{
		TmnCode:    "TRIP0001",
		HashSecret: "SECRETKEY123",
		BaseURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ApiURL:     apiURL,
		ReturnURL:  "http://localhost:8002/vnpay/return",
	}, testutil.NewClock())
}

// ipn builds the query VNPay would send for an order outcome.
func ipn(v *VNPay, orderRef string, amount int64, responseCode string) url.Values {
	q := url.Values{}
	q.Set("vnp_TmnCode", v.Config.TmnCode)
	q.Set("vnp_TxnRef", orderRef)
	q.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	q.Set("vnp_ResponseCode", responseCode)
	q.Set("vnp_TransactionStatus", responseCode)
	q.Set("vnp_TransactionNo", "14000001")
	q.Set("vnp_BankCode", "NCB")
	q.Set("vnp_PayDate", "20260302081000")
	q.Set("vnp_OrderInfo", "Thanh toan ve "+orderRef)
	q.Set("vnp_SecureHash", v.Sign(q))
	return q
}

func TestCreateSessionSignsRedirect(t *testing.T) {
	v := newVNPay("")
	session, err := v.CreateSession(context.Background(), SessionRequest{
		OrderRef:  "BK0000000001",
		Amount:    150000,
		OrderInfo: "Thanh toan ve BK0000000001",
		ClientIP:  "10.0.0.1",
		CreatedAt: testutil.Epoch,
		ExpiresAt: testutil.Epoch.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	u, err := url.Parse(session.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "BK0000000001", q.Get("vnp_TxnRef"))
	assert.Equal(t, "15000000", q.Get("vnp_Amount"))
	assert.Equal(t, "20260302150000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20260302151500", q.Get("vnp_ExpireDate"))

	hash := q.Get("vnp_SecureHash")
	q.Del("vnp_SecureHash")
	assert.Equal(t, v.Sign(q), hash)

	_, err = v.CreateSession(context.Background(), SessionRequest{OrderRef: "x"})
	assert.ErrorIs(t, err, model.ErrBadRequest)
}

func TestVerify(t *testing.T) {
	v := newVNPay("")
	good, err := v.ParseNotification(ipn(v, "BK1", 100000, "00"))
	require.NoError(t, err)
	assert.Equal(t, int64(100000), good.Amount)
	assert.True(t, good.Succeeded())
	require.NoError(t, v.Verify(good))

	tampered := ipn(v, "BK1", 100000, "00")
	tampered.Set("vnp_Amount", "100")
	n, err := v.ParseNotification(tampered)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(n), model.ErrUnverified)

	unsigned := model.PaymentNotification{OrderRef: "BK1"}
	assert.ErrorIs(t, v.Verify(unsigned), model.ErrUnverified)
	unsigned.Verified = true
	assert.NoError(t, v.Verify(unsigned))
}

func TestParseNotificationRejectsMalformed(t *testing.T) {
	v := newVNPay("")
	cases := []struct {
		name string
		edit func(url.Values)
	}{
		{"missing order", func(q url.Values) { q.Del("vnp_TxnRef") }},
		{"amount not a number", func(q url.Values) { q.Set("vnp_Amount", "abc") }},
		{"fractional amount", func(q url.Values) { q.Set("vnp_Amount", "1050") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := ipn(v, "BK1", 100000, "00")
			tc.edit(q)
			_, err := v.ParseNotification(q)
			assert.ErrorIs(t, err, model.ErrBadRequest)
		})
	}
}

func queryServer(t *testing.T, v **VNPay, resp queryDRResponse, tamper bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryDRRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "querydr", req.Command)
		resp.TxnRef = req.TxnRef
		resp.SecureHash = (*v).sign(resp.hashData())
		if tamper {
			resp.Amount = "1"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryStatus(t *testing.T) {
	cases := []struct {
		name    string
		resp    queryDRResponse
		tamper  bool
		wantErr error
		wantRsp string
	}{
		{"paid", queryDRResponse{ResponseCode: "00", TransactionStatus: "00", Amount: "10000000", TransactionNo: "1"}, false, nil, "00"},
		{"failed", queryDRResponse{ResponseCode: "00", TransactionStatus: "02", Amount: "10000000"}, false, nil, "02"},
		{"pending", queryDRResponse{ResponseCode: "00", TransactionStatus: "01", Amount: "10000000"}, false, ErrPending, ""},
		{"unknown order", queryDRResponse{ResponseCode: "91"}, false, model.ErrNotFound, ""},
		{"bad signature", queryDRResponse{ResponseCode: "00", TransactionStatus: "00", Amount: "10000000"}, true, model.ErrUnverified, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v *VNPay
			srv := queryServer(t, &v, tc.resp, tc.tamper)
			v = newVNPay(srv.URL)

			n, err := v.QueryStatus(context.Background(), QueryRequest{
				OrderRef: "BK9", RequestID: "REQ1", TransactionDate: testutil.Epoch,
			})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, n.Verified)
			assert.Equal(t, "BK9", n.OrderRef)
			assert.Equal(t, int64(100000), n.Amount)
			assert.Equal(t, tc.wantRsp, n.ResponseCode)
		})
	}
}
