package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

type stubManager struct {
	err error

	caller   *identity.Caller
	id       string
	reason   string
	provider types.PaymentProvider
	body     string
	header   http.Header
}

func (m *stubManager) CreateTransaction(_ context.Context, caller *identity.Caller, req *checkout.CreateTransactionRequest) (*checkout.TransactionView, error) {
	m.caller = caller
	if m.err != nil {
		return nil, m.err
	}
	return &checkout.TransactionView{Transaction: &models.Transaction{ID: "txn-1", Currency: req.Currency}}, nil
}

func (m *stubManager) CreatePayment(_ context.Context, caller *identity.Caller, transactionID string, method types.PaymentMethod) (*models.Payment, error) {
	m.caller, m.id = caller, transactionID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Payment{ID: "pay-1", TransactionID: transactionID, Method: method}, nil
}

func (m *stubManager) GetStatus(_ context.Context, caller *identity.Caller, paymentID string) (*checkout.StatusView, error) {
	m.caller, m.id = caller, paymentID
	if m.err != nil {
		return nil, m.err
	}
	return &checkout.StatusView{Payment: &models.Payment{ID: paymentID}}, nil
}

func (m *stubManager) Cancel(_ context.Context, caller *identity.Caller, transactionID, reason string) (bool, error) {
	m.caller, m.id, m.reason = caller, transactionID, reason
	return m.err == nil, m.err
}

func (m *stubManager) Approve(_ context.Context, caller *identity.Caller, paymentID string) (*models.Payment, error) {
	m.caller, m.id = caller, paymentID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Payment{ID: paymentID, Status: types.PaymentStatusPaid}, nil
}

func (m *stubManager) Reject(_ context.Context, caller *identity.Caller, paymentID, reason string) (*models.Payment, error) {
	m.caller, m.id, m.reason = caller, paymentID, reason
	if m.err != nil {
		return nil, m.err
	}
	return &models.Payment{ID: paymentID, Status: types.PaymentStatusFailed}, nil
}

func (m *stubManager) HandleCallback(_ context.Context, provider types.PaymentProvider, header http.Header, body []byte) error {
	m.provider, m.header, m.body = provider, header, string(body)
	return m.err
}

func (m *stubManager) Activate(_ context.Context, transactionID string) (*activation.Result, error) {
	m.id = transactionID
	if m.err != nil {
		return nil, m.err
	}
	return &activation.Result{}, nil
}

type stubReader struct {
	err  error
	scan *transaction.ScanTransactionsRequest
}

func (r *stubReader) ScanTransactions(_ context.Context, req *transaction.ScanTransactionsRequest) (*transaction.ScanTransactionsResponse, error) {
	r.scan = req
	if r.err != nil {
		return nil, r.err
	}
	return &transaction.ScanTransactionsResponse{Items: []*models.Transaction{{ID: "txn-1"}}, Total: 1}, nil
}

func (r *stubReader) GetTransaction(_ context.Context, id string) (*transaction.TransactionDetail, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &transaction.TransactionDetail{Transaction: &models.Transaction{ID: id}}, nil
}

func (r *stubReader) ListAwaitingApproval(context.Context, int) ([]*models.Payment, error) {
	return nil, r.err
}

var (
	customer = &identity.Caller{ID: "cust-1", Role: types.RoleCustomer}
	admin    = &identity.Caller{ID: "ops-1", Role: types.RoleAdmin}
)

func newTestRouter(caller *identity.Caller, mgr checkout.Manager, reader transaction.TransactionReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(identity.WithCaller(c.Request.Context(), caller))
		c.Next()
	})
	RegisterCheckoutRoutes(api.Group("/checkout"), mgr, log)
	RegisterCustomerRoutes(api.Group("/checkout"), reader, nil, log)
	RegisterAdminPaymentRoutes(api.Group("/admin"), AdminDeps{Reader: reader, Manager: mgr, Log: log})
	RegisterPaymentV2Routes(r.Group("/api/v2/payment"), mgr, log)
	return r
}

type envelope struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    json.RawMessage          `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want response.APIResponseCode
	}{
		{fmt.Errorf("resolve: %w", identity.ErrUnauthenticated), response.APIResponseCodeUnauthorized},
		{gateway.ErrInvalidSignature, response.APIResponseCodeUnauthorized},
		{checkout.ErrForbidden, response.APIResponseCodeForbidden},
		{fmt.Errorf("payment x: %w", checkout.ErrNotFound), response.APIResponseCodeNotFound},
		{transaction.ErrTransactionNotFound, response.APIResponseCodeNotFound},
		{checkout.ErrTransactionNotPending, response.APIResponseCodeConflict},
		{lifecycle.ErrIllegalTransactionTransition, response.APIResponseCodeConflict},
		{activation.ErrActivationPreconditionFailed, response.APIResponseCodeConflict},
		{fmt.Errorf("key: %w", lock.ErrLockContention), response.APIResponseCodeUnavailable},
		{checkout.ErrGatewayUnavailable, response.APIResponseCodeUnavailable},
		{voucher.ErrVoucherExpired, response.APIResponseCodeBadRequest},
		{types.ErrInvalidFilter, response.APIResponseCodeBadRequest},
		{errors.New("boom"), response.APIResponseCodeError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorCode(tc.err), tc.err.Error())
	}
}

func TestCreateTransaction_PassesCaller(t *testing.T) {
	mgr := &stubManager{}
	r := newTestRouter(customer, mgr, &stubReader{})

	env := do(t, r, http.MethodPost, "/api/v1/checkout/transactions", `{"currency":"IDR","items":[{"id":"prod-basic","quantity":1}]}`)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, customer, mgr.caller)

	var view checkout.TransactionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, "txn-1", view.Transaction.ID)
}

func TestCreatePayment_RequiresMethod(t *testing.T) {
	r := newTestRouter(customer, &stubManager{}, &stubReader{})
	env := do(t, r, http.MethodPost, "/api/v1/checkout/transactions/txn-1/payments", `{}`)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestGetPaymentStatus_ErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		want    response.APIResponseCode
		message string
	}{
		{checkout.ErrForbidden, response.APIResponseCodeForbidden, checkout.ErrForbidden.Error()},
		{lock.ErrLockContention, response.APIResponseCodeUnavailable, lock.ErrLockContention.Error()},
		// unexpected errors are not echoed to the client
		{errors.New("pq: connection reset"), response.APIResponseCodeError, "unexpected error"},
	}
	for _, tc := range cases {
		r := newTestRouter(customer, &stubManager{err: tc.err}, &stubReader{})
		env := do(t, r, http.MethodGet, "/api/v1/checkout/payments/pay-1/status", "")
		assert.Equal(t, tc.want, env.Code)
		assert.Equal(t, tc.message, env.Message)
	}
}

func TestCancelTransaction(t *testing.T) {
	mgr := &stubManager{}
	r := newTestRouter(customer, mgr, &stubReader{})

	env := do(t, r, http.MethodPost, "/api/v1/checkout/transactions/txn-1/cancel", "")
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.JSONEq(t, `{"cancelled":true}`, string(env.Data))
	require.Equal(t, "txn-1", mgr.id)

	do(t, r, http.MethodPost, "/api/v1/checkout/transactions/txn-1/cancel", `{"reason":"changed my mind"}`)
	require.Equal(t, "changed my mind", mgr.reason)

	mgr.err = checkout.ErrTransactionNotPending
	env = do(t, r, http.MethodPost, "/api/v1/checkout/transactions/txn-1/cancel", "")
	require.Equal(t, response.APIResponseCodeConflict, env.Code)
}

func TestMyTransactions_ScopedToCaller(t *testing.T) {
	reader := &stubReader{}
	r := newTestRouter(customer, &stubManager{}, reader)

	env := do(t, r, http.MethodGet, "/api/v1/checkout/transactions?status=pending&size=5", "")
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, 5, reader.scan.Size)
	require.Len(t, reader.scan.Filters, 2)
	require.Equal(t, "customer_id", reader.scan.Filters[0].Field)
	require.Equal(t, []any{"cust-1"}, reader.scan.Filters[0].Values)

	env = do(t, r, http.MethodGet, "/api/v1/checkout/transactions?size=zero", "")
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestAdmin_ApproveAndReject(t *testing.T) {
	mgr := &stubManager{}
	r := newTestRouter(admin, mgr, &stubReader{})

	env := do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-1/approve", "")
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, admin, mgr.caller)
	require.Equal(t, "pay-1", mgr.id)

	env = do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-1/reject", `{}`)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)

	env = do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-1/reject", `{"reason":"amount mismatch"}`)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, "amount mismatch", mgr.reason)

	mgr.err = checkout.ErrManualApprovalRequired
	env = do(t, r, http.MethodPost, "/api/v1/admin/payments/pay-2/approve", "")
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestAdmin_ListAndDetail(t *testing.T) {
	reader := &stubReader{}
	r := newTestRouter(admin, &stubManager{}, reader)

	env := do(t, r, http.MethodPost, "/api/v1/admin/transactions/list",
		`{"filters":[{"field":"status","operator":"eq","values":["paid"]}],"size":10}`)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, 10, reader.scan.Size)
	require.Equal(t, types.CommonFilterOperatorEq, reader.scan.Filters[0].Operator)

	env = do(t, r, http.MethodGet, "/api/v1/admin/transactions/txn-9", "")
	require.Equal(t, response.APIResponseCodeOK, env.Code)

	reader.err = transaction.ErrTransactionNotFound
	env = do(t, r, http.MethodGet, "/api/v1/admin/transactions/txn-9", "")
	require.Equal(t, response.APIResponseCodeNotFound, env.Code)
}

func TestAdmin_Activate(t *testing.T) {
	mgr := &stubManager{err: fmt.Errorf("txn-1: %w", activation.ErrActivationPreconditionFailed)}
	r := newTestRouter(admin, mgr, &stubReader{})
	env := do(t, r, http.MethodPost, "/api/v1/admin/transactions/txn-1/activate", "")
	require.Equal(t, response.APIResponseCodeConflict, env.Code)
	require.Equal(t, "txn-1", mgr.id)
}

func TestPaymentWebhook(t *testing.T) {
	mgr := &stubManager{}
	r := newTestRouter(nil, mgr, &stubReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v2/payment/webhook/sandbox", strings.NewReader(`{"payment_id":"pay-1"}`))
	req.Header.Set("X-Callback-Token", "sbx-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, types.PaymentProvider("sandbox"), mgr.provider)
	require.Equal(t, `{"payment_id":"pay-1"}`, mgr.body)
	require.Equal(t, "sbx-secret", mgr.header.Get("X-Callback-Token"))

	mgr.err = fmt.Errorf("sandbox: %w", gateway.ErrInvalidSignature)
	env = do(t, r, http.MethodPost, "/api/v2/payment/webhook/sandbox", `{}`)
	require.Equal(t, response.APIResponseCodeUnauthorized, env.Code)

	mgr.err = gateway.ErrUnknownProvider
	env = do(t, r, http.MethodPost, "/api/v2/payment/webhook/paypal", `{}`)
	require.Equal(t, response.APIResponseCodeNotFound, env.Code)
}
