package checkout

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/internal/app/service/notification"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/pkg/types"
)

func sandboxHeader(token string) http.Header {
	h := http.Header{}
	h.Set(gateway.CallbackTokenHeader, token)
	return h
}

func sandboxBody(p *models.Payment, status string) []byte {
	return []byte(fmt.Sprintf(`{"external_id":%q,"status":%q}`, *p.ExternalID, status))
}

func (h *harness) callbackLogs(t *testing.T, paymentID string) []models.PaymentNotificationLogStatus {
	t.Helper()
	h.notifLog.Wait()
	rows, err := h.notifLog.ListByPayment(context.Background(), paymentID)
	require.NoError(t, err)
	out := make([]models.PaymentNotificationLogStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Status)
	}
	return out
}

func TestHandleCallback_PaidActivatesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	view, p := h.checkout(t, "", types.PaymentMethodQRIS)
	require.NotNil(t, p.ExternalID)

	require.NoError(t, h.svc.HandleCallback(ctx, types.PaymentProviderSandbox, sandboxHeader(callbackToken), sandboxBody(p, "paid")))
	require.Equal(t, types.PaymentStatusPaid, h.payment(t, p.ID).Status)
	require.Equal(t, types.TransactionStatusSuccess, h.transaction(t, view.Transaction.ID).Status)

	// a redelivered callback is recorded and changes nothing
	h.clock.Advance(time.Minute)
	require.NoError(t, h.svc.HandleCallback(ctx, types.PaymentProviderSandbox, sandboxHeader(callbackToken), sandboxBody(p, "paid")))
	require.EqualValues(t, 1, h.count(t, &models.ProductGrant{}, view.Transaction.ID))

	require.Equal(t, []models.PaymentNotificationLogStatus{
		models.PaymentNotificationLogStatusHandled,
		models.PaymentNotificationLogStatusHandled,
	}, h.callbackLogs(t, p.ID))
	require.Equal(t, []notification.EventType{
		notification.EventPaymentCreated,
		notification.EventPaymentConfirmed,
		notification.EventServiceActivated,
	}, h.rec.Types())
}

func TestHandleCallback_FailedLeavesTransactionPending(t *testing.T) {
	h := newHarness(t)
	view, p := h.checkout(t, "", types.PaymentMethodVABNI)

	require.NoError(t, h.svc.HandleCallback(context.Background(), types.PaymentProviderSandbox,
		sandboxHeader(callbackToken), sandboxBody(p, "failed")))
	got := h.payment(t, p.ID)
	require.Equal(t, types.PaymentStatusFailed, got.Status)
	require.Equal(t, "failed", *got.FailureReason)
	require.Equal(t, types.TransactionStatusPending, h.transaction(t, view.Transaction.ID).Status)

	// a success after the failure is recorded but not applied
	require.NoError(t, h.svc.HandleCallback(context.Background(), types.PaymentProviderSandbox,
		sandboxHeader(callbackToken), sandboxBody(p, "paid")))
	require.Equal(t, types.PaymentStatusFailed, h.payment(t, p.ID).Status)
	require.Equal(t, []models.PaymentNotificationLogStatus{
		models.PaymentNotificationLogStatusHandled,
		models.PaymentNotificationLogStatusLateConfirmation,
	}, h.callbackLogs(t, p.ID))
}

func TestHandleCallback_ExpiredMarksPaymentExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	view, p := h.checkout(t, "", types.PaymentMethodQRIS)

	require.NoError(t, h.svc.HandleCallback(ctx, types.PaymentProviderSandbox, sandboxHeader(callbackToken), sandboxBody(p, "expired")))
	got := h.payment(t, p.ID)
	require.Equal(t, types.PaymentStatusExpired, got.Status)
	require.Nil(t, got.FailureReason)
	require.Equal(t, types.TransactionStatusPending, h.transaction(t, view.Transaction.ID).Status)
	require.Equal(t, []notification.EventType{
		notification.EventPaymentCreated,
		notification.EventPaymentExpired,
	}, h.rec.Types())

	// the customer can still pay with a fresh attempt
	_, err := h.svc.CreatePayment(ctx, customer, view.Transaction.ID, types.PaymentMethodQRIS)
	require.NoError(t, err)
}

func TestHandleCallback_LateConfirmationIsNotApplied(t *testing.T) {
	h := newHarness(t)
	view, p := h.checkout(t, "", types.PaymentMethodQRIS)
	h.clock.Advance(25 * time.Hour)

	require.NoError(t, h.svc.HandleCallback(context.Background(), types.PaymentProviderSandbox,
		sandboxHeader(callbackToken), sandboxBody(p, "settled")))
	require.Equal(t, types.PaymentStatusExpired, h.payment(t, p.ID).Status)
	require.Equal(t, types.TransactionStatusExpired, h.transaction(t, view.Transaction.ID).Status)
	require.Zero(t, h.count(t, &models.ProductGrant{}, view.Transaction.ID))

	require.Equal(t, []models.PaymentNotificationLogStatus{
		models.PaymentNotificationLogStatusLateConfirmation,
	}, h.callbackLogs(t, p.ID))
	require.Contains(t, h.rec.Types(), notification.EventLatePaymentConfirmation)
}

func TestHandleCallback_RejectsBadToken(t *testing.T) {
	h := newHarness(t)
	view, p := h.checkout(t, "", types.PaymentMethodQRIS)

	err := h.svc.HandleCallback(context.Background(), types.PaymentProviderSandbox, sandboxHeader("wrong"), sandboxBody(p, "paid"))
	require.ErrorIs(t, err, gateway.ErrInvalidSignature)
	require.Equal(t, types.PaymentStatusPending, h.payment(t, p.ID).Status)
	require.Equal(t, types.TransactionStatusPending, h.transaction(t, view.Transaction.ID).Status)

	h.notifLog.Wait()
	var logs []*models.PaymentNotificationLog
	require.NoError(t, h.db.Order("status asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	require.Equal(t, models.PaymentNotificationLogStatusHandleFailed, logs[0].Status)
	require.Equal(t, models.PaymentNotificationLogStatusReceived, logs[1].Status)
}

func TestHandleCallback_UnknownProviderAndPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.HandleCallback(ctx, types.PaymentProviderStripe, http.Header{}, []byte(`{}`))
	require.ErrorIs(t, err, ErrNotFound)

	err = h.svc.HandleCallback(ctx, types.PaymentProviderSandbox, sandboxHeader(callbackToken),
		[]byte(`{"external_id":"sbx_missing","status":"paid"}`))
	require.ErrorIs(t, err, ErrNotFound)

	// unknown statuses are acknowledged without a lookup
	require.NoError(t, h.svc.HandleCallback(ctx, types.PaymentProviderSandbox, sandboxHeader(callbackToken),
		[]byte(`{"external_id":"sbx_missing","status":"processing"}`)))
}

func TestCallbackData(t *testing.T) {
	require.JSONEq(t, `{"a":1}`, string(callbackData([]byte(`{"a":1}`))))
	require.JSONEq(t, `{"raw":"a=1&b=2"}`, string(callbackData([]byte(`a=1&b=2`))))
}
