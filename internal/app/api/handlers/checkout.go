package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

type CreatePaymentRequest struct {
	Method types.PaymentMethod `json:"method" binding:"required"`
}

type CancelTransactionRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

type CancelTransactionResponse struct {
	Cancelled bool `json:"cancelled"`
}

// @Summary      Create Transaction
// @Description  Prices the requested catalog items, applies the voucher and opens a transaction awaiting payment.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body checkout.CreateTransactionRequest true "Items, currency and optional voucher code"
// @Success      200  {object}  handlers.RespTransaction
// @Router       /api/v1/checkout/transactions [post]
func ApiCreateTransaction(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.CreateTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		view, err := mgr.CreateTransaction(c.Request.Context(), callerOf(c), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

// @Summary      Create Payment
// @Description  Attaches a payment of the chosen method. A pending payment of another method is cancelled first.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id      path  string                         true  "Transaction ID"
// @Param        request body  handlers.CreatePaymentRequest  true  "Payment method"
// @Success      200  {object}  handlers.RespPayment
// @Router       /api/v1/checkout/transactions/{id}/payments [post]
func ApiCreatePayment(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := mgr.CreatePayment(c.Request.Context(), callerOf(c), c.Param("id"), req.Method)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Get Payment Status
// @Description  Returns the payment, its transaction and what the payer should do next. Expired deadlines are applied first.
// @Tags         Checkout
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  string  true  "Payment ID"
// @Success      200  {object}  handlers.RespPaymentStatus
// @Router       /api/v1/checkout/payments/{id}/status [get]
func ApiGetPaymentStatus(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := mgr.GetStatus(c.Request.Context(), callerOf(c), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(status))
	}
}

// @Summary      Cancel Transaction
// @Description  Cancels a transaction that is still awaiting payment. Cancelling twice is not an error.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id      path  string                             true   "Transaction ID"
// @Param        request body  handlers.CancelTransactionRequest  false  "Cancel reason"
// @Success      200  {object}  handlers.RespCancel
// @Router       /api/v1/checkout/transactions/{id}/cancel [post]
func ApiCancelTransaction(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelTransactionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		changed, err := mgr.Cancel(c.Request.Context(), callerOf(c), c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CancelTransactionResponse{Cancelled: changed}))
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, mgr checkout.Manager, log *zap.SugaredLogger) {
	r.POST("/transactions", ApiCreateTransaction(mgr, log))
	r.POST("/transactions/:id/payments", ApiCreatePayment(mgr, log))
	r.POST("/transactions/:id/cancel", ApiCancelTransaction(mgr, log))
	r.GET("/payments/:id/status", ApiGetPaymentStatus(mgr, log))
}
