package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/expiration"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

type ListTransactionRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type RejectPaymentRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

type CreateVoucherRequest struct {
	Code        string               `json:"code" binding:"required,max=64"`
	Type        types.AdjustmentType `json:"type" binding:"required,oneof=percentage fixed"`
	Value       decimal.Decimal      `json:"value" swaggertype:"string"`
	MinDiscount decimal.Decimal      `json:"min_discount" swaggertype:"string"`
	MaxDiscount decimal.Decimal      `json:"max_discount" swaggertype:"string"`
	Currency    *types.Currency      `json:"currency"`
	Quota       int                  `json:"quota" binding:"gte=0"`
	StartsAt    *time.Time           `json:"starts_at"`
	EndsAt      *time.Time           `json:"ends_at"`
}

// @Summary      List Transactions (Admin)
// @Description  Retrieves a paginated and filterable list of transactions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body ListTransactionRequest true "List transaction request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListTransactions
// @Router       /api/v1/admin/transactions/list [post]
func ApiListTransactions(reader transaction.TransactionReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		scanReq := &transaction.ScanTransactionsRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		res, err := reader.ScanTransactions(c.Request.Context(), scanReq)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get Transaction (Admin)
// @Description  Returns a transaction with its items, payments and audit trail.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  string  true  "Transaction ID"
// @Success      200  {object}  handlers.RespTransactionDetail
// @Router       /api/v1/admin/transactions/{id} [get]
func ApiGetTransaction(reader transaction.TransactionReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := reader.GetTransaction(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(d))
	}
}

// @Summary      List Payments Awaiting Approval (Admin)
// @Description  Pending manual transfers, oldest first.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query  int  false  "Maximum rows"
// @Success      200  {object}  handlers.RespPayments
// @Router       /api/v1/admin/payments/awaiting_approval [get]
func ApiListAwaitingApproval(reader transaction.TransactionReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		rows, err := reader.ListAwaitingApproval(c.Request.Context(), limit)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

// @Summary      Approve Payment (Admin)
// @Description  Confirms a manual transfer and activates the purchase.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  string  true  "Payment ID"
// @Success      200  {object}  handlers.RespPayment
// @Router       /api/v1/admin/payments/{id}/approve [post]
func ApiApprovePayment(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := mgr.Approve(c.Request.Context(), callerOf(c), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Reject Payment (Admin)
// @Description  Declines a manual transfer. The transaction stays open for another attempt.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  string                         true  "Payment ID"
// @Param        request  body  handlers.RejectPaymentRequest  true  "Reason shown to the customer"
// @Success      200  {object}  handlers.RespPayment
// @Router       /api/v1/admin/payments/{id}/reject [post]
func ApiRejectPayment(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RejectPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := mgr.Reject(c.Request.Context(), callerOf(c), c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Activate Transaction (Admin)
// @Description  Retries activation of a paid transaction. Safe to call repeatedly.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  string  true  "Transaction ID"
// @Success      200  {object}  handlers.RespActivation
// @Router       /api/v1/admin/transactions/{id}/activate [post]
func ApiActivateTransaction(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := mgr.Activate(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Create Voucher (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body  handlers.CreateVoucherRequest  true  "Voucher definition"
// @Success      200  {object}  handlers.RespVoucher
// @Router       /api/v1/admin/vouchers [post]
func ApiCreateVoucher(vouchers *voucher.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateVoucherRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		v := &models.Voucher{
			Code: req.Code, Type: req.Type, Value: req.Value,
			MinDiscount: req.MinDiscount, MaxDiscount: req.MaxDiscount, Currency: req.Currency,
			Quota: req.Quota, Active: true, StartsAt: req.StartsAt, EndsAt: req.EndsAt,
		}
		if err := vouchers.Create(c.Request.Context(), v); err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(v))
	}
}

// @Summary      Run Expiry Sweep (Admin)
// @Description  Runs one expiry and activation-retry pass immediately.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSweep
// @Router       /api/v1/admin/sweep [post]
func ApiSweep(sweeper *expiration.Sweeper, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := sweeper.Sweep(c.Request.Context())
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type AdminDeps struct {
	Reader   transaction.TransactionReader
	Manager  checkout.Manager
	Vouchers *voucher.Service
	Sweeper  *expiration.Sweeper
	Log      *zap.SugaredLogger
}

func RegisterAdminPaymentRoutes(r gin.IRouter, d AdminDeps) {
	r.POST("/transactions/list", ApiListTransactions(d.Reader, d.Log))
	r.GET("/transactions/:id", ApiGetTransaction(d.Reader, d.Log))
	r.POST("/transactions/:id/activate", ApiActivateTransaction(d.Manager, d.Log))
	r.GET("/payments/awaiting_approval", ApiListAwaitingApproval(d.Reader, d.Log))
	r.POST("/payments/:id/approve", ApiApprovePayment(d.Manager, d.Log))
	r.POST("/payments/:id/reject", ApiRejectPayment(d.Manager, d.Log))
	r.POST("/vouchers", ApiCreateVoucher(d.Vouchers, d.Log))
	r.POST("/sweep", ApiSweep(d.Sweeper, d.Log))
}
