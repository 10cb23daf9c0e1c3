package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	subsvc "github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

// @Summary      List My Transactions
// @Description  Lists the caller's transactions, newest first.
// @Tags         Checkout
// @Produce      json
// @Security     BearerAuth
// @Param        from        query  int     false  "Offset"
// @Param        size        query  int     false  "Page size (default 20)"
// @Param        status      query  string  false  "Only transactions in this status"
// @Success      200  {object}  handlers.RespListTransactions
// @Router       /api/v1/checkout/transactions [get]
func ApiMyTransactions(reader transaction.TransactionReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := callerOf(c)
		from := 0
		if v := c.Query("from"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				from = n
			}
		}
		size := 20
		if v := c.Query("size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				badRequest(c, errors.New("invalid size"))
				return
			}
			size = n
		}
		filters := []*types.CommonFilter{{Field: "customer_id", Operator: types.CommonFilterOperatorEq, Values: []any{caller.ID}}}
		if status := c.Query("status"); status != "" {
			filters = append(filters, &types.CommonFilter{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{status}})
		}

		res, err := reader.ScanTransactions(c.Request.Context(), &transaction.ScanTransactionsRequest{
			Filters:   filters,
			From:      from,
			Size:      size,
			SortBy:    "created_at",
			SortOrder: "desc",
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List My Subscriptions
// @Description  Lists the caller's WhatsApp subscriptions.
// @Tags         Checkout
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSubscriptions
// @Router       /api/v1/checkout/subscriptions [get]
func ApiMySubscriptions(subs *subsvc.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := subs.GetCustomerSubscriptions(c.Request.Context(), callerOf(c).ID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterCustomerRoutes(r gin.IRouter, reader transaction.TransactionReader, subs *subsvc.Service, log *zap.SugaredLogger) {
	r.GET("/transactions", ApiMyTransactions(reader, log))
	r.GET("/subscriptions", ApiMySubscriptions(subs, log))
}
