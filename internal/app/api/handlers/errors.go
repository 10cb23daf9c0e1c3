package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/pricing"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

var errorCodes = []struct {
	code response.APIResponseCode
	errs []error
}{
	{response.APIResponseCodeUnauthorized, []error{identity.ErrUnauthenticated, gateway.ErrInvalidSignature}},
	{response.APIResponseCodeForbidden, []error{checkout.ErrForbidden}},
	{response.APIResponseCodeNotFound, []error{checkout.ErrNotFound, transaction.ErrTransactionNotFound, gateway.ErrUnknownProvider, gorm.ErrRecordNotFound}},
	{response.APIResponseCodeConflict, []error{
		lifecycle.ErrIllegalTransactionTransition, lifecycle.ErrIllegalPaymentTransition,
		checkout.ErrTransactionNotPending, activation.ErrActivationPreconditionFailed,
	}},
	{response.APIResponseCodeUnavailable, []error{lock.ErrLockContention, checkout.ErrGatewayUnavailable}},
	{response.APIResponseCodeBadRequest, []error{
		pricing.ErrInvalidPricingInput, checkout.ErrInvalidRequest, checkout.ErrManualApprovalRequired,
		voucher.ErrVoucherInvalid, voucher.ErrVoucherExpired, voucher.ErrVoucherExhausted, voucher.ErrVoucherCurrencyMismatch,
		types.ErrInvalidFilter,
	}},
}

// errorCode maps a service error onto the response envelope code.
func errorCode(err error) response.APIResponseCode {
	for _, group := range errorCodes {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.code
			}
		}
	}
	return response.APIResponseCodeError
}

// writeError replies with the envelope for err. Unexpected errors are logged and
// their text is not returned to the client.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code := errorCode(err)
	c.Set(middleware.ResponseCodeKey, code)
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, log).Errorw("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusOK, response.Errorf(code, ""))
		return
	}
	c.JSON(http.StatusOK, response.Errorf(code, err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.Set(middleware.ResponseCodeKey, response.APIResponseCodeBadRequest)
	c.JSON(http.StatusOK, response.Errorf(response.APIResponseCodeBadRequest, err.Error()))
}

func callerOf(c *gin.Context) *identity.Caller {
	return identity.FromContext(c.Request.Context())
}
