package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

const maxWebhookBody = 1 << 20

// @Summary      Payment Webhook
// @Description  Receives provider callbacks (stripe: signed event; sandbox: X-Callback-Token). Every callback is recorded.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        provider  path  string  true  "Provider name (stripe, sandbox)"
// @Param        payload   body  string  true  "Provider payload"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v2/payment/webhook/{provider} [post]
func ApiPaymentWebhook(mgr checkout.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := types.PaymentProvider(c.Param("provider"))
		reqLog := logctx.FromGin(c, log).With("provider", provider)
		reqLog.Infow("webhook_received")

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			badRequest(c, err)
			return
		}
		if err := mgr.HandleCallback(c.Request.Context(), provider, c.Request.Header, body); err != nil {
			reqLog.Errorw("webhook_handle_error", "error", err.Error())
			writeError(c, log, err)
			return
		}
		reqLog.Infow("webhook_handled")
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterPaymentV2Routes(r gin.IRouter, mgr checkout.Manager, log *zap.SugaredLogger) {
	r.POST("/webhook/:provider", ApiPaymentWebhook(mgr, log))
}
