package handlers

import (
	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/expiration"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespTransaction struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    checkout.TransactionView `json:"data"`
}

type RespPayment struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Payment           `json:"data"`
}

type RespPayments struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.Payment         `json:"data"`
}

type RespPaymentStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    checkout.StatusView      `json:"data"`
}

type RespCancel struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    CancelTransactionResponse `json:"data"`
}

// RespListTransactions wraps ScanTransactionsResponse in the standard envelope.
type RespListTransactions struct {
	Code    response.APIResponseCode             `json:"code"`
	Message string                               `json:"message"`
	Data    transaction.ScanTransactionsResponse `json:"data"`
}

type RespTransactionDetail struct {
	Code    response.APIResponseCode      `json:"code"`
	Message string                        `json:"message"`
	Data    transaction.TransactionDetail `json:"data"`
}

type RespActivation struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    activation.Result        `json:"data"`
}

type RespSubscriptions struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.Subscription    `json:"data"`
}

type RespVoucher struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Voucher           `json:"data"`
}

type RespSweep struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    expiration.SweepResult   `json:"data"`
}
