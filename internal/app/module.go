package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app/api/server"
	"github.com/fatflowers/billing/internal/app/service/activation"
	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/expiration"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	"github.com/fatflowers/billing/internal/app/service/notification"
	notificationlog "github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/platform/catalog"
	"github.com/fatflowers/billing/internal/platform/db"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/lock"
	"github.com/fatflowers/billing/pkg/logger"
	"github.com/fatflowers/billing/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule is everything except the HTTP server and background sweeper.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	metrics.Module,
	lock.Module,
	catalog.Module,
	gateway.Module,
	identity.Module,
	notification.Module,
	notificationlog.Module,
	lifecycle.Module,
	voucher.Module,
	subscription.Module,
	activation.Module,
	expiration.Module,
	checkout.Module,
	transaction.Module,
)

var Module = fx.Options(
	CoreModule,
	expiration.RunnerModule,
	server.Module,
)
