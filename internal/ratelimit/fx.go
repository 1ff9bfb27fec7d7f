package ratelimit

import (
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewWebhookLimiter),
	fx.Provide(func(l *WebhookLimiter) paymentdomain.EventLocker { return l }),
)
