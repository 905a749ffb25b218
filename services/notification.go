package services

import (
	"context"

	alphactx "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/notify"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

// NotificationService pushes new blocks to the moderation channels listed in
// NOTIFY_URLS (shoutrrr URLs, comma separated).
type NotificationService struct {
	alphactx.DefaultService

	notifier *notify.Notifier
}

const NOTIFICATION_SVC = "notification_svc"

func (svc NotificationService) Id() string {
	return NOTIFICATION_SVC
}

func (svc *NotificationService) Configure(ctx *alphactx.Context) error {
	svc.notifier = notify.NewNotifier(
		shared.GetEnvList("NOTIFY_URLS"),
		float64(shared.GetEnvInt("NOTIFY_RATE_PER_MINUTE", 30)),
		shared.GetEnvInt("NOTIFY_BURST", 5),
	)
	return svc.DefaultService.Configure(ctx)
}

func (svc *NotificationService) Start() error {
	if !svc.notifier.Enabled() {
		log.Info("NOTIFY_URLS not set, block notifications disabled")
	}
	return nil
}

func (svc *NotificationService) Enabled() bool {
	return svc != nil && svc.notifier.Enabled()
}

// BlockCreated implements enforcement.Notifier.
func (svc *NotificationService) BlockCreated(ctx context.Context, block *model.Block) {
	svc.notifier.BlockCreated(ctx, block)
}
