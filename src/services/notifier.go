package services

import (
	"context"
	"errors"

	"github.com/Vafelkin/outline-tg-bot/src/models"
)

// ExpiryAlert describes a key whose payment date passed or is close
type ExpiryAlert struct {
	Key      models.AccessKey
	Owner    string // human readable owner label
	DaysLeft int
	Expired  bool
}

// Notifier delivers administrative notifications
type Notifier interface {
	NotifyKeyCreated(ctx context.Context, actor *models.Actor, key *models.AccessKey) error
	NotifyExpiring(ctx context.Context, alerts []ExpiryAlert) error
}

// MultiNotifier fans a notification out to every configured channel
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyKeyCreated(ctx context.Context, actor *models.Actor, key *models.AccessKey) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = append(errs, n.NotifyKeyCreated(ctx, actor, key))
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) NotifyExpiring(ctx context.Context, alerts []ExpiryAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = append(errs, n.NotifyExpiring(ctx, alerts))
	}
	return errors.Join(errs...)
}
