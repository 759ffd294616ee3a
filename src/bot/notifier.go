package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/messages"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/services"
	"github.com/rs/zerolog"
)

// AdminNotifier messages every configured administrator in chat
type AdminNotifier struct {
	transport Transport
	admins    []int64
	view      renderer
	logger    zerolog.Logger
}

var _ services.Notifier = (*AdminNotifier)(nil)

// NewAdminNotifier creates a notifier for the given administrator ids
func NewAdminNotifier(t Transport, catalog *messages.Catalog, lang string, admins []int64, keys *services.KeyService) *AdminNotifier {
	return &AdminNotifier{
		transport: t,
		admins:    admins,
		view:      renderer{catalog: catalog, lang: lang, loc: keys.Location()},
		logger:    logging.NewLogger("admin_notifier"),
	}
}

// NotifyKeyCreated reports a key created by a standard actor
func (n *AdminNotifier) NotifyKeyCreated(ctx context.Context, actor *models.Actor, key *models.AccessKey) error {
	owner := actor.DisplayName()
	if owner == "" {
		owner = strconv.FormatInt(actor.ID, 10)
	}
	text := n.view.t("admin_key_created",
		"owner", html.EscapeString(owner),
		"name", html.EscapeString(key.Name),
		"key_id", html.EscapeString(key.ID),
	)
	return n.broadcast(ctx, text, actor.ID)
}

// NotifyExpiring sends one digest with a line per key
func (n *AdminNotifier) NotifyExpiring(ctx context.Context, alerts []services.ExpiryAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	lines := make([]string, 0, len(alerts)+1)
	lines = append(lines, n.view.t("admin_expiry_title"))
	for _, a := range alerts {
		args := []string{
			"name", html.EscapeString(a.Key.Name),
			"key_id", html.EscapeString(a.Key.ID),
			"owner", html.EscapeString(a.Owner),
			"date", n.view.date(*a.Key.ExpiresAt),
			"days", strconv.Itoa(a.DaysLeft),
		}
		if a.Expired {
			lines = append(lines, n.view.t("admin_expired_line", args...))
		} else {
			lines = append(lines, n.view.t("admin_expiry_line", args...))
		}
	}
	return n.broadcast(ctx, strings.Join(lines, "\n"), 0)
}

// broadcast sends text to every administrator except skip
func (n *AdminNotifier) broadcast(ctx context.Context, text string, skip int64) error {
	var errs []error
	for _, id := range n.admins {
		if id == skip {
			continue
		}
		if _, err := n.transport.Send(ctx, id, text, nil); err != nil {
			n.logger.Warn().Err(err).Int64("admin_id", id).Msg("failed to notify administrator")
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
