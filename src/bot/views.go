package bot

import (
	"html"
	"strconv"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/messages"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/services"
)

// Callback data
const (
	cbCreateKey     = "create_key"
	cbMyKeys        = "my_keys"
	cbAllKeys       = "all_keys"
	cbBackToMain    = "back_to_main"
	cbKey           = "key_"
	cbRename        = "rename_"
	cbSetLimit      = "set_limit_"
	cbClearLimit    = "clear_limit_"
	cbSetPaid       = "set_paid_"
	cbClearPaid     = "clear_paid_"
	cbDelete        = "delete_"
	cbConfirmDelete = "confirm_delete_"
)

const (
	markerExpired = "🔴"
	markerActive  = "🟢"
)

// renderer turns service results into message texts and keyboards
type renderer struct {
	catalog *messages.Catalog
	lang    string
	loc     *time.Location
}

func (v renderer) t(key string, args ...string) string {
	return v.catalog.Get(v.lang, key, args...)
}

func (v renderer) button(key, data string) Button {
	return Button{Text: v.t(key), Data: data}
}

func (v renderer) date(t time.Time) string {
	return t.In(v.loc).Format(services.ExpiryDateLayout)
}

func statusMarker(key *models.AccessKey, now time.Time) string {
	if key.Expired(now) {
		return markerExpired
	}
	return markerActive
}

func (v renderer) mainMenu(actor *models.Actor) (string, Keyboard) {
	kb := Keyboard{
		Row(v.button("create_key_button", cbCreateKey)),
		Row(v.button("my_keys_button", cbMyKeys)),
	}
	if actor.IsElevated() {
		kb = append(kb, Row(v.button("all_keys_button", cbAllKeys)))
	}
	return v.t("welcome"), kb
}

// keyList renders one button per key. labels adds the owner in brackets,
// which the administrator list uses.
func (v renderer) keyList(keys []models.AccessKey, labels map[string]string, now time.Time) (string, Keyboard) {
	back := Row(v.button("back_button", cbBackToMain))
	if len(keys) == 0 {
		return v.t("no_keys"), Keyboard{back}
	}

	kb := make(Keyboard, 0, len(keys)+1)
	for i := range keys {
		k := &keys[i]
		text := statusMarker(k, now) + " " + k.Name
		if label, ok := labels[k.ID]; ok && label != "" {
			text += " (" + label + ")"
		}
		kb = append(kb, Row(Button{Text: text, Data: cbKey + k.ID}))
	}
	kb = append(kb, back)
	return v.t("key_list_title"), kb
}

func (v renderer) paidLine(expiresAt *time.Time, now time.Time) string {
	if expiresAt == nil {
		return v.t("no_payment_date")
	}
	days, expired := services.DaysLeft(*expiresAt, now)
	if expired {
		return v.date(*expiresAt) + " " + v.t("expired")
	}
	return v.date(*expiresAt) + " (" + v.t("days_left", "days", strconv.Itoa(days)) + ")"
}

func (v renderer) keyInfoText(view *services.KeyView, now time.Time) string {
	k := &view.Key
	return v.t("key_info",
		"key_id", html.EscapeString(k.ID),
		"status", statusMarker(k, now),
		"name", html.EscapeString(k.Name),
		"owner", html.EscapeString(view.OwnerLabel),
		"created_at", v.date(k.CreatedAt),
		"paid_until", v.paidLine(k.ExpiresAt, now),
		"usage", view.UsageLine(),
		"access_url", html.EscapeString(k.AccessURL),
	)
}

// keyInfoKeyboard shows administrative actions to elevated callers only
func (v renderer) keyInfoKeyboard(view *services.KeyView, caller *models.Actor) Keyboard {
	id := view.Key.ID
	var kb Keyboard
	if caller.IsElevated() {
		limitRow := Row(v.button("set_data_limit", cbSetLimit+id))
		if view.TrafficCap > 0 || view.Key.HasCap() {
			limitRow = append(limitRow, v.button("clear_data_limit", cbClearLimit+id))
		}
		paidRow := Row(v.button("set_paid_until", cbSetPaid+id))
		if view.Key.ExpiresAt != nil {
			paidRow = append(paidRow, v.button("clear_paid_until", cbClearPaid+id))
		}
		kb = append(kb, limitRow, paidRow)
	}
	kb = append(kb,
		Row(v.button("rename_button", cbRename+id), v.button("delete_key_button", cbDelete+id)),
		Row(v.button("back_button", v.backTarget(&view.Key, caller))),
	)
	return kb
}

// backTarget returns administrators viewing a foreign key to the full list
func (v renderer) backTarget(key *models.AccessKey, caller *models.Actor) string {
	if caller.IsElevated() && !key.Owner.IsActor(caller.ID) {
		return cbAllKeys
	}
	return cbMyKeys
}

func (v renderer) prompt(key, cancelData string) (string, Keyboard) {
	return v.t(key), Keyboard{Row(v.button("cancel_button", cancelData))}
}

func (v renderer) confirmDelete(key *models.AccessKey) (string, Keyboard) {
	return v.t("confirm_delete", "name", html.EscapeString(key.Name)), Keyboard{
		Row(v.button("confirm_delete_button", cbConfirmDelete+key.ID)),
		Row(v.button("cancel_button", cbKey+key.ID)),
	}
}
