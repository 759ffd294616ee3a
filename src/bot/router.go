package bot

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/conversation"
	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/messages"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/services"
	"github.com/rs/zerolog"
)

// Limiter throttles events per actor
type Limiter interface {
	AllowActor(actorID int64) bool
}

// Router dispatches chat events to the key services
type Router struct {
	transport Transport
	actors    *services.ActorService
	keys      *services.KeyService
	flows     *conversation.Machine
	limiter   Limiter
	view      renderer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRouter creates a router answering in lang. limiter may be nil.
func NewRouter(t Transport, actors *services.ActorService, keys *services.KeyService, flows *conversation.Machine, catalog *messages.Catalog, limiter Limiter, lang string) *Router {
	return &Router{
		transport: t,
		actors:    actors,
		keys:      keys,
		flows:     flows,
		limiter:   limiter,
		view:      renderer{catalog: catalog, lang: lang, loc: keys.Location()},
		logger:    logging.NewLogger("bot"),
		now:       time.Now,
	}
}

// Handle processes one event. Domain errors are answered in chat; only
// transport failures are returned.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	logger := logging.ForActor("bot", ev.Profile.ID)

	if r.limiter != nil && !r.limiter.AllowActor(ev.Profile.ID) {
		logger.Debug().Str("kind", string(ev.Kind)).Msg("event throttled")
		if ev.Kind == EventCallback {
			return r.transport.AnswerCallback(ctx, ev.CallbackID, r.view.t("rate_limited"))
		}
		_, err := r.transport.Send(ctx, ev.ChatID, r.view.t("rate_limited"), nil)
		return err
	}

	if ev.Kind == EventCallback {
		if err := r.transport.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
			logger.Debug().Err(err).Msg("failed to answer callback")
		}
	}

	actor, err := r.actors.Touch(ctx, ev.Profile)
	if err != nil {
		return r.fail(ctx, logger, ev, err)
	}
	if actor.Blocked {
		logger.Info().Msg("blocked actor ignored")
		_, err := r.transport.Send(ctx, ev.ChatID, r.view.t("blocked_notice"), nil)
		return err
	}

	switch ev.Kind {
	case EventCommand:
		err = r.handleCommand(ctx, actor, ev)
	case EventCallback:
		err = r.handleCallback(ctx, actor, ev)
	case EventText:
		err = r.handleText(ctx, actor, ev)
	}
	if err != nil {
		return r.fail(ctx, logger, ev, err)
	}
	return nil
}

// errorMessage maps an error kind to its catalog key. Unexpected errors
// report false.
func errorMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, services.ErrQuotaExceeded):
		return "max_keys_reached", true
	case errors.Is(err, services.ErrDateInPast):
		return "date_in_past", true
	case errors.Is(err, services.ErrInvalidDate):
		return "invalid_date", true
	case errors.Is(err, services.ErrInvalidLimit):
		return "invalid_limit", true
	case errors.Is(err, services.ErrInvalidName):
		return "invalid_name", true
	case errors.Is(err, services.ErrKeyNotFound):
		return "key_not_found", true
	case errors.Is(err, services.ErrActorBlocked):
		return "blocked_notice", true
	case errors.Is(err, services.ErrUnauthorized):
		return "not_admin", true
	case errors.Is(err, services.ErrOperationInProgress):
		return "operation_in_progress", true
	case errors.Is(err, conversation.ErrFlowInProgress):
		return "flow_in_progress", true
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return "server_unavailable", true
	}
	return "error", false
}

func (r *Router) fail(ctx context.Context, logger zerolog.Logger, ev Event, err error) error {
	key, expected := errorMessage(err)
	if expected {
		logger.Debug().Err(err).Str("reply", key).Msg("request rejected")
	} else {
		logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to handle event")
	}
	var kb Keyboard
	var ie *inputError
	if errors.As(err, &ie) {
		kb = Keyboard{
			Row(r.view.button("retry_button", ie.restart)),
			Row(r.view.button("back_button", cbBackToMain)),
		}
	}
	_, sendErr := r.transport.Send(ctx, ev.ChatID, r.view.t(key), kb)
	return sendErr
}

// show edits the message the event came from, or sends a new one
func (r *Router) show(ctx context.Context, ev Event, text string, kb Keyboard) error {
	if ev.Kind == EventCallback && !ev.Message.IsZero() {
		err := r.transport.Edit(ctx, ev.Message, text, kb)
		if err == nil {
			return nil
		}
		r.logger.Debug().Err(err).Msg("edit failed, sending a new message")
	}
	_, err := r.transport.Send(ctx, ev.ChatID, text, kb)
	return err
}

// dropAnchor deletes the prompt a finished flow was anchored to
func (r *Router) dropAnchor(ctx context.Context, anchor models.MessageRef) {
	if anchor.IsZero() {
		return
	}
	if err := r.transport.Delete(ctx, anchor); err != nil {
		r.logger.Debug().Err(err).Int("message_id", anchor.MessageID).Msg("failed to delete prompt")
	}
}

func (r *Router) handleCommand(ctx context.Context, actor *models.Actor, ev Event) error {
	switch ev.Command {
	case "start":
		if flow, ok := r.flows.Take(actor.ID); ok {
			r.dropAnchor(ctx, flow.Anchor)
		}
		text, kb := r.view.mainMenu(actor)
		_, err := r.transport.Send(ctx, ev.ChatID, text, kb)
		return err
	case "help":
		_, err := r.transport.Send(ctx, ev.ChatID, r.view.t("help"), nil)
		return err
	case "keys":
		text, kb, err := r.ownKeys(ctx, actor)
		if err != nil {
			return err
		}
		_, err = r.transport.Send(ctx, ev.ChatID, text, kb)
		return err
	case "cancel":
		flow, ok := r.flows.Take(actor.ID)
		if !ok {
			_, err := r.transport.Send(ctx, ev.ChatID, r.view.t("nothing_to_cancel"), nil)
			return err
		}
		r.dropAnchor(ctx, flow.Anchor)
		_, kb := r.view.mainMenu(actor)
		_, err := r.transport.Send(ctx, ev.ChatID, r.view.t("cancelled"), kb)
		return err
	}
	_, err := r.transport.Send(ctx, ev.ChatID, r.view.t("unknown_command"), nil)
	return err
}

func (r *Router) handleText(ctx context.Context, actor *models.Actor, ev Event) error {
	flow, ok := r.flows.Take(actor.ID)
	if !ok {
		text, kb := r.view.mainMenu(actor)
		_, err := r.transport.Send(ctx, ev.ChatID, text, kb)
		return err
	}

	var note string
	switch flow.Kind {
	case conversation.KindKeyName:
		if flow.KeyID == "" {
			return r.finishCreate(ctx, actor, ev, flow)
		}
		key, err := r.keys.Rename(ctx, actor, flow.KeyID, ev.Payload)
		if err != nil {
			return r.rejectInput(ctx, flow, err)
		}
		note = r.view.t("key_renamed", "name", html.EscapeString(key.Name))

	case conversation.KindLimitValue:
		res, err := r.keys.SetTrafficCapText(ctx, actor, flow.KeyID, ev.Payload)
		if err != nil {
			return r.rejectInput(ctx, flow, err)
		}
		note = r.capNote(res)

	case conversation.KindExpiryDate:
		at, err := r.keys.SetExpiry(ctx, actor, flow.KeyID, ev.Payload)
		if err != nil {
			return r.rejectInput(ctx, flow, err)
		}
		note = r.view.t("paid_until_set", "date", r.view.date(at))
	}

	r.dropAnchor(ctx, flow.Anchor)
	return r.sendKeyInfo(ctx, actor, ev.ChatID, flow.KeyID, note)
}

// inputError carries the callback that restarts a flow whose input was rejected
type inputError struct {
	err     error
	restart string
}

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

// rejectInput closes a consumed flow after an error. The actor stays idle;
// invalid input is answered with a button that starts the flow again.
func (r *Router) rejectInput(ctx context.Context, flow conversation.Flow, err error) error {
	r.dropAnchor(ctx, flow.Anchor)
	if !errors.Is(err, services.ErrInvalidInput) {
		return err
	}
	return &inputError{err: err, restart: restartData(flow)}
}

// restartData is the callback that begins flow from scratch
func restartData(flow conversation.Flow) string {
	switch flow.Kind {
	case conversation.KindLimitValue:
		return cbSetLimit + flow.KeyID
	case conversation.KindExpiryDate:
		return cbSetPaid + flow.KeyID
	}
	if flow.KeyID == "" {
		return cbCreateKey
	}
	return cbRename + flow.KeyID
}

func (r *Router) finishCreate(ctx context.Context, actor *models.Actor, ev Event, flow conversation.Flow) error {
	key, err := r.keys.Create(ctx, actor, ev.Payload)
	if err != nil {
		return r.rejectInput(ctx, flow, err)
	}
	r.dropAnchor(ctx, flow.Anchor)

	text := r.view.t("key_created",
		"name", html.EscapeString(key.Name),
		"access_url", html.EscapeString(key.AccessURL),
	)
	kb := Keyboard{
		Row(r.view.button("my_keys_button", cbMyKeys)),
		Row(r.view.button("back_button", cbBackToMain)),
	}
	_, err = r.transport.Send(ctx, ev.ChatID, text, kb)
	return err
}

func (r *Router) capNote(res *services.CapResult) string {
	if res.Bytes == 0 {
		return r.view.t("data_limit_cleared")
	}
	if !res.Verified {
		return r.view.t("data_limit_unverified", "limit", services.FormatGB(res.Bytes))
	}
	return r.view.t("data_limit_set", "limit", services.FormatGB(res.Bytes))
}

// managedKey loads the display view, hiding keys the actor may not manage
func (r *Router) managedKey(ctx context.Context, actor *models.Actor, keyID string) (*services.KeyView, error) {
	view, err := r.keys.GetDisplayInfo(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !services.CanManage(actor, &view.Key) {
		return nil, services.ErrKeyNotFound
	}
	return view, nil
}

func (r *Router) keyInfo(ctx context.Context, actor *models.Actor, keyID, note string) (string, Keyboard, error) {
	view, err := r.managedKey(ctx, actor, keyID)
	if err != nil {
		return "", nil, err
	}
	text := r.view.keyInfoText(view, r.now())
	if note != "" {
		text = note + "\n\n" + text
	}
	return text, r.view.keyInfoKeyboard(view, actor), nil
}

func (r *Router) sendKeyInfo(ctx context.Context, actor *models.Actor, chatID int64, keyID, note string) error {
	text, kb, err := r.keyInfo(ctx, actor, keyID, note)
	if err != nil {
		return err
	}
	_, err = r.transport.Send(ctx, chatID, text, kb)
	return err
}

func (r *Router) ownKeys(ctx context.Context, actor *models.Actor) (string, Keyboard, error) {
	keys, err := r.keys.ListOwned(ctx, actor)
	if err != nil {
		return "", nil, err
	}
	text, kb := r.view.keyList(keys, nil, r.now())
	return text, kb, nil
}

func (r *Router) allKeys(ctx context.Context, actor *models.Actor) (string, Keyboard, error) {
	keys, err := r.keys.ListAll(ctx, actor)
	if err != nil {
		return "", nil, err
	}
	labels := make(map[string]string, len(keys))
	for _, k := range keys {
		labels[k.ID] = r.actors.OwnerLabel(ctx, k.Owner)
	}
	text, kb := r.view.keyList(keys, labels, r.now())
	return text, kb, nil
}

func (r *Router) handleCallback(ctx context.Context, actor *models.Actor, ev Event) error {
	data := ev.Payload

	switch data {
	case cbCreateKey:
		return r.startCreate(ctx, actor, ev)
	case cbMyKeys:
		text, kb, err := r.ownKeys(ctx, actor)
		if err != nil {
			return err
		}
		return r.show(ctx, ev, text, kb)
	case cbAllKeys:
		text, kb, err := r.allKeys(ctx, actor)
		if err != nil {
			return err
		}
		return r.show(ctx, ev, text, kb)
	case cbBackToMain:
		r.flows.Cancel(actor.ID)
		text, kb := r.view.mainMenu(actor)
		return r.show(ctx, ev, text, kb)
	}

	switch {
	case strings.HasPrefix(data, cbConfirmDelete):
		if err := r.keys.Delete(ctx, actor, strings.TrimPrefix(data, cbConfirmDelete)); err != nil {
			return err
		}
		back := cbMyKeys
		if actor.IsElevated() {
			back = cbAllKeys
		}
		return r.show(ctx, ev, r.view.t("key_deleted"), Keyboard{Row(r.view.button("back_button", back))})

	case strings.HasPrefix(data, cbDelete):
		view, err := r.managedKey(ctx, actor, strings.TrimPrefix(data, cbDelete))
		if err != nil {
			return err
		}
		text, kb := r.view.confirmDelete(&view.Key)
		return r.show(ctx, ev, text, kb)

	case strings.HasPrefix(data, cbRename):
		return r.startKeyFlow(ctx, actor, ev, conversation.KindKeyName, strings.TrimPrefix(data, cbRename), "enter_new_name")

	case strings.HasPrefix(data, cbSetLimit):
		if !actor.IsElevated() {
			return services.ErrUnauthorized
		}
		return r.startKeyFlow(ctx, actor, ev, conversation.KindLimitValue, strings.TrimPrefix(data, cbSetLimit), "input_limit")

	case strings.HasPrefix(data, cbSetPaid):
		if !actor.IsElevated() {
			return services.ErrUnauthorized
		}
		return r.startKeyFlow(ctx, actor, ev, conversation.KindExpiryDate, strings.TrimPrefix(data, cbSetPaid), "input_date")

	case strings.HasPrefix(data, cbClearLimit):
		keyID := strings.TrimPrefix(data, cbClearLimit)
		res, err := r.keys.ClearTrafficCap(ctx, actor, keyID)
		if err != nil {
			return err
		}
		return r.showKeyInfo(ctx, actor, ev, keyID, r.capNote(res))

	case strings.HasPrefix(data, cbClearPaid):
		keyID := strings.TrimPrefix(data, cbClearPaid)
		if err := r.keys.ClearExpiry(ctx, actor, keyID); err != nil {
			return err
		}
		return r.showKeyInfo(ctx, actor, ev, keyID, r.view.t("paid_until_cleared"))

	case strings.HasPrefix(data, cbKey):
		keyID := strings.TrimPrefix(data, cbKey)
		// the cancel button of a key prompt leads back here
		if flow, ok := r.flows.Peek(actor.ID); ok && flow.KeyID == keyID {
			r.flows.Cancel(actor.ID)
		}
		return r.showKeyInfo(ctx, actor, ev, keyID, "")
	}

	r.logger.Debug().Str("data", data).Int64("actor_id", actor.ID).Msg("unknown callback")
	return nil
}

func (r *Router) showKeyInfo(ctx context.Context, actor *models.Actor, ev Event, keyID, note string) error {
	text, kb, err := r.keyInfo(ctx, actor, keyID, note)
	if err != nil {
		return err
	}
	return r.show(ctx, ev, text, kb)
}

// startCreate checks the quota before asking for a name
func (r *Router) startCreate(ctx context.Context, actor *models.Actor, ev Event) error {
	keys, err := r.keys.ListOwned(ctx, actor)
	if err != nil {
		return err
	}
	if len(keys) >= r.actors.TierLimit(actor.Tier) {
		return services.ErrQuotaExceeded
	}
	if err := r.flows.Begin(actor.ID, conversation.Flow{Kind: conversation.KindKeyName, Anchor: ev.Message}); err != nil {
		return err
	}
	text, kb := r.view.prompt("enter_key_name", cbBackToMain)
	return r.show(ctx, ev, text, kb)
}

func (r *Router) startKeyFlow(ctx context.Context, actor *models.Actor, ev Event, kind conversation.Kind, keyID, promptKey string) error {
	if _, err := r.managedKey(ctx, actor, keyID); err != nil {
		return err
	}
	if err := r.flows.Begin(actor.ID, conversation.Flow{Kind: kind, KeyID: keyID, Anchor: ev.Message}); err != nil {
		return err
	}
	text, kb := r.view.prompt(promptKey, cbKey+keyID)
	return r.show(ctx, ev, text, kb)
}
