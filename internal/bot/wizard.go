package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"assignbot/core/logger"
	"assignbot/core/telegram/keyboard"
	"assignbot/internal/erp"
)

// Wizard stages. Linear with one side branch (UOM search); /clear is an
// unconditional transition back to idle from every stage.
type stage int

const (
	stageAwaitingCode stage = iota + 1
	stageAwaitingName
	stageAwaitingGroup
	stageAwaitingUOM
	stageUOMSearch
	stageSubmitting
)

const (
	doctypeItemGroup = "Item Group"
	doctypeUOM       = "UOM"

	choicePageSize    = 6
	choiceColumns     = 2
	searchResultLimit = 12

	kindGroup = "group"
	kindUOM   = "uom"
)

// Reply is what the controller sends back to the chat: text plus optional
// inline keyboard descriptors. Engines return Reply values so tests never
// need a live transport.
type Reply struct {
	Text     string
	Keyboard [][]keyboard.InlineBtn
}

func textReply(text string) Reply { return Reply{Text: text} }

// wizardSession is one in-progress /new dialog for a (group, manager) pair.
type wizardSession struct {
	creds erp.Credentials
	stage stage
	draft erp.ItemDraft

	page    int
	choices []string

	// cancelPending defers a /clear that arrived while the submit call was
	// in flight; the call finishes, then the session is discarded.
	cancelPending bool
}

// WizardGateway is the slice of the ERP client the wizard depends on.
type WizardGateway interface {
	ListChoices(ctx context.Context, creds erp.Credentials, doctype string, start, pageLen int) ([]string, bool, error)
	SearchChoices(ctx context.Context, creds erp.Credentials, doctype, query string, limit int) ([]string, error)
	CreateItem(ctx context.Context, creds erp.Credentials, draft erp.ItemDraft) error
}

// Authorizer gates wizard entry on the invoker being the group's verified
// manager.
type Authorizer interface {
	ManagerCredential(ctx context.Context, groupID, userID int64) (erp.Credentials, error)
}

// Wizard drives the item-creation dialog. State lives only in memory;
// an in-progress wizard is abandoned on restart by design. The engine is
// never left locked across a gateway call: state is read, the call is made,
// and the result is applied as a separate transition.
type Wizard struct {
	mu       sync.Mutex
	sessions *Sessions[*wizardSession]
	gw       WizardGateway
	auth     Authorizer
}

// NewWizard builds the wizard engine. Sessions idle longer than ttl are
// evicted.
func NewWizard(gw WizardGateway, auth Authorizer, ttl time.Duration) *Wizard {
	sweep := ttl / 4
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &Wizard{
		sessions: NewSessions[*wizardSession](ttl, sweep),
		gw:       gw,
		auth:     auth,
	}
}

// Stop terminates background eviction.
func (w *Wizard) Stop() { w.sessions.Stop() }

// InProgress reports whether the pair has a live session.
func (w *Wizard) InProgress(groupID, userID int64) bool {
	_, ok := w.sessions.Get(sessionKey{Group: groupID, User: userID})
	return ok
}

// Start begins a fresh wizard. A live session for the same pair is
// discarded first (last-writer-wins). Entry is gated on the invoker being
// the group's credential-verified manager; on rejection no state changes.
func (w *Wizard) Start(ctx context.Context, groupID, userID int64) (Reply, error) {
	creds, err := w.auth.ManagerCredential(ctx, groupID, userID)
	if err != nil {
		return Reply{}, err
	}

	w.sessions.Put(sessionKey{Group: groupID, User: userID}, &wizardSession{
		creds: creds,
		stage: stageAwaitingCode,
	})
	logger.TG.Debug("wizard started",
		slog.String("event", "wizard.start"),
		slog.Int64("group_id", groupID),
		slog.Int64("user_id", userID),
	)
	return textReply(textWizardCode), nil
}

// Cancel discards the session from any stage. A cancel during a submit in
// flight is deferred until the gateway call returns.
func (w *Wizard) Cancel(groupID, userID int64) (Reply, error) {
	k := sessionKey{Group: groupID, User: userID}
	sess, ok := w.sessions.Get(k)
	if !ok {
		return Reply{}, ErrNoActiveSession
	}

	w.mu.Lock()
	if sess.stage == stageSubmitting {
		sess.cancelPending = true
		w.mu.Unlock()
		return textReply(textWizardDeferred), nil
	}
	w.mu.Unlock()

	w.sessions.Delete(k)
	return textReply(textWizardCancelled), nil
}

// CancelGroup drops every live session in the group, regardless of manager.
// Used when an admin clears the group's assignment.
func (w *Wizard) CancelGroup(groupID int64) {
	w.sessions.mu.Lock()
	defer w.sessions.mu.Unlock()
	for k := range w.sessions.entries {
		if k.Group == groupID {
			delete(w.sessions.entries, k)
		}
	}
}

// HandleText feeds a plain text message into the session. The boolean
// reports whether a session consumed the input.
func (w *Wizard) HandleText(ctx context.Context, groupID, userID int64, text string) (Reply, bool, error) {
	k := sessionKey{Group: groupID, User: userID}
	sess, ok := w.sessions.Get(k)
	if !ok {
		return Reply{}, false, nil
	}

	w.mu.Lock()
	st := sess.stage
	w.mu.Unlock()

	switch st {
	case stageAwaitingCode:
		if text == "" {
			return textReply(textWizardEmptyCode), true, nil
		}
		w.mu.Lock()
		sess.draft.Code = text
		sess.stage = stageAwaitingName
		w.mu.Unlock()
		return textReply(textWizardName), true, nil

	case stageAwaitingName:
		if text == "" {
			return textReply(textWizardEmptyName), true, nil
		}
		w.mu.Lock()
		sess.draft.Name = text
		sess.stage = stageAwaitingGroup
		w.mu.Unlock()
		reply, err := w.loadPage(ctx, sess, kindGroup, 0)
		return reply, true, err

	case stageUOMSearch:
		reply, err := w.search(ctx, sess, text)
		return reply, true, err

	case stageAwaitingGroup, stageAwaitingUOM:
		// Choice stages consume button events, not text. The re-prompt
		// re-fetches the current page, so a keyboard lost to an earlier
		// listing failure comes back instead of a bare navigation arrow.
		w.mu.Lock()
		page := sess.page
		w.mu.Unlock()
		reply, err := w.loadPage(ctx, sess, kindForStage(st), page)
		if err != nil {
			return Reply{}, true, err
		}
		reply.Text = textWizardUseKB
		return reply, true, nil

	default: // stageSubmitting
		return Reply{}, true, nil
	}
}

// HandlePick applies a choice selection. kind must match the current stage
// so stale keyboards from an earlier stage are rejected harmlessly.
func (w *Wizard) HandlePick(ctx context.Context, groupID, userID int64, kind string, index int) (Reply, error) {
	sess, ok := w.sessions.Get(sessionKey{Group: groupID, User: userID})
	if !ok {
		return Reply{}, ErrNoActiveSession
	}

	w.mu.Lock()
	if kind != kindForStage(sess.stage) || index < 0 || index >= len(sess.choices) {
		w.mu.Unlock()
		return textReply(textWizardStale), nil
	}
	choice := sess.choices[index]

	switch sess.stage {
	case stageAwaitingGroup:
		sess.draft.Group = choice
		sess.stage = stageAwaitingUOM
		w.mu.Unlock()
		return w.loadPage(ctx, sess, kindUOM, 0)

	case stageAwaitingUOM:
		sess.draft.UOM = choice
		sess.stage = stageSubmitting
		w.mu.Unlock()
		return w.submit(ctx, groupID, userID, sess)

	default:
		w.mu.Unlock()
		return textReply(textWizardStale), nil
	}
}

// HandlePage re-renders the requested page. Navigation never changes stage.
func (w *Wizard) HandlePage(ctx context.Context, groupID, userID int64, kind string, page int) (Reply, error) {
	sess, ok := w.sessions.Get(sessionKey{Group: groupID, User: userID})
	if !ok {
		return Reply{}, ErrNoActiveSession
	}

	w.mu.Lock()
	if kind != kindForStage(sess.stage) || page < 0 {
		w.mu.Unlock()
		return textReply(textWizardStale), nil
	}
	w.mu.Unlock()

	return w.loadPage(ctx, sess, kind, page)
}

// HandleSearch enters the UOM search branch.
func (w *Wizard) HandleSearch(groupID, userID int64) (Reply, error) {
	sess, ok := w.sessions.Get(sessionKey{Group: groupID, User: userID})
	if !ok {
		return Reply{}, ErrNoActiveSession
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if sess.stage != stageAwaitingUOM {
		return textReply(textWizardStale), nil
	}
	sess.stage = stageUOMSearch
	return textReply(textWizardSearch), nil
}

// loadPage fetches one choice page from the gateway and renders the
// keyboard. The session lock is never held across the call.
func (w *Wizard) loadPage(ctx context.Context, sess *wizardSession, kind string, page int) (Reply, error) {
	doctype := doctypeItemGroup
	if kind == kindUOM {
		doctype = doctypeUOM
	}

	w.mu.Lock()
	creds := sess.creds
	w.mu.Unlock()

	names, hasMore, err := w.gw.ListChoices(ctx, creds, doctype, page*choicePageSize, choicePageSize)
	if err != nil {
		return Reply{}, err
	}

	w.mu.Lock()
	sess.page = page
	sess.choices = names
	w.mu.Unlock()

	title := textWizardGroup
	if kind == kindUOM {
		title = textWizardUOM
	}
	return Reply{
		Text:     title,
		Keyboard: choiceKeyboard(kind, names, page, hasMore, kind == kindUOM),
	}, nil
}

// search runs the filtered UOM lookup. An empty result returns to the UOM
// stage unchanged; a hit replaces the visible choices with the filtered set.
func (w *Wizard) search(ctx context.Context, sess *wizardSession, query string) (Reply, error) {
	w.mu.Lock()
	creds := sess.creds
	prevPage := sess.page
	w.mu.Unlock()

	names, err := w.gw.SearchChoices(ctx, creds, doctypeUOM, query, searchResultLimit)
	if err != nil {
		return Reply{}, err
	}

	if len(names) == 0 {
		w.mu.Lock()
		sess.stage = stageAwaitingUOM
		w.mu.Unlock()
		reply, err := w.loadPage(ctx, sess, kindUOM, prevPage)
		if err != nil {
			return Reply{}, err
		}
		reply.Text = textWizardNoMatch
		return reply, nil
	}

	w.mu.Lock()
	sess.stage = stageAwaitingUOM
	sess.choices = names
	sess.page = 0
	w.mu.Unlock()

	return Reply{
		Text:     textWizardUOM,
		Keyboard: choiceKeyboard(kindUOM, names, 0, false, true),
	}, nil
}

// submit issues exactly one create call. Whatever the outcome (success,
// validation rejection, outage) the session ends and the stage returns to
// idle; the user re-invokes /new to retry with corrected input.
func (w *Wizard) submit(ctx context.Context, groupID, userID int64, sess *wizardSession) (Reply, error) {
	w.mu.Lock()
	draft := sess.draft
	creds := sess.creds
	w.mu.Unlock()

	err := w.gw.CreateItem(ctx, creds, draft)

	w.mu.Lock()
	cancelled := sess.cancelPending
	w.mu.Unlock()
	w.sessions.Delete(sessionKey{Group: groupID, User: userID})

	logger.TG.Info("wizard submitted",
		slog.String("event", "wizard.submit"),
		slog.Int64("group_id", groupID),
		slog.Int64("user_id", userID),
		slog.String("item_code", draft.Code),
		slog.String("status", logger.Status(err)),
		slog.Bool("cancel_deferred", cancelled),
	)

	var verr *erp.ValidationError
	switch {
	case err == nil:
		return textReply(fmt.Sprintf(textWizardDoneFmt, draft.Code)), nil
	case errors.As(err, &verr):
		return textReply(fmt.Sprintf(textWizardFailFmt, verr.Detail)), nil
	default:
		return Reply{}, err
	}
}

func kindForStage(st stage) string {
	switch st {
	case stageAwaitingGroup:
		return kindGroup
	case stageAwaitingUOM:
		return kindUOM
	default:
		return ""
	}
}

// choiceKeyboard renders a choice page: options in two columns, then a
// navigation row, then search/cancel actions.
func choiceKeyboard(kind string, names []string, page int, hasMore, withSearch bool) [][]keyboard.InlineBtn {
	options := make([]keyboard.InlineBtn, 0, len(names))
	for i, name := range names {
		options = append(options, keyboard.InlineBtn{
			Text:   keyboard.TruncateLabel(name, 32),
			Unique: cbWizPick,
			Data:   kind + ":" + strconv.Itoa(i),
		})
	}
	rows := keyboard.ChunkInline(options, choiceColumns)

	var nav []keyboard.InlineBtn
	if page > 0 {
		nav = append(nav, keyboard.InlineBtn{
			Text:   "«",
			Unique: cbWizPage,
			Data:   kind + ":" + strconv.Itoa(page-1),
		})
	}
	if hasMore {
		nav = append(nav, keyboard.InlineBtn{
			Text:   "»",
			Unique: cbWizPage,
			Data:   kind + ":" + strconv.Itoa(page+1),
		})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	actions := []keyboard.InlineBtn{}
	if withSearch {
		actions = append(actions, keyboard.InlineBtn{Text: "Search", Unique: cbWizSearch})
	}
	actions = append(actions, keyboard.InlineBtn{Text: "Cancel", Unique: cbWizCancel})
	rows = append(rows, actions)

	return rows
}
