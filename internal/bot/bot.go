package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"assignbot/core/logger"
	tg "assignbot/core/telegram"
	"assignbot/core/telegram/commands"
	tghelpers "assignbot/core/telegram/helpers"
	"assignbot/core/telegram/keyboard"
	"assignbot/internal/erp"
	"assignbot/internal/service"
)

// Options tune the controller's volatile state.
type Options struct {
	WizardTTL      time.Duration
	DialogTTL      time.Duration
	CandidateLimit int
}

func (o *Options) defaults() {
	if o.WizardTTL <= 0 {
		o.WizardTTL = 30 * time.Minute
	}
	if o.DialogTTL <= 0 {
		o.DialogTTL = 15 * time.Minute
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = 20
	}
}

// Bot is the conversational controller: it maps inbound chat events onto
// assignment-service calls and wizard transitions and renders replies.
type Bot struct {
	svc    *service.Assignments
	wizard *Wizard
	creds  *CredentialDialog
	seq    *Sequencer
	opts   Options
}

// New wires the controller. The wizard authorizes through the service and
// the credential dialog verifies through it.
func New(svc *service.Assignments, gw WizardGateway, opts Options) *Bot {
	opts.defaults()
	return &Bot{
		svc:    svc,
		wizard: NewWizard(gw, svc, opts.WizardTTL),
		creds:  NewCredentialDialog(svc, opts.DialogTTL),
		seq:    NewSequencer(),
		opts:   opts,
	}
}

// Stop terminates background eviction and drains the sequencer.
func (b *Bot) Stop() {
	b.wizard.Stop()
	b.creds.Stop()
	b.seq.Wait()
}

// Register wires commands and callbacks into the dispatch registry.
func (b *Bot) Register(reg *tg.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     b.handleStart,
		Description: "Register with the bot",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     b.handleHelp,
		Description: "Show available commands",
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     b.handleStatus,
		Description: "Show assignment status",
	})
	reg.RegisterCommand("/assign_manager", commands.Command{
		Handler:     b.handleAssignManager,
		Description: "Assign a sales manager",
		AdminOnly:   true,
		GroupOnly:   true,
		Aliases:     []string{"assign_sales_manager"},
	})
	reg.RegisterCommand("/new", commands.Command{
		Handler:     b.handleNew,
		Description: "Create an item",
		GroupOnly:   true,
	})
	reg.RegisterCommand("/clear", commands.Command{
		Handler:     b.handleClear,
		Description: "Cancel the wizard or clear the assignment",
		GroupOnly:   true,
	})
	reg.RegisterCommand("/report", commands.Command{
		Handler:     b.handleReport,
		Description: "Sales orders report",
		GroupOnly:   true,
	})
	reg.RegisterCommand("/reset_api", commands.Command{
		Handler:     b.handleResetAPI,
		Description: "Reset ERP credentials",
		PrivateOnly: true,
	})

	_ = reg.RegisterCallback(cbAssign, b.cbAssign)
	_ = reg.RegisterCallback(cbReassign, b.cbReassign)
	_ = reg.RegisterCallback(cbReassignNo, b.cbReassignNo)
	_ = reg.RegisterCallback(cbWizPick, b.cbWizardPick)
	_ = reg.RegisterCallback(cbWizPage, b.cbWizardPage)
	_ = reg.RegisterCallback(cbWizSearch, b.cbWizardSearch)
	_ = reg.RegisterCallback(cbWizCancel, b.cbWizardCancel)

	reg.SetTextFallback(b.handleText)
}

// AdminRejectHandler replies when a non-admin invokes an admin command.
func (b *Bot) AdminRejectHandler() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, textNotAdmin)
	}
}

// WrongChatHandler explains the required chat kind when a command is issued
// somewhere it cannot work.
func (b *Bot) WrongChatHandler() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, wrongChatText(c.Chat()))
	}
}

func wrongChatText(chat *tele.Chat) string {
	if isGroupChat(chat) {
		return textPrivateOnly
	}
	return textGroupOnly
}

// InProgress implements the router's Conversations contract.
func (b *Bot) InProgress(chatID, userID int64) bool {
	if chatID == userID {
		return b.creds.InProgress(userID)
	}
	return b.wizard.InProgress(chatID, userID)
}

// HandleText routes free-form text into the active dialog for the chat.
func (b *Bot) HandleText(c tele.Context) error {
	return b.handleText(c)
}

func (b *Bot) handleText(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	if chat.Type == tele.ChatPrivate {
		reply, outcome, handled, err := b.creds.HandleText(ctx, sender.ID, c.Text())
		if err != nil {
			return b.sendError(c, err)
		}
		if !handled {
			return tghelpers.SendText(c, textUnknownPrivate)
		}
		if outcome != CredContinue {
			b.announceCredentialOutcome(c, outcome)
		}
		return b.sendReply(c, reply)
	}

	// Group text feeds the wizard through the chat's lane so stage
	// transitions keep arrival order.
	text := c.Text()
	var (
		reply   Reply
		handled bool
		err     error
	)
	b.seq.DoWait(chat.ID, func() {
		reply, handled, err = b.wizard.HandleText(ctx, chat.ID, sender.ID, text)
	})
	if err != nil {
		return b.sendError(c, err)
	}
	if !handled {
		return nil
	}
	return b.sendReply(c, reply)
}

// announceCredentialOutcome mirrors a finished private credential dialog
// into the group the user manages, so the group sees its ERP gate open or
// stay shut. On verification the customer linkage is made eagerly as well.
func (b *Bot) announceCredentialOutcome(c tele.Context, outcome CredOutcome) {
	ctx := tghelpers.BuildContext(c)
	sender := c.Sender()

	groupID, ok := b.managerGroup(ctx, sender.ID)
	if !ok {
		return
	}
	b.sendToChat(c, groupID, credNoticeText(outcome, userFromTele(sender).DisplayLabel()))

	if outcome == CredVerified {
		if customer, created, err := b.svc.EnsureCustomer(ctx, groupID, sender.ID); err == nil && created {
			b.sendToChat(c, groupID, fmt.Sprintf(textCustomerCreatedFmt, customer))
		}
	}
}

// credNoticeText picks the group wording for a finished credential dialog.
func credNoticeText(outcome CredOutcome, label string) string {
	if outcome == CredRejected {
		return fmt.Sprintf(textGroupCredsRejectedFmt, label)
	}
	return fmt.Sprintf(textGroupCredsVerifiedFmt, label)
}

// managerGroup resolves the group the user currently manages.
func (b *Bot) managerGroup(ctx context.Context, userID int64) (int64, bool) {
	st, err := b.svc.StatusForUser(ctx, userID)
	if err != nil || !st.Manages {
		return 0, false
	}
	return st.GroupID, true
}

// sendToChat delivers text outside the update's own chat. Delivery failures
// are logged, never surfaced: the primary reply must still go out.
func (b *Bot) sendToChat(c tele.Context, chatID int64, text string) {
	if _, err := c.Bot().Send(&tele.Chat{ID: chatID}, text); err != nil {
		logger.TG.Warn("group notice failed",
			slog.String("event", "bot.notify"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
	}
}

// sendReply renders a Reply through the async sender.
func (b *Bot) sendReply(c tele.Context, r Reply) error {
	if r.Text == "" && len(r.Keyboard) == 0 {
		return nil
	}
	if len(r.Keyboard) == 0 {
		return tghelpers.SendText(c, r.Text)
	}
	markup := keyboard.InlineButtonsRows(r.Keyboard...)
	return tghelpers.SendKeyboard(c, r.Text, markup)
}

// sendError converts a domain error into exactly one user-facing reply.
// The original error is returned so handler summaries log it.
func (b *Bot) sendError(c tele.Context, err error) error {
	_ = tghelpers.SendText(c, userText(err))
	return err
}

// userText maps domain errors onto chat wording; anything unexpected
// becomes a generic retry suggestion instead of leaking internals.
func userText(err error) string {
	var verr *erp.ValidationError
	switch {
	case errors.Is(err, service.ErrNotAdmin):
		return textNotAdmin
	case errors.Is(err, service.ErrNotAuthorizedManager):
		return textNotManager
	case errors.Is(err, service.ErrCredentialsMissing):
		return textNeedCredentials
	case errors.Is(err, service.ErrCandidateNeverStarted):
		return textCandidateGone
	case errors.Is(err, service.ErrCredentialRejected):
		return textCredsRejected
	case errors.Is(err, erp.ErrUnavailable):
		return textGatewayDown
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrNoActiveSession):
		return textWizardNothing
	default:
		return textTryAgain
	}
}
