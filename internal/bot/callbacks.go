package bot

import (
	tele "gopkg.in/telebot.v4"

	"assignbot/core/telegram/callbacks"
	tghelpers "assignbot/core/telegram/helpers"
	"assignbot/core/telegram/keyboard"
)

// Wizard button events run through the chat's lane like text does, so a
// tap and a message racing each other still apply in arrival order.

func (b *Bot) cbWizardPick(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	kind, index, perr := callbacks.PayloadKindIndex(c)
	if perr != nil {
		return tghelpers.EditOrSend(c, textWizardStale)
	}
	ctx := tghelpers.BuildContext(c)

	var (
		reply Reply
		err   error
	)
	b.seq.DoWait(chat.ID, func() {
		reply, err = b.wizard.HandlePick(ctx, chat.ID, sender.ID, kind, index)
	})
	if err != nil {
		return b.sendError(c, err)
	}
	return b.editReply(c, reply)
}

func (b *Bot) cbWizardPage(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	kind, page, perr := callbacks.PayloadKindIndex(c)
	if perr != nil {
		return tghelpers.EditOrSend(c, textWizardStale)
	}
	ctx := tghelpers.BuildContext(c)

	var (
		reply Reply
		err   error
	)
	b.seq.DoWait(chat.ID, func() {
		reply, err = b.wizard.HandlePage(ctx, chat.ID, sender.ID, kind, page)
	})
	if err != nil {
		return b.sendError(c, err)
	}
	return b.editReply(c, reply)
}

func (b *Bot) cbWizardSearch(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}

	var (
		reply Reply
		err   error
	)
	b.seq.DoWait(chat.ID, func() {
		reply, err = b.wizard.HandleSearch(chat.ID, sender.ID)
	})
	if err != nil {
		return b.sendError(c, err)
	}
	return b.editReply(c, reply)
}

// cbWizardCancel bypasses the lane on purpose: a cancel must be able to
// reach a submit already in flight and defer the teardown.
func (b *Bot) cbWizardCancel(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	reply, err := b.wizard.Cancel(chat.ID, sender.ID)
	if err != nil {
		return b.sendError(c, err)
	}
	return b.editReply(c, reply)
}

// editReply rewrites the keyboard message in place; falls back to a fresh
// message when the original is gone.
func (b *Bot) editReply(c tele.Context, r Reply) error {
	if r.Text == "" && len(r.Keyboard) == 0 {
		return nil
	}
	if len(r.Keyboard) == 0 {
		return tghelpers.EditOrSend(c, r.Text)
	}
	return tghelpers.EditOrSend(c, r.Text, keyboard.InlineButtonsRows(r.Keyboard...))
}
