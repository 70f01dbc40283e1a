package bot

import (
	"errors"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"assignbot/core/telegram/callbacks"
	tghelpers "assignbot/core/telegram/helpers"
	"assignbot/core/telegram/keyboard"
	"assignbot/internal/store"
)

// handleAssignManager opens the candidate picker. Candidates are users who
// sent /start and currently manage no group.
func (b *Bot) handleAssignManager(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	if err := b.svc.TouchGroup(ctx, groupFromTele(chat)); err != nil {
		return b.sendError(c, err)
	}
	users, err := b.svc.Candidates(ctx, b.opts.CandidateLimit)
	if err != nil {
		return b.sendError(c, err)
	}
	if len(users) == 0 {
		return tghelpers.SendText(c, textNoCandidates)
	}

	rows := make([][]keyboard.InlineBtn, 0, len(users))
	for _, u := range users {
		rows = append(rows, []keyboard.InlineBtn{{
			Text:   keyboard.TruncateLabel(u.DisplayLabel(), 48),
			Unique: cbAssign,
			Data:   strconv.FormatInt(u.ID, 10),
		}})
	}
	return tghelpers.SendKeyboard(c, textPickCandidate, keyboard.InlineButtonsRows(rows...))
}

// cbAssign binds the picked candidate without override. A conflict with the
// group's current manager turns into a replace confirmation.
func (b *Bot) cbAssign(c tele.Context) error {
	return b.assign(c, false)
}

// cbReassign is the confirmed replacement path.
func (b *Bot) cbReassign(c tele.Context) error {
	return b.assign(c, true)
}

func (b *Bot) cbReassignNo(c tele.Context) error {
	return tghelpers.EditOrSend(c, textReassignKept)
}

func (b *Bot) assign(c tele.Context, override bool) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	candidateID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return tghelpers.EditOrSend(c, textTryAgain)
	}
	ctx := tghelpers.BuildContext(c)

	_, err = b.svc.RequestAssignment(ctx, sender.ID, chat.ID, candidateID, override)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAlreadyAssigned):
		return b.promptReassign(c, candidateID)
	case errors.Is(err, store.ErrUserAlreadyManager):
		return tghelpers.EditOrSend(c, textUserAlreadyBound)
	default:
		_ = tghelpers.EditOrSend(c, userText(err))
		return err
	}

	// A replaced manager's wizard must not outlive the assignment.
	b.wizard.CancelGroup(chat.ID)

	label := "id:" + strconv.FormatInt(candidateID, 10)
	if u, uerr := b.svc.User(ctx, candidateID); uerr == nil {
		label = u.DisplayLabel()
	}
	if err := tghelpers.EditOrSend(c, fmt.Sprintf(textAssignedFmt, label)); err != nil {
		return err
	}
	return b.promptCredentials(c, candidateID)
}

// promptReassign renders the replace-confirmation keyboard with the current
// and proposed manager names.
func (b *Bot) promptReassign(c tele.Context, candidateID int64) error {
	ctx := tghelpers.BuildContext(c)

	current := "unknown"
	if st, err := b.svc.Status(ctx, c.Chat().ID); err == nil && st.Assigned {
		current = st.Manager.DisplayLabel()
	}
	proposed := "id:" + strconv.FormatInt(candidateID, 10)
	if u, err := b.svc.User(ctx, candidateID); err == nil {
		proposed = u.DisplayLabel()
	}

	payload := strconv.FormatInt(candidateID, 10)
	markup := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: textReassignYes, Unique: cbReassign, Data: payload},
		{Text: textReassignNo, Unique: cbReassignNo},
	})
	text := fmt.Sprintf(textReassignPromptFmt, current, proposed)
	return tghelpers.EditOrSend(c, text, markup)
}

// promptCredentials opens the private credential dialog for the new manager
// and nudges them over DM. A blocked DM is reported back into the group.
func (b *Bot) promptCredentials(c tele.Context, managerID int64) error {
	reply := b.creds.Prompt(managerID)
	if _, err := c.Bot().Send(&tele.User{ID: managerID}, reply.Text); err != nil {
		return tghelpers.SendText(c, textDMHint)
	}
	return nil
}
