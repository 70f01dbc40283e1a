package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	tghelpers "assignbot/core/telegram/helpers"
	"assignbot/internal/store"
)

func userFromTele(u *tele.User) store.User {
	return store.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func groupFromTele(chat *tele.Chat) store.Group {
	return store.Group{ID: chat.ID, Title: chat.Title}
}

func isGroupChat(chat *tele.Chat) bool {
	return chat != nil && (chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup)
}

func (b *Bot) handleStart(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	if isGroupChat(chat) {
		if err := b.svc.TouchGroup(ctx, groupFromTele(chat)); err != nil {
			return b.sendError(c, err)
		}
		if err := b.svc.RegisterStart(ctx, userFromTele(sender)); err != nil {
			return b.sendError(c, err)
		}
		return tghelpers.SendText(c, textStartGroup)
	}

	if err := b.svc.RegisterStart(ctx, userFromTele(sender)); err != nil {
		return b.sendError(c, err)
	}
	return tghelpers.SendText(c, textStartPrivate)
}

func (b *Bot) handleHelp(c tele.Context) error {
	return tghelpers.SendText(c, textHelp)
}

func (b *Bot) handleStatus(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	if isGroupChat(chat) {
		st, err := b.svc.Status(ctx, chat.ID)
		if err != nil {
			return b.sendError(c, err)
		}
		if !st.Assigned {
			return tghelpers.SendText(c, textStatusUnassigned)
		}
		creds := textStatusMissing
		if st.Verified {
			creds = textStatusVerified
		}
		return tghelpers.SendText(c, fmt.Sprintf(textStatusFmt, st.Manager.DisplayLabel(), creds))
	}

	st, err := b.svc.StatusForUser(ctx, sender.ID)
	if err != nil {
		return b.sendError(c, err)
	}
	if !st.Manages {
		return tghelpers.SendText(c, textUserStatusNone)
	}
	title := st.GroupTitle
	if title == "" {
		title = fmt.Sprintf("group %d", st.GroupID)
	}
	creds := textStatusMissing
	if st.Verified {
		creds = textStatusVerified
	}
	return tghelpers.SendText(c, fmt.Sprintf(textUserStatusFmt, title, creds))
}

func (b *Bot) handleNew(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	// Link the ERP customer ahead of need; a failure here only defers the
	// linkage to /report and never blocks the wizard.
	if customer, created, err := b.svc.EnsureCustomer(ctx, chat.ID, sender.ID); err == nil && created {
		_ = tghelpers.SendText(c, fmt.Sprintf(textCustomerCreatedFmt, customer))
	}

	var (
		reply Reply
		err   error
	)
	b.seq.DoWait(chat.ID, func() {
		reply, err = b.wizard.Start(ctx, chat.ID, sender.ID)
	})
	if err != nil {
		return b.sendError(c, err)
	}
	return b.sendReply(c, reply)
}

// handleClear cancels the caller's wizard when one is running; otherwise an
// administrator clears the group's assignment. Cancel deliberately bypasses
// the chat lane so it can reach a submit already in flight.
func (b *Bot) handleClear(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	reply, err := b.wizard.Cancel(chat.ID, sender.ID)
	if err == nil {
		return b.sendReply(c, reply)
	}

	if b.svc.IsAdmin(sender.ID) {
		if err := b.svc.ClearGroup(ctx, sender.ID, chat.ID); err != nil {
			return b.sendError(c, err)
		}
		b.wizard.CancelGroup(chat.ID)
		return tghelpers.SendText(c, textClearedAssignment)
	}
	return tghelpers.SendText(c, textWizardNothing)
}

func (b *Bot) handleReport(c tele.Context) error {
	chat, sender := c.Chat(), c.Sender()
	if chat == nil || sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	customer, _, err := b.svc.EnsureCustomer(ctx, chat.ID, sender.ID)
	if err != nil {
		return b.sendError(c, err)
	}
	rows, err := b.svc.Report(ctx, chat.ID, sender.ID)
	if err != nil {
		return b.sendError(c, err)
	}
	if len(rows) == 0 {
		return tghelpers.SendText(c, textReportEmpty)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, textReportHeaderFmt, customer)
	for _, row := range rows {
		sb.WriteString("\n• ")
		sb.WriteString(formatReportRow(row, b.svc.ReportFields()))
	}
	return tghelpers.SendText(c, sb.String())
}

// formatReportRow joins the configured columns in order, skipping blanks.
func formatReportRow(row map[string]any, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := row[f]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "—"
	}
	return strings.Join(parts, " | ")
}

func (b *Bot) handleResetAPI(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	reply, err := b.creds.Reset(ctx, sender.ID)
	if err != nil {
		return b.sendError(c, err)
	}

	// The manager's group loses its ERP access with the reset; tell it.
	if groupID, ok := b.managerGroup(ctx, sender.ID); ok {
		b.sendToChat(c, groupID, fmt.Sprintf(textGroupCredsResetFmt, userFromTele(sender).DisplayLabel()))
	}
	return b.sendReply(c, reply)
}
