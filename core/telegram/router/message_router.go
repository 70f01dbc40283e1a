package router

import (
	"time"

	tg "assignbot/core/telegram"
	"assignbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Conversations is the minimal interface for a multi-step dialog manager.
// A dialog is addressed by the chat it runs in and the user driving it.
type Conversations interface {
	InProgress(chatID, userID int64) bool
	HandleText(c tele.Context) error
}

// TextOptions controls gating and fallback behaviour for plain text updates.
type TextOptions struct {
	IsAdmin       func(userID int64) bool
	OnAdminReject tele.HandlerFunc
	OnWrongChat   tele.HandlerFunc
	UnknownText   tele.HandlerFunc
}

// TextRoutes builds handlers routing free-form text either into an active
// dialog or to registry command lookup with fallbacks. Command aliases land
// here (they have no dedicated endpoint), so the lookup path applies the
// same admin and chat-kind gates as CommandRoutes.
func TextRoutes(dialogs Conversations, reg *tg.Registry, opts TextOptions) []tg.Route {
	adminOpts := middleware.AdminOptions{
		IsAdmin:  opts.IsAdmin,
		OnReject: opts.OnAdminReject,
	}

	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if dialogs != nil && c.Chat() != nil && c.Sender() != nil &&
			dialogs.InProgress(c.Chat().ID, c.Sender().ID) {
			return handleWithSummary(c, "dialog", start, "", "", func() error {
				return dialogs.HandleText(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				h := chatTypeGate(cmd.GroupOnly, cmd.PrivateOnly, opts.OnWrongChat, cmd.Handler)
				if cmd.AdminOnly {
					h = middleware.AdminOnlyMiddleware(adminOpts)(h)
				}
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return h(c)
				})
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	return []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
	}
}
