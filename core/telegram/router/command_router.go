package router

import (
	"assignbot/core/logger"
	tg "assignbot/core/telegram"
	"assignbot/core/telegram/middleware"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	IsAdmin       func(userID int64) bool
	OnAdminReject tele.HandlerFunc
	OnWrongChat   tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOpts := middleware.AdminOptions{
		IsAdmin:  opts.IsAdmin,
		OnReject: opts.OnAdminReject,
	}

	routes := make([]tg.Route, 0, len(reg.Commands()))
	for cmd, def := range reg.Commands() {
		h := def.Handler
		h = chatTypeGate(def.GroupOnly, def.PrivateOnly, opts.OnWrongChat, h)
		h = middleware.RecoverMiddleware(h)
		h = middleware.LoggerMiddleware(h)
		if def.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		}
		routes = append(routes, tg.Route{
			Endpoint: cmd,
			Handler:  h,
		})
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(reg.Commands())),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}

// chatTypeGate silently drops commands issued in the wrong chat kind.
func chatTypeGate(groupOnly, privateOnly bool, onWrongChat tele.HandlerFunc, next tele.HandlerFunc) tele.HandlerFunc {
	if !groupOnly && !privateOnly {
		return next
	}
	return func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		isPrivate := chat.Type == tele.ChatPrivate
		isGroup := chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup
		if (groupOnly && !isGroup) || (privateOnly && !isPrivate) {
			if onWrongChat != nil {
				return onWrongChat(c)
			}
			return nil
		}
		return next(c)
	}
}
