package app

import (
	"context"
	"fmt"
	"time"

	corebootstrap "assignbot/core/bootstrap"
	coretelegram "assignbot/core/telegram"
	tghelpers "assignbot/core/telegram/helpers"
	"assignbot/core/telegram/router"
	"assignbot/internal/bot"
	"assignbot/internal/erp"
	"assignbot/internal/service"
	"assignbot/internal/store"
	"assignbot/internal/store/pg"

	tele "gopkg.in/telebot.v4"
)

// App owns the composed application: storage, ERP client, assignment
// service and the chat controller.
type App struct {
	cfg *Config

	store store.Store
	bot   *bot.Bot
}

// Bootstrap initializes infrastructure and wires the domain graph.
func Bootstrap(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}

	res, err := corebootstrap.Run(corebootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	st := pg.New(res.DB)
	gateway := erp.New(cfg.ERP)

	svc := service.New(st, gateway, service.Config{
		AdminIDs: cfg.Core.Telegram.AdminIDs,
		Report:   cfg.Report,
		Customer: cfg.Customer,
	})

	b := bot.New(svc, gateway, bot.Options{
		WizardTTL:      time.Duration(cfg.Dialogs.WizardTTLMinutes) * time.Minute,
		DialogTTL:      time.Duration(cfg.Dialogs.CredentialTTLMinutes) * time.Minute,
		CandidateLimit: cfg.Dialogs.CandidateLimit,
	})

	return &App{cfg: cfg, store: st, bot: b}, nil
}

// TelegramRunOptions assembles registry, middlewares and routes for the
// shared Telegram runtime.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.bot.Register(reg)

	isAdmin := a.cfg.Core.Telegram.IsAdmin
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsAdmin:       isAdmin,
		OnAdminReject: a.bot.AdminRejectHandler(),
		OnWrongChat:   a.bot.WrongChatHandler(),
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.bot, reg, router.TextOptions{
		IsAdmin:       isAdmin,
		OnAdminReject: a.bot.AdminRejectHandler(),
		OnWrongChat:   a.bot.WrongChatHandler(),
	})...)

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), rateLimitedNotice),
		Routes:      routes,
		OnStop: func(_ context.Context, _ coretelegram.Runtime) error {
			a.bot.Stop()
			return a.store.Close()
		},
	}, nil
}

func rateLimitedNotice(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Too fast, try again"})
	}
	return tghelpers.SendText(c, "Too many requests, slow down a little.")
}
