package bot

import (
	"context"
	"time"

	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coredatabase "github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
	"github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/commands"
	"github.com/m3rciful/relaybot/internal/captcha"
	"github.com/m3rciful/relaybot/internal/moderation"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/texts"

	tele "gopkg.in/telebot.v4"
)

// App owns the long-lived components of the relay bot and produces the
// RunOptions that drive the Telegram loop.
type App struct {
	cfg     *coreconfig.Config
	kv      *storage.KV
	db      *sqlx.DB
	journal moderation.Journal
	fetcher *texts.Fetcher

	// dispatcher is bound in the OnStart hook once the bot exists.
	dispatcher *Dispatcher
}

// New connects the storage substrate and, when enabled, the audit database.
func New(cfg *coreconfig.Config) (*App, error) {
	kv, err := storage.Open(storage.Options{
		Addr:      cfg.Storage.Addr,
		Password:  cfg.Storage.Password,
		DB:        cfg.Storage.DB,
		Namespace: cfg.Storage.Namespace,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		kv:      kv,
		journal: moderation.NopJournal{},
	}

	if cfg.Database.Enabled {
		db, err := coredatabase.Connect(cfg.Database)
		if err != nil {
			kv.Close()
			return nil, err
		}
		if err := coredatabase.RunMigrations(cfg.Database); err != nil {
			_ = db.Close()
			kv.Close()
			return nil, err
		}
		app.db = db
		app.journal = moderation.NewPGJournal(db)
	}

	app.fetcher = texts.NewFetcher(
		telegram.BuildHTTPClient(),
		cfg.Texts.StartURL,
		cfg.Notify.URL,
		cfg.Texts.FraudURL,
	)

	return app, nil
}

// Close releases storage and database handles.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.DB.Warn("close failed",
				slog.String("event", "close"),
				slog.String("error", err.Error()),
			)
		}
	}
	if a.kv != nil {
		a.kv.Close()
	}
}

// RunOptions assembles the registry, routes and lifecycle hooks for
// telegram.RunTelegram. The dispatcher is wired in OnStart, after the bot is
// built and before updates flow.
func (a *App) RunOptions() telegram.RunOptions {
	reg := telegram.NewRegistry()
	reg.RegisterCommand(CmdStart, commands.Command{
		Handler:     a.entry,
		Description: "Show the greeting",
		Hidden:      true,
	})
	reg.RegisterCommand(captcha.CommandNewChallenge, commands.Command{
		Handler:     a.entry,
		Description: "Get a new verification question",
	})
	reg.RegisterCommand(CmdBlock, commands.Command{
		Handler:     a.entry,
		Description: "Block the sender of the replied-to message",
	})
	reg.RegisterCommand(CmdUnblock, commands.Command{
		Handler:     a.entry,
		Description: "Unblock the sender of the replied-to message",
	})
	reg.RegisterCommand(CmdCheckBlock, commands.Command{
		Handler:     a.entry,
		Description: "Show block state of the replied-to sender",
	})

	routes := []telegram.Route{
		{Endpoint: tele.OnText, Handler: a.entry},
		{Endpoint: tele.OnEdited, Handler: a.entry},
		{Endpoint: tele.OnMedia, Handler: a.entry},
	}
	for name, cmd := range reg.Commands() {
		routes = append(routes, telegram.Route{Endpoint: name, Handler: cmd.Handler})
	}

	return telegram.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: telegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      routes,
		OnStart: func(_ context.Context, rt telegram.Runtime) error {
			a.bind(rt)
			return nil
		},
	}
}

// bind builds the domain components against the live bot API.
func (a *App) bind(rt telegram.Runtime) {
	api := &telebotAPI{bot: rt.Bot}
	cfg := a.cfg

	engine := captcha.NewEngine(a.kv, api, captcha.Config{
		MaxAttempts:  cfg.Captcha.MaxAttempts,
		ChallengeTTL: time.Duration(cfg.Captcha.ChallengeTTLSeconds) * time.Second,
		VerifiedTTL:  time.Duration(cfg.Captcha.VerifiedTTLDays) * 24 * time.Hour,
	})
	router := relay.NewRouter(a.kv, api, cfg.Telegram.AdminID,
		time.Duration(cfg.Relay.RouteTTLDays)*24*time.Hour)
	mod := moderation.NewStore(a.kv, a.journal, cfg.Telegram.AdminID)

	a.dispatcher = NewDispatcher(Options{
		AdminID:         cfg.Telegram.AdminID,
		CaptchaDisabled: cfg.Captcha.Disabled,
		NotifyDisabled:  cfg.Notify.Disabled,
		NotifyInterval:  time.Duration(cfg.Notify.IntervalSeconds) * time.Second,
		KV:              a.kv,
		Engine:          engine,
		Router:          router,
		Moderation:      mod,
		Texts:           a.fetcher,
		Messenger:       api,
		Async:           rt.Dispatcher,
	})
}
