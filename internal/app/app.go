// Package app is the composition root: it turns configuration and bootstrapped
// infrastructure into a runnable Telegram bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/appealbot/core/bootstrap"
	"github.com/m3rciful/appealbot/core/cmd"
	"github.com/m3rciful/appealbot/core/logger"
	tg "github.com/m3rciful/appealbot/core/telegram"
	"github.com/m3rciful/appealbot/core/telegram/state"
	"github.com/m3rciful/appealbot/internal/admission"
	"github.com/m3rciful/appealbot/internal/bot"
	"github.com/m3rciful/appealbot/internal/config"
	"github.com/m3rciful/appealbot/internal/flow"
	"github.com/m3rciful/appealbot/internal/i18n"
	"github.com/m3rciful/appealbot/internal/llm"
	"github.com/m3rciful/appealbot/internal/moderation"
	"github.com/m3rciful/appealbot/internal/routing"
	"github.com/m3rciful/appealbot/internal/storage"
)

const sweepInterval = time.Minute

// App holds the wired bot and the infrastructure it owns.
type App struct {
	cfg      *config.Config
	infra    *bootstrap.Result
	registry *tg.Registry
	bot      *bot.Bot
	// sessions is set when conversation state lives in process.
	sessions *state.MemoryStore
}

// Bootstrap implements cmd.Options.Bootstrap.
func Bootstrap(carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	opts := bootstrap.Options{
		Config:   &cfg.Config,
		Database: cfg.Database,
		Redis:    cfg.Redis,
		Seeders:  []bootstrap.Seeder{bootstrap.SeederFunc(storage.Seeder(cfg.Seed.CatalogPath))},
	}
	infra, err := bootstrap.Run(opts)
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return a, nil
}

// New wires the service graph on top of infra.
func New(cfg *config.Config, infra *bootstrap.Result) (*App, error) {
	tr, err := i18n.Load(cfg.I18n.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	store := storage.New(infra.DB)

	a := &App{cfg: cfg, infra: infra, registry: tg.NewRegistry()}

	var sessions state.Store
	if cfg.Flow.StateBackend == config.StateRedis && infra.Redis != nil {
		sessions = state.NewRedisStore(infra.Redis, cfg.Flow.SessionTTL)
	} else {
		a.sessions = state.NewMemoryStore(cfg.Flow.SessionTTL, nil)
		sessions = a.sessions
	}

	var counters admission.Store = admission.NewMemoryStore()
	if infra.Redis != nil {
		counters = admission.NewRedisStore(infra.Redis)
	}
	gatekeeper := admission.NewController(counters, cfg.Admission.Policy(), nil)

	var (
		classifier moderation.Classifier
		formatter  flow.Formatter
	)
	if cfg.Moderation.Enabled {
		client, err := llm.New(llm.Config{
			APIKey:  cfg.Moderation.APIKey,
			BaseURL: cfg.Moderation.BaseURL,
			Model:   cfg.Moderation.Model,
			Timeout: cfg.Moderation.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		classifier = client
		if cfg.Moderation.Format {
			formatter = client
		}
	}

	out := bot.NewMessenger(tr)
	engine := flow.NewEngine(flow.Deps{
		Store:           sessions,
		Localizer:       tr,
		Reference:       store,
		Messenger:       out,
		Admission:       gatekeeper,
		Moderator:       moderation.NewGate(classifier),
		Router:          routing.NewResolver(store),
		Records:         store,
		Formatter:       formatter,
		ChannelLanguage: cfg.I18n.ChannelLanguage,
		Location:        cfg.I18n.Location(),
	})

	a.bot = bot.New(bot.Deps{
		Flow:            engine,
		Records:         store,
		Ratings:         gatekeeper,
		Translator:      tr,
		Messenger:       out,
		AdminID:         cfg.Telegram.AdminID,
		ChannelLanguage: cfg.I18n.ChannelLanguage,
		Location:        cfg.I18n.Location(),
	})
	if err := a.bot.Register(a.registry); err != nil {
		return nil, fmt.Errorf("app: register handlers: %w", err)
	}

	logger.Info(context.Background(), "app", "wired",
		slog.String("state_backend", cfg.Flow.StateBackend),
		slog.Bool("redis", infra.Redis != nil),
		slog.Bool("moderation", classifier != nil),
		slog.Bool("ai_format", formatter != nil),
	)
	return a, nil
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	return tg.RunOptions{
		Config:      core,
		Registry:    a.registry,
		Middlewares: tg.DefaultMiddlewares(core, nil),
		Routes:      a.bot.Routes(a.registry),
		OnStart:     a.onStart,
		OnStop:      a.onStop,

		// Channel status buttons arrive as callback queries.
		AllowedUpdates: tg.ConversationUpdates,
	}, nil
}

func (a *App) onStart(ctx context.Context, rt tg.Runtime) error {
	if err := a.bot.OnStart(ctx, rt); err != nil {
		return err
	}
	if a.sessions != nil {
		go a.sweep(ctx)
	}
	return nil
}

func (a *App) onStop(context.Context, tg.Runtime) error {
	return a.infra.Close()
}

// sweep evicts expired in-process sessions until ctx ends.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Sweep(); n > 0 {
				logger.Debug(ctx, "app", "sessions.swept", slog.Int("removed", n))
			}
		}
	}
}
