package router

import (
	"context"
	"time"

	tg "github.com/m3rciful/appealbot/core/telegram"
	tghelpers "github.com/m3rciful/appealbot/core/telegram/helpers"
	"github.com/m3rciful/appealbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM defines the minimal interface for an FSM manager.
type FSM interface {
	InProgress(ctx context.Context, userID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text and media updates.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// mediaEndpoints are routed to the FSM while a conversation is active.
var mediaEndpoints = []struct {
	endpoint string
	name     string
}{
	{tele.OnDocument, "document"},
	{tele.OnPhoto, "photo"},
	{tele.OnVideo, "video"},
	{tele.OnContact, "contact"},
}

func inProgress(fsmMgr FSM, c tele.Context) bool {
	if fsmMgr == nil || c.Sender() == nil {
		return false
	}
	return fsmMgr.InProgress(tghelpers.BuildContext(c), c.Sender().ID)
}

// TextRoutes builds handlers for text and media routing.
func TextRoutes(fsmMgr FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if inProgress(fsmMgr, c) {
			return handleWithSummary(c, "fsm", start, "", "", func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
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

	routes := []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}}

	for _, m := range mediaEndpoints {
		name := m.name
		mediaHandler := func(c tele.Context) error {
			start := time.Now()
			if inProgress(fsmMgr, c) {
				return handleWithSummary(c, "fsm_"+name, start, "", "", func() error {
					return fsmMgr.ManagerHandler(c)
				})
			}
			if opts.UnknownMedia != nil {
				return handleWithSummary(c, "unexpected_"+name, start, "", "", func() error {
					return opts.UnknownMedia(c)
				})
			}
			logHandlerSummary(c, "unexpected_"+name, start, "skip", "ok", nil)
			return nil
		}
		routes = append(routes, tg.Route{
			Endpoint: m.endpoint,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(mediaHandler)),
		})
	}
	return routes
}
