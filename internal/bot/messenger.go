package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/core/telegram/keyboard"
	"github.com/m3rciful/appealbot/core/telegram/sender"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/flow"

	tele "gopkg.in/telebot.v4"
)

// StatusCallback is the unique key of the inline status buttons on channel posts.
const StatusCallback = "appeal_status"

const optionsPerRow = 2

// errNotReady is returned while the bot API is not attached yet.
var errNotReady = errors.New("bot: telegram api not attached")

// api is the part of the Telegram client the messenger needs.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

// Messenger delivers flow prompts and channel posts through the dispatcher.
type Messenger struct {
	api  atomic.Pointer[api]
	disp atomic.Pointer[sender.Dispatcher]
	tr   flow.Localizer
}

// NewMessenger builds a Messenger. It sends nothing until Attach is called.
func NewMessenger(tr flow.Localizer) *Messenger {
	return &Messenger{tr: tr}
}

// Attach sets the Telegram client once the bot is running. A nil dispatcher
// sends synchronously.
func (m *Messenger) Attach(a api, disp *sender.Dispatcher) {
	m.api.Store(&a)
	m.disp.Store(disp)
}

func (m *Messenger) client() (api, error) {
	p := m.api.Load()
	if p == nil || *p == nil {
		return nil, errNotReady
	}
	return *p, nil
}

// Send implements flow.Messenger.
func (m *Messenger) Send(ctx context.Context, chatID int64, p flow.Prompt) error {
	client, err := m.client()
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{ReplyMarkup: m.replyMarkup(p)}
	return m.enqueue(ctx, "send.prompt", "sendMessage", func() error {
		_, err := client.Send(tele.ChatID(chatID), p.Text, opts)
		return err
	})
}

// Post implements flow.Messenger: the announcement with status buttons first,
// then the attachments grouped by kind.
func (m *Messenger) Post(ctx context.Context, post flow.ChannelPost) error {
	client, err := m.client()
	if err != nil {
		return err
	}
	to := tele.ChatID(post.ChatID)
	opts := &tele.SendOptions{ReplyMarkup: m.statusMarkup(post.Language, post.AppealID)}
	return m.enqueue(ctx, "send.channel_post", "sendMessage", func() error {
		if _, err := client.Send(to, post.Text, opts); err != nil {
			return err
		}
		return sendAttachments(client, to, post.Attachments)
	})
}

// Notify sends plain text with no keyboard change.
func (m *Messenger) Notify(ctx context.Context, chatID int64, text string) error {
	client, err := m.client()
	if err != nil {
		return err
	}
	return m.enqueue(ctx, "send.notify", "sendMessage", func() error {
		_, err := client.Send(tele.ChatID(chatID), text)
		return err
	})
}

func (m *Messenger) enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := m.disp.Load()
	if disp == nil {
		return run()
	}
	err := disp.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

// sendAttachments sends photos and videos as one album and documents one by one.
func sendAttachments(client api, to tele.Recipient, files []appeal.Attachment) error {
	var album tele.Album
	var docs []*tele.Document
	for _, f := range files {
		switch f.FileType {
		case appeal.FilePhoto:
			album = append(album, &tele.Photo{File: tele.File{FileID: f.FileID}})
		case appeal.FileVideo:
			album = append(album, &tele.Video{File: tele.File{FileID: f.FileID}})
		default:
			docs = append(docs, &tele.Document{File: tele.File{FileID: f.FileID}, FileName: f.FileName})
		}
	}
	switch len(album) {
	case 0:
	case 1:
		if _, err := client.Send(to, album[0]); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	default:
		if _, err := client.SendAlbum(to, album); err != nil {
			return fmt.Errorf("send album: %w", err)
		}
	}
	for _, d := range docs {
		if _, err := client.Send(to, d); err != nil {
			return fmt.Errorf("send document: %w", err)
		}
	}
	return nil
}

// replyMarkup lays out options two per row, then the share-phone button, then
// navigation. A menu prompt replaces everything with the main menu.
func (m *Messenger) replyMarkup(p flow.Prompt) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	if p.Menu {
		return menuMarkup(m.tr, p.Language)
	}
	if len(p.Options) == 0 && p.RequestContact == "" && len(p.Nav) == 0 {
		return keyboard.RemoveKeyboard()
	}

	btns := make([]tele.Btn, 0, len(p.Options))
	for _, o := range p.Options {
		btns = append(btns, markup.Text(o.Label))
	}
	var rows []tele.Row
	for _, r := range keyboard.ChunkButtons(btns, optionsPerRow) {
		rows = append(rows, markup.Row(r...))
	}
	if p.RequestContact != "" {
		rows = append(rows, markup.Row(markup.Contact(p.RequestContact)))
	}
	if len(p.Nav) > 0 {
		nav := make([]tele.Btn, 0, len(p.Nav))
		for _, label := range p.Nav {
			nav = append(nav, markup.Text(label))
		}
		rows = append(rows, markup.Row(nav...))
	}
	markup.Reply(rows...)
	return markup
}

// menuMarkup is the idle keyboard shown between appeals.
func menuMarkup(tr flow.Localizer, lang string) *tele.ReplyMarkup {
	return keyboard.ReplyButtons(
		[]string{tr.T(lang, "btn.new_appeal")},
		[]string{tr.T(lang, "btn.my_appeals"), tr.T(lang, "btn.help")},
	)
}

func (m *Messenger) statusMarkup(lang string, appealID int64) *tele.ReplyMarkup {
	id := strconv.FormatInt(appealID, 10)
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: m.tr.T(lang, "btn.status_completed"), Unique: StatusCallback, Data: id + "|" + string(appeal.StatusCompleted)},
		{Text: m.tr.T(lang, "btn.status_rejected"), Unique: StatusCallback, Data: id + "|" + string(appeal.StatusRejected)},
	})
}
