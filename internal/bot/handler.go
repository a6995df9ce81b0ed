package bot

import (
	"context"
	"strconv"
	"time"

	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// telebotAPI adapts *tele.Bot to the Messenger and relay API surfaces.
type telebotAPI struct {
	bot *tele.Bot
}

func (a *telebotAPI) SendText(_ context.Context, chatID int64, text string) error {
	_, err := a.bot.Send(tele.ChatID(chatID), text)
	return err
}

func (a *telebotAPI) Forward(_ context.Context, toChat, fromChat int64, messageID int) (int, error) {
	msg, err := a.bot.Forward(tele.ChatID(toChat), &tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    fromChat,
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (a *telebotAPI) Copy(_ context.Context, toChat, fromChat int64, messageID int) error {
	_, err := a.bot.Copy(tele.ChatID(toChat), &tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    fromChat,
	})
	return err
}

// entry is the single telebot handler behind every route. It normalizes the
// update and hands it to the dispatcher.
func (a *App) entry(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "relay")
	start := time.Now()

	err := a.dispatcher.HandleMessage(ctx, inboundFrom(c))

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int("messages", middleware.GetCounters(c)),
		slog.Duration("took", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.LogEvent(ctx, logger.Component("tg"), slog.LevelInfo, "handler.done", attrs...)
	return err
}

// inboundFrom flattens a telebot update into the transport-neutral Inbound.
// Media messages carry their caption as text.
func inboundFrom(c tele.Context) Inbound {
	in := Inbound{UpdateID: c.Update().ID}
	msg := c.Message()
	if msg == nil {
		return in
	}
	in.MessageID = msg.ID
	in.Text = msg.Text
	if in.Text == "" {
		in.Text = msg.Caption
	}
	if msg.Chat != nil {
		in.ChatID = msg.Chat.ID
	}
	if msg.Sender != nil {
		in.SenderID = msg.Sender.ID
	}
	if msg.ReplyTo != nil {
		in.ReplyTo = &ReplyRef{MessageID: msg.ReplyTo.ID}
	}
	return in
}
