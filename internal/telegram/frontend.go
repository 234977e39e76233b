package telegram

import (
	"context"
	"fmt"

	"github.com/ej0e1/tbot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the subset of *tgbotapi.BotAPI the adapter uses
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ session.FrontEnd = (*FrontEnd)(nil)

// FrontEnd renders coordinator output as Telegram messages
type FrontEnd struct {
	api BotAPI
}

// NewFrontEnd creates a Telegram front end
func NewFrontEnd(api BotAPI) *FrontEnd {
	return &FrontEnd{api: api}
}

// Send sends a text message with optional inline buttons
func (f *FrontEnd) Send(ctx context.Context, chatID int64, text string, buttons []session.Button) (session.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return session.MessageRef{}, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := keyboard(buttons); markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := f.api.Send(msg)
	if err != nil {
		return session.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return session.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text and buttons of a sent message.
// Passing no buttons removes the existing keyboard.
func (f *FrontEnd) Edit(ctx context.Context, ref session.MessageRef, text string, buttons []session.Button) (session.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return session.MessageRef{}, err
	}
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ReplyMarkup = keyboard(buttons)
	if _, err := f.api.Request(edit); err != nil {
		return session.MessageRef{}, fmt.Errorf("edit message: %w", err)
	}
	return ref, nil
}

// Delete deletes a sent message
func (f *FrontEnd) Delete(ctx context.Context, ref session.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := f.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func keyboard(buttons []session.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		if b.URL != "" {
			row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
		} else {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(row)
	return &markup
}
