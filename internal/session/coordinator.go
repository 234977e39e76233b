package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ej0e1/tbot/internal/model"

	"go.uber.org/zap"
)

const (
	TextGreeting  = "Hello! Send an email to search for the corresponding link in the database."
	TextSearching = "Searching for the link..."
	TextFound     = "Here is your link:"
	TextNotFound  = "No link found for this email."
	TextFailed    = "Something went wrong while searching for the link. Please try again later."
	TextNeedEmail = "Please send an email address to search for."

	ButtonLink  = "Link"
	ButtonRetry = "Try Again"
)

// renderTimeout bounds the front-end calls made after a retrieval finished
const renderTimeout = 10 * time.Second

// ErrEditUnsupported is returned by front ends that cannot edit a sent message
var ErrEditUnsupported = errors.New("front end cannot edit messages")

// Button is an inline button; exactly one of URL or Data is set
type Button struct {
	Text string
	URL  string
	Data string
}

// MessageRef identifies a message sent by the bot
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// FrontEnd renders messages to the user
type FrontEnd interface {
	Send(ctx context.Context, chatID int64, text string, buttons []Button) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, buttons []Button) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
}

// Retriever runs one bounded retrieval
type Retriever interface {
	Lookup(ctx context.Context, key, owner string) (*model.RetrievalRequest, error)
}

// Config is the configuration for the coordinator
type Config struct {
	// ScopeByOwner restricts retrievals to rows written for the requesting chat
	ScopeByOwner bool
}

// Coordinator turns user submissions into retrievals and renders their outcome
type Coordinator struct {
	cfg       Config
	retriever Retriever
	fe        FrontEnd
	log       *zap.Logger
}

// NewCoordinator creates a new coordinator
func NewCoordinator(cfg Config, retriever Retriever, fe FrontEnd, log *zap.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, retriever: retriever, fe: fe, log: log}
}

// Greet answers the start command
func (c *Coordinator) Greet(ctx context.Context, chatID int64) error {
	_, err := c.fe.Send(ctx, chatID, TextGreeting, nil)
	if err != nil {
		c.log.Error("Greet: send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return err
}

// SubmitKey shows the waiting indicator and searches for key.
// It returns an error only when the outcome could not be rendered.
func (c *Coordinator) SubmitKey(ctx context.Context, chatID int64, key string) error {
	c.log.Info("SubmitKey", zap.Int64("chat_id", chatID), zap.String("email", key))
	if strings.TrimSpace(key) == "" {
		_, err := c.fe.Send(ctx, chatID, TextNeedEmail, nil)
		return err
	}
	waiting, err := c.fe.Send(ctx, chatID, TextSearching, nil)
	if err != nil {
		c.log.Error("SubmitKey: send waiting indicator failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return c.search(ctx, chatID, waiting, key)
}

// Retry restarts the search encoded in a retry button's callback data.
// The clicked message becomes the waiting indicator when it can be edited.
func (c *Coordinator) Retry(ctx context.Context, clicked MessageRef, data string) error {
	key, err := DecodeRetry(data)
	if err != nil {
		c.log.Warn("Retry: bad callback data", zap.String("data", data), zap.Error(err))
		return err
	}
	c.log.Info("Retry", zap.Int64("chat_id", clicked.ChatID), zap.String("email", key))

	waiting, err := c.fe.Edit(ctx, clicked, TextSearching, nil)
	if err != nil {
		if !errors.Is(err, ErrEditUnsupported) {
			c.log.Warn("Retry: edit failed, sending new indicator", zap.Int64("chat_id", clicked.ChatID), zap.Error(err))
		}
		waiting, err = c.fe.Send(ctx, clicked.ChatID, TextSearching, nil)
		if err != nil {
			c.log.Error("Retry: send waiting indicator failed", zap.Int64("chat_id", clicked.ChatID), zap.Error(err))
			return err
		}
	}
	return c.search(ctx, clicked.ChatID, waiting, key)
}

func (c *Coordinator) search(ctx context.Context, chatID int64, waiting MessageRef, key string) error {
	var owner string
	if c.cfg.ScopeByOwner {
		owner = strconv.FormatInt(chatID, 10)
	}

	req, err := c.retriever.Lookup(ctx, key, owner)

	// the outcome is rendered even if ctx was cancelled mid-search
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
	defer cancel()

	if derr := c.fe.Delete(rctx, waiting); derr != nil {
		c.log.Warn("search: delete waiting indicator failed", zap.Int64("chat_id", chatID), zap.Error(derr))
	}

	if errors.Is(err, model.ErrEmptyKey) {
		c.log.Info("search: empty key", zap.Int64("chat_id", chatID))
		_, serr := c.fe.Send(rctx, chatID, TextNeedEmail, nil)
		return serr
	}
	if err != nil || req == nil || req.Status == model.StatusFailed {
		c.log.Error("search: retrieval failed", zap.Int64("chat_id", chatID), zap.String("email", key), zap.Error(err))
		_, serr := c.fe.Send(rctx, chatID, TextFailed, nil)
		return serr
	}

	switch req.Status {
	case model.StatusDelivered:
		c.log.Info("search: link delivered", zap.Int64("chat_id", chatID), zap.String("email", key))
		return c.sendLink(rctx, chatID, req.Payload)
	default:
		c.log.Info("search: no link found", zap.Int64("chat_id", chatID), zap.String("email", key), zap.Int("attempts", req.Attempts))
		var buttons []Button
		if data, eerr := EncodeRetry(key); eerr == nil {
			buttons = []Button{{Text: ButtonRetry, Data: data}}
		} else {
			c.log.Warn("search: no retry button", zap.String("email", key), zap.Error(eerr))
		}
		_, err = c.fe.Send(rctx, chatID, TextNotFound, buttons)
	}
	if err != nil {
		c.log.Error("search: send outcome failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return err
}

// sendLink shows a consumed payload. The row is already gone, so when the
// URL button is rejected the payload is sent as plain text instead.
func (c *Coordinator) sendLink(ctx context.Context, chatID int64, payload string) error {
	_, err := c.fe.Send(ctx, chatID, TextFound, []Button{{Text: ButtonLink, URL: payload}})
	if err == nil {
		return nil
	}
	c.log.Warn("sendLink: link button rejected, sending plain text", zap.Int64("chat_id", chatID), zap.Error(err))
	if _, perr := c.fe.Send(ctx, chatID, TextFound+"\n"+payload, nil); perr != nil {
		c.log.Error("sendLink: payload lost", zap.Int64("chat_id", chatID), zap.NamedError("button_error", err), zap.Error(perr))
		return errors.Join(err, perr)
	}
	return nil
}
