// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discord adapts a discordgo session to platform.Platform.
//
// The session never retries rate-limited requests itself: a 429 is returned
// to the caller as an apperr RateLimited error so the relay can decide
// whether to skip a progress edit or back off.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/platform"
)

// Intents requested at identify. Message content is a privileged intent and
// must be enabled for the application in the developer portal.
const Intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// api is the subset of *discordgo.Session the adapter calls.
type api interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client is a Discord connection.
type Client struct {
	session *discordgo.Session
	api     api
	logger  *slog.Logger

	mu       sync.RWMutex
	selfID   string
	removers []func()
}

var loggerOnce sync.Once

// New creates a client for a bot token. Nothing connects until Start.
func New(token string, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Configuration("DISCORD_TOKEN", "a Discord bot token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "discord"))

	dg, err := discordgo.New("Bot " + strings.TrimPrefix(token, "Bot "))
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	dg.Identify.Intents = Intents
	dg.ShouldRetryOnRateLimit = false
	dg.ShouldReconnectOnError = true
	dg.LogLevel = discordgo.LogWarning

	loggerOnce.Do(func() { routeLibraryLogs(logger) })

	c := newClient(dg, logger)
	c.session = dg
	return c, nil
}

func newClient(a api, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: a, logger: logger}
}

// routeLibraryLogs sends discordgo's own log lines through slog.
func routeLibraryLogs(logger *slog.Logger) {
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		level := slog.LevelDebug
		switch msgL {
		case discordgo.LogError:
			level = slog.LevelError
		case discordgo.LogWarning:
			level = slog.LevelWarn
		case discordgo.LogInformational:
			level = slog.LevelInfo
		}
		logger.Log(context.Background(), level, fmt.Sprintf(format, a...), slog.String("source", "discordgo"))
	}
}

// Name implements platform.Platform.
func (c *Client) Name() string { return "discord" }

// SelfID returns the bot user ID learned from the Ready event.
func (c *Client) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

func (c *Client) setSelfID(id string) {
	c.mu.Lock()
	c.selfID = id
	c.mu.Unlock()
}

// Start opens the gateway connection. Each incoming message is converted and
// passed to handler on the library's event goroutine.
func (c *Client) Start(ctx context.Context, handler platform.Handler) error {
	if c.session == nil {
		return errors.New("discord client has no session")
	}

	c.mu.Lock()
	c.removers = append(c.removers,
		c.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			c.setSelfID(r.User.ID)
			c.logger.Info("connected to Discord",
				slog.String("user", r.User.Username),
				slog.String("user_id", r.User.ID),
				slog.Int("guilds", len(r.Guilds)))
		}),
		c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
			if m.Message == nil || m.Author == nil {
				return
			}
			handler(ctx, convertMessage(m.Message, c.SelfID()))
		}),
	)
	c.mu.Unlock()

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to connect to Discord: %w", err)
	}
	if c.session.State != nil && c.session.State.User != nil {
		c.setSelfID(c.session.State.User.ID)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	c.mu.Lock()
	removers := c.removers
	c.removers = nil
	c.mu.Unlock()
	for _, remove := range removers {
		remove()
	}
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// =============================================================================
// MESSENGER
// =============================================================================

// Send implements platform.Messenger.
func (c *Client) Send(ctx context.Context, channelID, content string) (string, error) {
	m, err := c.api.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("send message", err)
	}
	return m.ID, nil
}

// Reply implements platform.Messenger. A reply to a message that no longer
// exists is posted as a plain message instead.
func (c *Client) Reply(ctx context.Context, channelID, replyToID, content string) (string, error) {
	ref := &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
	m, err := c.api.ChannelMessageSendReply(channelID, content, ref, discordgo.WithContext(ctx))
	if err == nil {
		return m.ID, nil
	}
	if statusOf(err) == http.StatusBadRequest {
		c.logger.DebugContext(ctx, "reply rejected, sending plain message",
			slog.String("channel_id", channelID),
			slog.String("reply_to", replyToID))
		return c.Send(ctx, channelID, content)
	}
	return "", mapError("send reply", err)
}

// Edit implements platform.Messenger.
func (c *Client) Edit(ctx context.Context, channelID, messageID, content string) error {
	if _, err := c.api.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return mapError("edit message", err)
	}
	return nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// convertMessage maps a discordgo message onto the platform type.
func convertMessage(m *discordgo.Message, selfID string) *platform.Message {
	msg := &platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorBot = m.Author.Bot
		msg.AuthorName = displayName(m.Author)
	}
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		msg.Mentions = append(msg.Mentions, convertUser(u))
		if selfID != "" && u.ID == selfID {
			msg.MentionsBot = true
		}
	}
	if selfID != "" && !msg.MentionsBot {
		msg.MentionsBot = strings.Contains(m.Content, "<@"+selfID+">") ||
			strings.Contains(m.Content, "<@!"+selfID+">")
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, platform.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	if m.ReferencedMessage != nil {
		msg.Reference = convertMessage(m.ReferencedMessage, selfID)
		msg.Reference.Reference = nil
	}
	return msg
}

// avatarSize is the largest size the CDN serves.
const avatarSize = "4096"

func convertUser(u *discordgo.User) platform.User {
	out := platform.User{ID: u.ID, Name: displayName(u)}
	if u.Avatar != "" {
		out.AvatarURL = u.AvatarURL(avatarSize)
	}
	return out
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// =============================================================================
// ERRORS
// =============================================================================

// mapError converts discordgo rate-limit errors to apperr.RateLimited and
// wraps everything else.
func mapError(op string, err error) error {
	var rlp *discordgo.RateLimitError
	if errors.As(err, &rlp) && rlp != nil {
		return apperr.RateLimited(op, retryAfterOf(rlp.RateLimit), err)
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests {
		return apperr.RateLimited(op, retryAfterHeader(rest.Response.Header.Get("Retry-After")), err)
	}
	return fmt.Errorf("discord %s: %w", op, err)
}

func retryAfterOf(rl *discordgo.RateLimit) time.Duration {
	if rl == nil || rl.TooManyRequests == nil {
		return 0
	}
	return rl.RetryAfter
}

// retryAfterHeader parses a Retry-After header given in (possibly
// fractional) seconds.
func retryAfterHeader(v string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func statusOf(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode
	}
	return 0
}
