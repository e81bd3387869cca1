// Package bridge provides the Slack bot that mirrors deal channels into the CRM.
//
// The Bot implementation is split across several files:
//   - bot.go: core struct, event dispatch, helpers
//   - bot_files.go: file uploads → CRM deal files
//   - bot_notes.go: note-trigger reactions → CRM deal notes
//   - bot_archive.go: archive-trigger reactions → confirm prompt → archive
//   - webhook.go: HTTP Events API / interactivity transport
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"dealrelay/service/internal/activity"
	"dealrelay/service/internal/crm"
	"dealrelay/service/internal/metrics"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// CRM is the subset of the CRM client the bot writes through.
type CRM interface {
	CreateFile(ctx context.Context, dealID, name string, content io.Reader) (*crm.File, error)
	CreateNote(ctx context.Context, dealID, content string) (*crm.Note, error)
	ListNotes(ctx context.Context, dealID string, limit, start int) ([]crm.Note, error)
}

// Bot is the Slack bot that relays deal channel activity into the CRM.
type Bot struct {
	api     *slack.Client
	socket  *socketmode.Client // nil when events arrive over webhooks
	crm     CRM
	files   *FileRelay
	dedup   *Dedup
	policy  IgnorePolicy
	sink    activity.Sink
	metrics *metrics.Metrics // nil = not recorded
	logger  *slog.Logger

	botUserID string // bot's own user ID (set on connect)

	// Health state.
	connected atomic.Bool

	noteReactions     map[string]bool
	archiveReactions  map[string]bool
	archiveAllowed    map[string]bool // empty = everyone
	relayAttachments  bool
	notifyOnDedupeHit bool
	notesLookback     int
	fileNameLabel     string
	location          *time.Location

	now func() time.Time
}

// BotConfig holds configuration for the bot.
type BotConfig struct {
	BotToken string
	AppToken string // "" disables Socket Mode
	CRM      CRM
	Dedup    *Dedup
	Policy   IgnorePolicy
	Sink     activity.Sink // nil = activity.Nop
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Debug    bool

	NoteReactions       []string
	ArchiveReactions    []string
	ArchiveAllowedUsers []string
	RelayAttachments    bool
	NotifyOnDedupeHit   bool
	NotesLookback       int
	FileNameLabel       string
	Location            *time.Location
}

// NewBot creates a new bot. With an app token it connects over Socket Mode;
// without one, events must be fed through a WebhookHandler.
func NewBot(cfg BotConfig) *Bot {
	opts := []slack.Option{slack.OptionDebug(cfg.Debug)}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	api := slack.New(cfg.BotToken, opts...)

	var socket *socketmode.Client
	if cfg.AppToken != "" {
		socket = socketmode.New(api, socketmode.OptionDebug(cfg.Debug))
	}

	b := newBot(api, cfg)
	b.socket = socket
	return b
}

// newBot wires everything except the Socket Mode client.
func newBot(api *slack.Client, cfg BotConfig) *Bot {
	sink := cfg.Sink
	if sink == nil {
		sink = activity.Nop{}
	}
	dedup := cfg.Dedup
	if dedup == nil {
		dedup = NewDedup(DefaultDedupeWindow, cfg.Logger)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	lookback := cfg.NotesLookback
	if lookback <= 0 {
		lookback = 50
	}
	return &Bot{
		api:               api,
		crm:               cfg.CRM,
		files:             NewFileRelay(api, cfg.CRM, cfg.Logger),
		dedup:             dedup,
		policy:            cfg.Policy,
		sink:              sink,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		noteReactions:     reactionSet(cfg.NoteReactions),
		archiveReactions:  reactionSet(cfg.ArchiveReactions),
		archiveAllowed:    stringSet(cfg.ArchiveAllowedUsers),
		relayAttachments:  cfg.RelayAttachments,
		notifyOnDedupeHit: cfg.NotifyOnDedupeHit,
		notesLookback:     lookback,
		fileNameLabel:     cfg.FileNameLabel,
		location:          loc,
		now:               time.Now,
	}
}

// API returns the underlying Slack API client for direct API calls.
func (b *Bot) API() *slack.Client {
	return b.api
}

// IsConnected returns the bot's connection status.
func (b *Bot) IsConnected() bool {
	return b.connected.Load()
}

// Authenticate resolves the bot's own user ID so self-authored files and
// reactions can be ignored.
func (b *Bot) Authenticate(ctx context.Context) error {
	auth, err := b.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("Slack auth test: %w", err)
	}
	b.botUserID = auth.UserID
	b.logger.Info("Slack bot authenticated", "user_id", b.botUserID, "team", auth.Team)
	return nil
}

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
// In webhook mode it only authenticates and marks the bot ready.
func (b *Bot) Run(ctx context.Context) error {
	if b.botUserID == "" {
		if err := b.Authenticate(ctx); err != nil {
			return err
		}
	}

	if b.socket == nil {
		b.connected.Store(true)
		<-ctx.Done()
		b.connected.Store(false)
		return nil
	}

	go b.handleEvents(ctx)

	err := b.socket.RunContext(ctx)
	b.connected.Store(false)
	return err
}

// handleEvents processes Socket Mode events one at a time.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	b.logger.Debug("socket mode event received", "type", string(evt.Type))

	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("Slack Socket Mode connecting")

	case socketmode.EventTypeConnected:
		b.connected.Store(true)
		b.logger.Info("Slack Socket Mode connected")

	case socketmode.EventTypeConnectionError:
		b.connected.Store(false)
		b.logger.Error("Slack Socket Mode connection error")

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleEventsAPI(ctx, eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleInteraction(ctx, callback)
	}
}

// handleEventsAPI routes Events API callbacks to the file and reaction
// handlers. Each handler runs under its own recover guard.
func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.FileSharedEvent:
		ctx := b.eventContext(ctx, "file_shared")
		defer b.recoverHandler(ctx)
		b.ingestFile(ctx, fileShare{FileID: ev.FileID, ChannelID: ev.ChannelID, ActorID: ev.UserID})

	case *slackevents.MessageEvent:
		if ev.SubType != "file_share" || ev.Message == nil {
			return
		}
		ctx := b.eventContext(ctx, "message_file_share")
		defer b.recoverHandler(ctx)
		for _, f := range ev.Message.Files {
			b.ingestFile(ctx, fileShare{FileID: f.ID, ChannelID: ev.Channel, ActorID: ev.User})
		}

	case *slackevents.ReactionAddedEvent:
		if ev.Item.Type != "message" {
			return
		}
		ctx := b.eventContext(ctx, "reaction_added")
		defer b.recoverHandler(ctx)
		b.handleReaction(ctx, ReactionEvent{
			Reaction:  ev.Reaction,
			ChannelID: ev.Item.Channel,
			MessageTS: ev.Item.Timestamp,
			ActorID:   ev.User,
		})
	}
}

// ReactionEvent is an emoji reaction added to a channel message.
type ReactionEvent struct {
	Reaction  string
	ChannelID string
	MessageTS string
	ActorID   string
}

// handleReaction starts the archive flow or the note relay depending on
// which trigger set the emoji belongs to. Archive triggers win.
func (b *Bot) handleReaction(ctx context.Context, ev ReactionEvent) {
	if ev.ActorID != "" && ev.ActorID == b.botUserID {
		return
	}
	name := normalizeReaction(ev.Reaction)
	switch {
	case b.archiveReactions[name]:
		b.requestArchive(ctx, ev)
	case b.noteReactions[name]:
		outcome := b.relayNote(ctx, ev)
		b.metrics.NoteRelay(string(outcome))
		b.log(ctx).Info("note relay finished", "channel", ev.ChannelID, "ts", ev.MessageTS, "outcome", string(outcome))
	}
}

// handleInteraction processes interactive component callbacks (buttons).
func (b *Bot) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		b.logger.Debug("unhandled interaction type", "type", callback.Type)
		return
	}
	ctx = b.eventContext(ctx, "block_actions")
	defer b.recoverHandler(ctx)

	for _, action := range callback.ActionCallback.BlockActions {
		switch action.ActionID {
		case actionArchiveConfirm, actionArchiveCancel:
			b.handleArchiveAction(ctx, archiveAction{
				ActionID:    action.ActionID,
				Value:       action.Value,
				UserID:      callback.User.ID,
				ChannelID:   callback.Channel.ID,
				ResponseURL: callback.ResponseURL,
			})
			return
		}
	}
}

// --- helpers ---

type loggerKey struct{}

// eventContext attaches a logger tagged with a fresh event id.
func (b *Bot) eventContext(ctx context.Context, kind string) context.Context {
	l := b.logger.With("event_id", uuid.NewString(), "event", kind)
	return context.WithValue(ctx, loggerKey{}, l)
}

// log returns the event logger from ctx, or the bot logger.
func (b *Bot) log(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return b.logger
}

// recoverHandler keeps one bad event from taking the process down.
func (b *Bot) recoverHandler(ctx context.Context) {
	if r := recover(); r != nil {
		b.log(ctx).Error("event handler panicked", "panic", r, "stack", string(debug.Stack()))
	}
}

// bestEffort runs fn and logs, but never returns, its error.
func bestEffort(logger *slog.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn("best-effort step failed", "op", op, "error", err)
	}
}

// channelName fetches the channel's current name. Names can change, so they
// are never cached.
func (b *Bot) channelName(ctx context.Context, channelID string) (string, error) {
	ch, err := b.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", fmt.Errorf("conversations.info %s: %w", channelID, err)
	}
	return ch.Name, nil
}

// userName resolves a display name, falling back to a mention of the raw ID.
func (b *Bot) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	user, err := b.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		b.log(ctx).Warn("user lookup failed, using raw mention", "user", userID, "error", err)
		return fmt.Sprintf("<@%s>", userID)
	}
	switch {
	case user.RealName != "":
		return user.RealName
	case user.Profile.DisplayName != "":
		return user.Profile.DisplayName
	case user.Name != "":
		return user.Name
	}
	return fmt.Sprintf("<@%s>", userID)
}

// postMessage posts text to a channel (threaded when threadTS is set).
func (b *Bot) postMessage(ctx context.Context, channelID, threadTS, text string) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	bestEffort(b.log(ctx), "post message", func() error {
		_, _, err := b.api.PostMessageContext(ctx, channelID, opts...)
		return err
	})
}

// postEphemeral posts a message only userID can see.
func (b *Bot) postEphemeral(ctx context.Context, channelID, userID string, opts ...slack.MsgOption) {
	bestEffort(b.log(ctx), "post ephemeral", func() error {
		_, err := b.api.PostEphemeralContext(ctx, channelID, userID, opts...)
		return err
	})
}

// publish emits an activity event without letting a failure escape.
func (b *Bot) publish(ctx context.Context, ev activity.Event) {
	bestEffort(b.log(ctx), "publish activity", func() error {
		return b.sink.Publish(ctx, ev)
	})
}

// normalizeReaction strips colons and skin-tone modifiers:
// ":thumbsup::skin-tone-2:" → "thumbsup".
func normalizeReaction(name string) string {
	name = strings.Trim(name, ":")
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	return name
}

func reactionSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = normalizeReaction(strings.TrimSpace(n)); n != "" {
			set[n] = true
		}
	}
	return set
}

func stringSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		if s != "" {
			set[s] = true
		}
	}
	return set
}
