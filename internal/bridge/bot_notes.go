package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dealrelay/service/internal/activity"
	"dealrelay/service/internal/crm"

	"github.com/slack-go/slack"
)

// Outcome is the result of one note relay attempt.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped" // reacted-to message no longer exists
)

// ackReaction marks a message that was written to the CRM.
const ackReaction = "white_check_mark"

// unknownPermalink stands in for the message link when Slack cannot give one.
const unknownPermalink = "unknown"

// relayNote writes the reacted-to message into the channel's deal as a note.
// Every step short-circuits; the dedupe key is only recorded after the CRM
// accepted the note so a failed attempt can be retried by reacting again.
func (b *Bot) relayNote(ctx context.Context, ev ReactionEvent) Outcome {
	log := b.log(ctx).With("channel", ev.ChannelID, "ts", ev.MessageTS)

	channelName, err := b.channelName(ctx, ev.ChannelID)
	if err != nil {
		log.Error("channel lookup failed", "error", err)
		return OutcomeFailed
	}
	dealID, ok := ParseDealID(channelName)
	if !ok {
		b.postMessage(ctx, ev.ChannelID, ev.MessageTS,
			fmt.Sprintf("Could not find a deal id in #%s, so this message was not sent to the CRM.", channelName))
		return OutcomeFailed
	}
	log = log.With("deal", dealID)

	key := noteKey(ev.ChannelID, ev.MessageTS)
	if b.dedup.WasRecentlyProcessed(key) {
		log.Info("message recently relayed, skipping")
		if b.notifyOnDedupeHit && ev.ActorID != "" {
			b.postEphemeral(ctx, ev.ChannelID, ev.ActorID,
				slack.MsgOptionText(fmt.Sprintf("This message was already sent to deal %s.", dealID), false))
		}
		return OutcomeDuplicate
	}

	msg, err := b.fetchMessage(ctx, ev.ChannelID, ev.MessageTS)
	if err != nil {
		log.Error("message lookup failed", "error", err)
		return OutcomeFailed
	}
	if msg == nil {
		log.Info("reacted message not found")
		return OutcomeSkipped
	}

	link := unknownPermalink
	permalink, err := b.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: ev.ChannelID, Ts: ev.MessageTS})
	if err != nil || permalink == "" {
		log.Warn("permalink lookup failed, duplicate note detection disabled for this attempt", "error", err)
		permalink = ""
	} else {
		link = permalink
	}

	attachments := make([]string, 0, len(msg.Files))
	for i := range msg.Files {
		f := &msg.Files[i]
		attachments = append(attachments, attachmentDescriptor(f.Name, f.Filetype))
		if b.relayAttachments {
			b.relayAttachment(ctx, ev.ChannelID, dealID, f)
		}
	}

	content := ComposeNote(NoteInput{
		ChannelName: channelName,
		ReactorName: b.userName(ctx, ev.ActorID),
		AuthorName:  b.userName(ctx, msg.User),
		MessageTS:   ev.MessageTS,
		Permalink:   link,
		Text:        msg.Text,
		Attachments: attachments,
		Location:    b.location,
	})

	if permalink != "" && b.noteExists(ctx, dealID, permalink) {
		b.postMessage(ctx, ev.ChannelID, ev.MessageTS,
			fmt.Sprintf("This message is already a note on deal %s.", dealID))
		return OutcomeDuplicate
	}

	note, err := b.crm.CreateNote(ctx, dealID, content)
	if err != nil {
		log.Error("creating note failed", "error", err)
		b.postMessage(ctx, ev.ChannelID, ev.MessageTS,
			fmt.Sprintf("Failed to add a note to deal %s: %s", dealID, crmErrorText(err)))
		return OutcomeFailed
	}

	b.dedup.MarkProcessed(key)
	bestEffort(log, "add ack reaction", func() error {
		return b.api.AddReactionContext(ctx, ackReaction, slack.NewRefToMessage(ev.ChannelID, ev.MessageTS))
	})
	b.postMessage(ctx, ev.ChannelID, ev.MessageTS, fmt.Sprintf("Added this message to deal %s as a note.", dealID))
	b.publish(ctx, activity.Event{
		Kind:      activity.NoteRelayed,
		DealID:    dealID,
		ChannelID: ev.ChannelID,
		ActorID:   ev.ActorID,
		Detail:    fmt.Sprintf("note %d", note.ID),
	})
	log.Info("relayed message to CRM note", "note", note.ID)
	return OutcomeSent
}

// fetchMessage returns the message with exactly ts, or nil when it is gone.
func (b *Bot) fetchMessage(ctx context.Context, channelID, ts string) (*slack.Message, error) {
	history, err := b.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.history %s: %w", channelID, err)
	}
	for i := range history.Messages {
		if history.Messages[i].Timestamp == ts {
			return &history.Messages[i], nil
		}
	}
	return nil, nil
}

// noteExists reports whether one of the deal's recent notes already links to
// permalink. A failed listing counts as "no".
func (b *Bot) noteExists(ctx context.Context, dealID, permalink string) bool {
	notes, err := b.crm.ListNotes(ctx, dealID, b.notesLookback, 0)
	if err != nil {
		b.log(ctx).Warn("listing recent notes failed", "deal", dealID, "error", err)
		return false
	}
	for _, n := range notes {
		if strings.Contains(n.Content, permalink) {
			return true
		}
	}
	return false
}

// relayAttachment uploads a message's PDF attachment alongside the note.
// Failures are logged and never abort the note.
func (b *Bot) relayAttachment(ctx context.Context, channelID, dealID string, f *slack.File) {
	log := b.log(ctx).With("file", f.ID, "deal", dealID)
	if v := b.policy.Evaluate(fileMetaFrom(f), b.botUserID); v.Skip {
		log.Debug("attachment ignored", "reason", string(v.Reason))
		return
	}
	key := fileKey(channelID, f.ID)
	if b.dedup.WasRecentlyProcessed(key) {
		return
	}
	name := f.Name
	if name == "" {
		name = f.Title
	}
	if _, err := b.files.Relay(ctx, FileRef{ID: f.ID, DownloadURL: f.URLPrivateDownload}, dealID, ensurePDFSuffix(name)); err != nil {
		log.Warn("attachment relay failed", "error", err)
		return
	}
	b.dedup.MarkProcessed(key)
}

// crmErrorText prefers the CRM's own message over the wrapped error chain.
func crmErrorText(err error) string {
	var apiErr *crm.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
