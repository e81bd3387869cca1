package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"dealrelay/service/internal/activity"

	"github.com/slack-go/slack"
)

const (
	actionArchiveConfirm = "archive_confirm"
	actionArchiveCancel  = "archive_cancel"
)

// ArchivePayload rides in the confirm/cancel button values so the action can
// be completed without any server-side session.
type ArchivePayload struct {
	ChannelID string `json:"channel_id"`
	DealID    string `json:"deal_id,omitempty"`
}

// archiveAction is a click on one of the archive prompt buttons.
type archiveAction struct {
	ActionID    string
	Value       string
	UserID      string
	ChannelID   string // channel the prompt was shown in
	ResponseURL string
}

// archiveAllowedFor reports whether userID may archive. An empty allow-list
// permits everyone.
func (b *Bot) archiveAllowedFor(userID string) bool {
	return len(b.archiveAllowed) == 0 || b.archiveAllowed[userID]
}

// requestArchive shows the reactor a private confirm prompt.
func (b *Bot) requestArchive(ctx context.Context, ev ReactionEvent) {
	log := b.log(ctx).With("channel", ev.ChannelID, "user", ev.ActorID)

	if !b.archiveAllowedFor(ev.ActorID) {
		log.Info("archive request denied")
		b.metrics.Archive("denied")
		b.postEphemeral(ctx, ev.ChannelID, ev.ActorID,
			slack.MsgOptionText("You are not allowed to archive deal channels.", false))
		return
	}

	name, err := b.channelName(ctx, ev.ChannelID)
	if err != nil {
		log.Warn("channel lookup failed, prompting with id", "error", err)
		name = ev.ChannelID
	}
	dealID, _ := ParseDealID(name)

	value, err := json.Marshal(ArchivePayload{ChannelID: ev.ChannelID, DealID: dealID})
	if err != nil {
		log.Error("encoding archive payload", "error", err)
		return
	}

	prompt := fmt.Sprintf("Archive *#%s*? This hides the channel for every member.", name)
	if dealID != "" {
		prompt += fmt.Sprintf("\nA note will be added to deal %s.", dealID)
	}

	confirmBtn := slack.NewButtonBlockElement(actionArchiveConfirm, string(value),
		slack.NewTextBlockObject("plain_text", "Archive", false, false)).WithStyle(slack.StyleDanger)
	cancelBtn := slack.NewButtonBlockElement(actionArchiveCancel, string(value),
		slack.NewTextBlockObject("plain_text", "Cancel", false, false))

	b.postEphemeral(ctx, ev.ChannelID, ev.ActorID,
		slack.MsgOptionText(fmt.Sprintf("Archive #%s?", name), false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", prompt, false, false), nil, nil),
			slack.NewActionBlock("archive_prompt", confirmBtn, cancelBtn),
		))
	b.metrics.Archive("requested")
	log.Info("archive confirmation requested", "deal", dealID)
}

// handleArchiveAction completes or cancels a pending archive request.
func (b *Bot) handleArchiveAction(ctx context.Context, act archiveAction) {
	log := b.log(ctx).With("user", act.UserID, "action", act.ActionID)

	var payload ArchivePayload
	if err := json.Unmarshal([]byte(act.Value), &payload); err != nil || payload.ChannelID == "" {
		log.Warn("malformed archive payload", "value", act.Value, "error", err)
		return
	}
	log = log.With("channel", payload.ChannelID)

	defer b.deleteOriginal(ctx, payload.ChannelID, act.ResponseURL)

	if act.ActionID == actionArchiveCancel {
		b.postEphemeral(ctx, payload.ChannelID, act.UserID,
			slack.MsgOptionText("Archive cancelled.", false))
		b.metrics.Archive("cancelled")
		log.Info("archive cancelled")
		return
	}

	if !b.archiveAllowedFor(act.UserID) {
		log.Info("archive confirm denied")
		b.metrics.Archive("denied")
		b.postEphemeral(ctx, payload.ChannelID, act.UserID,
			slack.MsgOptionText("You are not allowed to archive deal channels.", false))
		return
	}

	if act.ChannelID != "" && act.ChannelID != payload.ChannelID {
		log.Warn("archive confirm from another channel, ignoring", "clicked_in", act.ChannelID)
		b.metrics.Archive("denied")
		return
	}

	actorName := b.userName(ctx, act.UserID)
	channelName, err := b.channelName(ctx, payload.ChannelID)
	if err != nil {
		log.Warn("channel lookup failed", "error", err)
		channelName = payload.ChannelID
	}
	b.postMessage(ctx, payload.ChannelID, "",
		fmt.Sprintf("This channel is being archived by <@%s>.", act.UserID))

	if err := b.api.ArchiveConversationContext(ctx, payload.ChannelID); err != nil {
		log.Error("archiving channel failed", "error", err)
		b.metrics.Archive("failed")
		b.postEphemeral(ctx, payload.ChannelID, act.UserID,
			slack.MsgOptionText(fmt.Sprintf("Could not archive the channel: %s", err), false))
		return
	}
	b.metrics.Archive("archived")
	log.Info("channel archived", "deal", payload.DealID)

	if payload.DealID != "" {
		content := fmt.Sprintf("Slack channel #%s was archived by %s (%s).",
			channelName, actorName, act.UserID)
		bestEffort(log, "archive note", func() error {
			_, err := b.crm.CreateNote(ctx, payload.DealID, content)
			return err
		})
	}

	b.publish(ctx, activity.Event{
		Kind:      activity.ChannelArchived,
		DealID:    payload.DealID,
		ChannelID: payload.ChannelID,
		ActorID:   act.UserID,
	})
}

// deleteOriginal removes the ephemeral prompt through its response URL.
func (b *Bot) deleteOriginal(ctx context.Context, channelID, responseURL string) {
	if responseURL == "" {
		return
	}
	bestEffort(b.log(ctx), "delete archive prompt", func() error {
		_, _, err := b.api.PostMessageContext(ctx, channelID, slack.MsgOptionDeleteOriginal(responseURL))
		return err
	})
}
