package bridge

import (
	"context"
	"fmt"

	"dealrelay/service/internal/activity"
)

// fileShare is a file upload notification from either event shape.
type fileShare struct {
	FileID    string
	ChannelID string // may be empty for file_shared without a channel
	ActorID   string
}

// ingestFile mirrors one shared Slack file into the deal named by its channel.
// Both file_shared and message/file_share events land here.
func (b *Bot) ingestFile(ctx context.Context, share fileShare) {
	log := b.log(ctx).With("file", share.FileID)
	result := "failed"
	defer func() { b.metrics.FileRelay(result) }()

	file, _, _, err := b.api.GetFileInfoContext(ctx, share.FileID, 0, 0)
	if err != nil {
		log.Error("files.info failed", "error", err)
		return
	}
	meta := fileMetaFrom(file)

	if v := b.policy.Evaluate(meta, b.botUserID); v.Skip {
		log.Info("file ignored", "reason", string(v.Reason), "name", meta.Name, "uploader", meta.UploaderID)
		result = "ignored"
		return
	}

	channelID := share.ChannelID
	if channelID == "" {
		channelID = fileChannel(file)
	}
	if channelID == "" {
		log.Warn("file has no channel to relay from",
			"channels", len(file.Channels), "groups", len(file.Groups),
			"public_shares", len(file.Shares.Public), "private_shares", len(file.Shares.Private))
		result = "no_channel"
		return
	}
	log = log.With("channel", channelID)

	key := fileKey(channelID, meta.ID)
	if b.dedup.WasRecentlyProcessed(key) {
		log.Debug("file already relayed, skipping")
		result = "duplicate"
		return
	}

	name, err := b.channelName(ctx, channelID)
	if err != nil {
		log.Error("channel lookup failed", "error", err)
		return
	}
	dealID, ok := ParseDealID(name)
	if !ok {
		b.postMessage(ctx, channelID, "",
			fmt.Sprintf("Could not find a deal id in #%s. Rename the channel to include deal<number> (for example deal123-acme) to sync files.", name))
		result = "no_deal"
		return
	}

	displayName := ScopeFileName(b.fileNameLabel, name)
	if _, err := b.files.Relay(ctx, FileRef{ID: meta.ID, DownloadURL: meta.DownloadURL}, dealID, displayName); err != nil {
		log.Error("file relay failed", "deal", dealID, "error", err)
		return
	}

	b.dedup.MarkProcessed(key)
	result = "uploaded"
	b.postMessage(ctx, channelID, "", fmt.Sprintf("Uploaded %s to deal %s.", displayName, dealID))
	b.publish(ctx, activity.Event{
		Kind:      activity.FileRelayed,
		DealID:    dealID,
		ChannelID: channelID,
		ActorID:   share.ActorID,
		Detail:    displayName,
	})
}
