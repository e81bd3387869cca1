package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// noteTimeLayout renders message times in CRM notes.
const noteTimeLayout = "Jan 2, 2006 3:04:05 PM MST"

// NoteInput is everything the composer needs to describe one Slack message.
type NoteInput struct {
	ChannelName string
	ReactorName string
	AuthorName  string
	MessageTS   string
	Permalink   string
	Text        string
	Attachments []string
	Location    *time.Location
}

// ComposeNote renders the CRM note body for a relayed Slack message.
func ComposeNote(in NoteInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Slack message relayed to CRM by %s\n", in.ReactorName)
	fmt.Fprintf(&sb, "Channel: #%s\n", in.ChannelName)
	fmt.Fprintf(&sb, "Author: %s\n", in.AuthorName)
	fmt.Fprintf(&sb, "When: %s\n", FormatSlackTS(in.MessageTS, in.Location))
	fmt.Fprintf(&sb, "Link: %s\n", in.Permalink)

	if text := strings.TrimSpace(in.Text); text != "" {
		sb.WriteString("\n")
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if len(in.Attachments) > 0 {
		sb.WriteString("\nAttachments:\n")
		for _, a := range in.Attachments {
			fmt.Fprintf(&sb, "- %s\n", a)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatSlackTS converts a Slack message id ("1700000000.000001") to a
// human-readable time in loc, truncated to the second. Input that is not a
// Slack timestamp is returned unchanged.
func FormatSlackTS(ts string, loc *time.Location) string {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return ts
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(n, 0).In(loc).Format(noteTimeLayout)
}

// attachmentDescriptor describes a message file in a note: "plan.pdf (pdf)".
func attachmentDescriptor(name, filetype string) string {
	if name == "" {
		name = "untitled"
	}
	if filetype == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, filetype)
}
