package bridge

import (
	"sort"
	"strings"

	"github.com/slack-go/slack"
)

// FileMeta is the part of a Slack file's metadata the relay looks at.
type FileMeta struct {
	ID             string
	Name           string
	Title          string
	Filetype       string
	UploaderID     string
	InitialComment string
	DownloadURL    string
}

// fileMetaFrom copies the relevant fields out of a files.info response.
func fileMetaFrom(f *slack.File) FileMeta {
	return FileMeta{
		ID:             f.ID,
		Name:           f.Name,
		Title:          f.Title,
		Filetype:       f.Filetype,
		UploaderID:     f.User,
		InitialComment: f.InitialComment.Comment,
		DownloadURL:    f.URLPrivateDownload,
	}
}

// SkipReason says why a file was not relayed.
type SkipReason string

const (
	SkipWrongType        SkipReason = "wrong_type"
	SkipSelfAuthored     SkipReason = "self_authored"
	SkipUpstreamFilename SkipReason = "upstream_filename"
	SkipUpstreamComment  SkipReason = "upstream_comment"
)

// Verdict is the outcome of evaluating the ignore policy for one file.
type Verdict struct {
	Skip   bool
	Reason SkipReason
}

// IgnorePolicy suppresses files that must not be mirrored into the CRM.
// Files generated by the upstream system account are already delivered to
// the CRM through another integration; the prefix and marker rules only apply
// to that account so a person uploading the same kind of file is never
// suppressed.
type IgnorePolicy struct {
	UpstreamUserID   string
	FilenamePrefixes []string
	CommentMarkers   []string
}

// Evaluate applies the rules in order: file type, self-authored, upstream.
func (p IgnorePolicy) Evaluate(f FileMeta, selfUserID string) Verdict {
	if !strings.EqualFold(f.Filetype, "pdf") {
		return Verdict{Skip: true, Reason: SkipWrongType}
	}
	if selfUserID != "" && f.UploaderID == selfUserID {
		return Verdict{Skip: true, Reason: SkipSelfAuthored}
	}
	if p.UpstreamUserID == "" || f.UploaderID != p.UpstreamUserID {
		return Verdict{}
	}
	if hasAnyPrefixFold(f.Name, p.FilenamePrefixes) || hasAnyPrefixFold(f.Title, p.FilenamePrefixes) {
		return Verdict{Skip: true, Reason: SkipUpstreamFilename}
	}
	if containsAnyFold(f.InitialComment, p.CommentMarkers) {
		return Verdict{Skip: true, Reason: SkipUpstreamComment}
	}
	return Verdict{}
}

func hasAnyPrefixFold(s string, prefixes []string) bool {
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func containsAnyFold(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// fileChannel picks the channel a file belongs to when the event did not say.
// Direct channel lists win over share maps; among share keys the smallest id
// is used so the choice is stable across deliveries.
func fileChannel(f *slack.File) string {
	if len(f.Channels) > 0 {
		return f.Channels[0]
	}
	if len(f.Groups) > 0 {
		return f.Groups[0]
	}
	if id := firstKey(f.Shares.Public); id != "" {
		return id
	}
	return firstKey(f.Shares.Private)
}

func firstKey(m map[string][]slack.ShareFileInfo) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}
