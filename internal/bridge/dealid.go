package bridge

import (
	"regexp"
	"strings"
)

// dealPattern matches "deal" followed by its number anywhere in a channel
// name, in any case: "proj-DEAL482-kickoff" → "482".
var dealPattern = regexp.MustCompile(`(?i)deal(\d+)`)

// ParseDealID extracts the CRM deal id from a channel name. The name is not
// normalized; only the first "deal<digits>" run counts.
func ParseDealID(channelName string) (string, bool) {
	m := dealPattern.FindStringSubmatch(channelName)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ScopeFileName derives the CRM file name for a document uploaded in a deal
// channel: "deal57-roofing" → "Scope - deal57 roofing.pdf".
func ScopeFileName(label, channelName string) string {
	return ensurePDFSuffix(label + strings.ReplaceAll(channelName, "-", " "))
}

// ensurePDFSuffix appends ".pdf" unless name already ends with it.
func ensurePDFSuffix(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return name
	}
	return name + ".pdf"
}
