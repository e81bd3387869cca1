// Package config provides dealrelay configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // NOTE_TIMEZONE must resolve in minimal images

	"github.com/joho/godotenv"
)

// Config holds dealrelay configuration. Values come from env vars or defaults.
type Config struct {
	// --- Slack ---

	// SlackBotToken is the xoxb- bot token (env: SLACK_BOT_TOKEN). Also used
	// to authorize private file downloads.
	SlackBotToken string

	// SlackAppToken is the xapp- app-level token (env: SLACK_APP_TOKEN).
	// When set the bot runs in Socket Mode; otherwise it serves webhooks.
	SlackAppToken string

	// SlackSigningSecret verifies webhook requests (env: SLACK_SIGNING_SECRET).
	SlackSigningSecret string

	// --- CRM ---

	// CRMBaseURL is the CRM API root (env: CRM_API_URL).
	CRMBaseURL string

	// CRMAPIToken authenticates CRM calls (env: CRM_API_TOKEN).
	CRMAPIToken string

	// CRMRateLimit caps CRM requests per second; 0 disables throttling
	// (env: CRM_RATE_LIMIT).
	CRMRateLimit float64

	// NotesLookback is how many recent deal notes are scanned for an
	// existing permalink before creating a note (env: NOTES_LOOKBACK).
	NotesLookback int

	// --- Ignore policy ---

	// UpstreamUserID is the Slack user id of the automated system whose
	// generated files are already delivered elsewhere (env: UPSTREAM_USER_ID).
	// Empty disables the upstream rules.
	UpstreamUserID string

	// IgnoreFilenamePrefixes are file name/title prefixes ignored when the
	// upstream account uploads them (env: IGNORE_FILENAME_PREFIXES, comma list).
	IgnoreFilenamePrefixes []string

	// IgnoreCommentMarkers are initial-comment tokens ignored when the
	// upstream account uploads a file (env: IGNORE_COMMENT_MARKERS, comma list).
	IgnoreCommentMarkers []string

	// --- Relay behaviour ---

	// RelayAttachments uploads PDF attachments of reacted-to messages
	// alongside the note (env: RELAY_ATTACHMENTS).
	RelayAttachments bool

	// NoteReactions are the emoji names that send a message to the CRM
	// (env: NOTE_REACTIONS, comma list).
	NoteReactions []string

	// ArchiveReactions are the emoji names that start the archive flow
	// (env: ARCHIVE_REACTIONS, comma list).
	ArchiveReactions []string

	// ArchiveAllowedUsers restricts who may archive. Empty means everyone
	// (env: ARCHIVE_ALLOWED_USERS, comma list).
	ArchiveAllowedUsers []string

	// DedupeWindow is how long a relayed message is remembered (env: DEDUPE_WINDOW).
	DedupeWindow time.Duration

	// DedupeNotifyOnHit tells the reactor when a repeat reaction is ignored
	// (env: DEDUPE_NOTIFY_ON_HIT). Default is to stay silent.
	DedupeNotifyOnHit bool

	// FileNameLabel prefixes uploaded file names (env: FILE_NAME_LABEL).
	FileNameLabel string

	// NoteTimezone renders message times in notes (env: NOTE_TIMEZONE).
	NoteTimezone *time.Location

	// --- NATS (optional activity events) ---

	// NatsURL enables activity publishing when set (env: NATS_URL).
	NatsURL string

	// NatsToken is the NATS auth token (env: NATS_TOKEN).
	NatsToken string

	// NatsSubject overrides the activity subject (env: NATS_SUBJECT).
	NatsSubject string

	// --- Service ---

	// ListenAddr serves health and webhook endpoints (env: LISTEN_ADDR).
	ListenAddr string

	// LogLevel controls log verbosity: debug, info, warn, error (env: LOG_LEVEL).
	LogLevel string

	// Debug enables slack-go protocol logging (env: DEBUG).
	Debug bool
}

// Load reads an optional dotenv file into the environment (existing env vars
// win) and then parses the configuration.
func Load(envFile string) (*Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg := Parse()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func LoadEnvFile(envFile string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// Parse reads configuration from environment variables.
func Parse() *Config {
	return &Config{
		// Slack
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),

		// CRM
		CRMBaseURL:    envOr("CRM_API_URL", "https://api.pipedrive.com/v1"),
		CRMAPIToken:   os.Getenv("CRM_API_TOKEN"),
		CRMRateLimit:  envFloatOr("CRM_RATE_LIMIT", 10),
		NotesLookback: envIntOr("NOTES_LOOKBACK", 50),

		// Ignore policy
		UpstreamUserID:         os.Getenv("UPSTREAM_USER_ID"),
		IgnoreFilenamePrefixes: envListOr("IGNORE_FILENAME_PREFIXES", []string{"WO_", "Work Order"}),
		IgnoreCommentMarkers:   envListOr("IGNORE_COMMENT_MARKERS", []string{"[auto-generated]"}),

		// Relay behaviour
		RelayAttachments:    envBoolOr("RELAY_ATTACHMENTS", true),
		NoteReactions:       envListOr("NOTE_REACTIONS", []string{"memo", "pushpin"}),
		ArchiveReactions:    envListOr("ARCHIVE_REACTIONS", []string{"v", "heavy_check_mark"}),
		ArchiveAllowedUsers: envListOr("ARCHIVE_ALLOWED_USERS", nil),
		DedupeWindow:        envDurationOr("DEDUPE_WINDOW", 5*time.Minute),
		DedupeNotifyOnHit:   envBoolOr("DEDUPE_NOTIFY_ON_HIT", false),
		FileNameLabel:       envOr("FILE_NAME_LABEL", "Scope - "),
		NoteTimezone:        envLocationOr("NOTE_TIMEZONE", time.UTC),

		// NATS
		NatsURL:     os.Getenv("NATS_URL"),
		NatsToken:   os.Getenv("NATS_TOKEN"),
		NatsSubject: os.Getenv("NATS_SUBJECT"),

		// Service
		ListenAddr: envOr("LISTEN_ADDR", ":8090"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		Debug:      os.Getenv("DEBUG") == "true",
	}
}

// Validate reports missing credentials and conflicting trigger sets.
func (c *Config) Validate() error {
	var errs []error
	if c.SlackBotToken == "" {
		errs = append(errs, errors.New("SLACK_BOT_TOKEN is required"))
	}
	if c.SlackAppToken == "" && c.SlackSigningSecret == "" {
		errs = append(errs, errors.New("either SLACK_APP_TOKEN (Socket Mode) or SLACK_SIGNING_SECRET (webhooks) is required"))
	}
	if c.CRMAPIToken == "" {
		errs = append(errs, errors.New("CRM_API_TOKEN is required"))
	}
	if c.CRMRateLimit < 0 {
		errs = append(errs, errors.New("CRM_RATE_LIMIT must not be negative"))
	}
	if c.DedupeWindow <= 0 {
		errs = append(errs, errors.New("DEDUPE_WINDOW must be positive"))
	}
	for _, r := range c.ArchiveReactions {
		for _, n := range c.NoteReactions {
			if r == n {
				errs = append(errs, fmt.Errorf("reaction %q is both a note and an archive trigger", r))
			}
		}
	}
	return errors.Join(errs...)
}

// SocketMode reports whether the bot should connect over Socket Mode.
func (c *Config) SocketMode() bool {
	return c.SlackAppToken != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envListOr splits a comma-separated variable, dropping blank items. A set
// but empty variable yields an empty list rather than the fallback.
func envListOr(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envLocationOr(key string, fallback *time.Location) *time.Location {
	if v := os.Getenv(key); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			return loc
		}
	}
	return fallback
}
