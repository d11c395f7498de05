// Package config resolves application configuration from layered sources.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DefaultFile is the configuration file read when no path is given.
const DefaultFile = "configuration.yaml"

// DateLayout is the layout of earliest_archive_date.
const DateLayout = "2006-01-02"

// Config holds the application configuration. It is built once by Load and
// passed to constructors.
type Config struct {
	SlackName    string
	APIToken     string
	Activated    bool
	BotName      string
	BotAvatarURL string
	APIURL       string
	PageSize     int

	WarnThreshold         int
	ArchiveThreshold      int
	IgnoreChannels        []string
	IgnoreChannelPatterns []string
	IgnoreUsers           []string
	IncludedSubtypes      []string
	EarliestArchiveDate   time.Time

	AnnounceChannel       string
	GeneralMessageChannel string
	ControlChannel        string

	WarningTextFile string
	ClosureTextFile string

	StatsEnabled     bool
	StatsChannel     string
	StatsIgnoreUsers []string
	StatsChannelTopN int
	StatsUserTopN    int

	LogLevel      string
	LogToChannel  bool
	LogChannel    string
	SlackLogLevel string

	RunHour          int
	FailFast         bool
	JournalPath      string
	TelemetryEnabled bool
}

// GracePeriod is the number of days between a warning and archiving.
func (c *Config) GracePeriod() int {
	if d := c.ArchiveThreshold - c.WarnThreshold; d > 0 {
		return d
	}
	return 30
}

// Sources returns the default resolution order: prefixed environment,
// legacy environment, then the YAML file at path.
func Sources(path string, log *slog.Logger) ([]Source, error) {
	file, err := NewFileSource(path)
	if err != nil {
		return nil, err
	}
	return []Source{EnvSource{}, LegacyEnvSource{Log: log}, file}, nil
}

// Load reads configuration from the environment and the YAML file at path.
func Load(path string, log *slog.Logger) (*Config, error) {
	sources, err := Sources(path, log)
	if err != nil {
		return nil, err
	}
	return Resolve(sources...)
}

// Resolve builds a Config by querying sources in order for every key.
func Resolve(sources ...Source) (*Config, error) {
	r := &resolver{sources: sources}

	cfg := &Config{
		SlackName:    r.str("slack_name", ""),
		APIToken:     r.str("api_token", ""),
		Activated:    r.boolean("activated", false),
		BotName:      r.str("bot_name", ""),
		BotAvatarURL: r.str("bot_avatar_url", ""),
		APIURL:       r.str("api_url", "https://slack.com/api/"),
		PageSize:     r.integer("page_size", 200),

		WarnThreshold:         r.integer("warn_threshold", 30),
		ArchiveThreshold:      r.integer("archive_threshold", 60),
		IgnoreChannels:        r.list("ignore_channels"),
		IgnoreChannelPatterns: r.list("ignore_channel_patterns"),
		IgnoreUsers:           r.list("ignore_users"),
		IncludedSubtypes:      r.list("included_subtypes"),

		AnnounceChannel:       r.str("announce_channel", ""),
		GeneralMessageChannel: r.str("general_message_channel", ""),
		ControlChannel:        r.str("control_channel", ""),

		WarningTextFile: r.str("warning_text", ""),
		ClosureTextFile: r.str("closure_text", ""),

		StatsEnabled:     r.boolean("stats_enabled", true),
		StatsChannel:     r.str("stats_channel", "zmeta-statistics"),
		StatsIgnoreUsers: r.list("stats_ignore_users"),
		StatsChannelTopN: r.integer("stats_channel_top_n", 10),
		StatsUserTopN:    r.integer("stats_user_top_n", 25),

		LogLevel:      r.str("log_level", "info"),
		LogToChannel:  r.boolean("log_to_channel", false),
		LogChannel:    r.str("log_channel", ""),
		SlackLogLevel: r.str("slack_log_level", "warn"),

		RunHour:          r.integer("run_hour", 4),
		FailFast:         r.boolean("fail_fast", false),
		JournalPath:      r.str("journal_path", ""),
		TelemetryEnabled: r.boolean("telemetry_enabled", false),
	}

	if cfg.APIToken == "" {
		cfg.APIToken = r.str("sb_token", "")
	}

	date := r.str("earliest_archive_date", "")
	if date == "" {
		date = "2000-01-01"
	}
	d, err := time.ParseInLocation(DateLayout, date, time.Local)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("earliest_archive_date %q: %w", date, err))
	}
	cfg.EarliestArchiveDate = d

	if err := r.err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}
	for _, p := range c.IgnoreChannelPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid ignore_channel_patterns entry %q: %w", p, err)
		}
	}
	if c.WarnThreshold <= 0 || c.ArchiveThreshold <= 0 {
		return fmt.Errorf("warn_threshold and archive_threshold must be positive, got %d and %d",
			c.WarnThreshold, c.ArchiveThreshold)
	}
	if c.RunHour < 0 || c.RunHour > 23 {
		return fmt.Errorf("run_hour must be between 0 and 23, got %d", c.RunHour)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.LogToChannel && c.LogChannel == "" {
		return fmt.Errorf("log_channel is required when log_to_channel is set")
	}
	return nil
}

type resolver struct {
	sources []Source
	errs    []error
}

func (r *resolver) lookup(key string) (any, bool) {
	for _, s := range r.sources {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return nil, false
}

func (r *resolver) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return strings.TrimSpace(s)
}

func (r *resolver) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid integer for %s: %w", key, err))
		return def
	}
	return n
}

func (r *resolver) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	if s, isStr := v.(string); isStr {
		v = strings.ToLower(strings.TrimSpace(s))
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid boolean for %s: %w", key, err))
		return def
	}
	return b
}

// list accepts YAML sequences and comma-separated strings.
func (r *resolver) list(key string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var raw []string
	if s, isStr := v.(string); isStr {
		raw = strings.Split(s, ",")
	} else {
		items, err := cast.ToStringSliceE(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("invalid list for %s: %w", key, err))
			return nil
		}
		raw = items
	}

	var out []string
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (r *resolver) err() error {
	return errors.Join(r.errs...)
}
