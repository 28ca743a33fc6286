// Package config loads and validates the grailwatch.yaml document and the
// environment overrides layered on top of it.
package config

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document represents the top-level structure of a grailwatch.yaml file.
type Document struct {
	Watch Watch `yaml:"watch"`
}

// Watch contains the complete watch configuration.
type Watch struct {
	Queries  []string     `yaml:"queries"`
	Interval Duration     `yaml:"interval,omitempty"`
	Schedule string       `yaml:"schedule,omitempty"`
	Matching Matching     `yaml:"matching"`
	Sites    Sites        `yaml:"sites,omitempty"`
	Ledger   Ledger       `yaml:"ledger,omitempty"`
	Filters  []FilterRule `yaml:"filters,omitempty"`
	Notify   Notify       `yaml:"notify,omitempty"`
	Status   Status       `yaml:"status,omitempty"`
	Snapshot Snapshot     `yaml:"snapshot,omitempty"`
}

// Matching controls reference loading and perceptual comparison.
type Matching struct {
	ReferenceDirs       []string `yaml:"reference_dirs"`
	Threshold           *int     `yaml:"threshold,omitempty"`
	MaxItemsPerSite     int      `yaml:"max_items_per_site,omitempty"`
	MaxImagesPerListing int      `yaml:"max_images_per_listing,omitempty"`
	FetchConcurrency    int      `yaml:"fetch_concurrency,omitempty"`
	FetchTimeout        Duration `yaml:"fetch_timeout,omitempty"`
	FetchUserAgent      string   `yaml:"fetch_user_agent,omitempty"`
}

// ThresholdValue returns the effective Hamming distance threshold.
func (m Matching) ThresholdValue() int {
	if m.Threshold == nil {
		return DefaultThreshold
	}
	return *m.Threshold
}

// Sites selects which marketplaces are scanned and how.
type Sites struct {
	Enabled          map[string]bool `yaml:"enabled,omitempty"`
	CarousellDomains []string        `yaml:"carousell_domains,omitempty"`
	Browser          Browser         `yaml:"browser,omitempty"`
	Reddit           *RedditSite     `yaml:"reddit,omitempty"`
	Feeds            []Feed          `yaml:"feeds,omitempty"`
}

// Browser configures the shared headless browser behind the card scrapers.
type Browser struct {
	Bin           string   `yaml:"bin,omitempty"`
	UserAgent     string   `yaml:"user_agent,omitempty"`
	NavTimeout    Duration `yaml:"nav_timeout,omitempty"`
	BlockAssets   *bool    `yaml:"block_assets,omitempty"`
	RetryAttempts int      `yaml:"retry_attempts,omitempty"`
}

// RedditSite defines the Reddit marketplace source. Credentials normally
// come from the environment; configured values win when both are set.
type RedditSite struct {
	Subreddits   []string `yaml:"subreddits"`
	UserAgent    string   `yaml:"user_agent,omitempty"`
	ClientID     string   `yaml:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Username     string   `yaml:"username,omitempty"`
	Password     string   `yaml:"password,omitempty"`
	HTTPTimeout  Duration `yaml:"http_timeout,omitempty"`
}

// Feed defines an RSS/Atom marketplace search feed. The keyword replaces
// {query} in the URL template.
type Feed struct {
	Name        string `yaml:"name"`
	URLTemplate string `yaml:"url_template"`
	UserAgent   string `yaml:"user_agent,omitempty"`
}

// Ledger configures seen-listing persistence.
type Ledger struct {
	Backend    string `yaml:"backend,omitempty"`
	Path       string `yaml:"path,omitempty"`
	Table      string `yaml:"table,omitempty"`
	MaxEntries int    `yaml:"max_entries,omitempty"`
}

// FilterRule drops listings before their images are fetched.
type FilterRule struct {
	Name   string `yaml:"name"`
	Rule   string `yaml:"rule"`
	Action string `yaml:"action,omitempty"`
}

// Notify configures the alert channels.
type Notify struct {
	Discord *DiscordNotify `yaml:"discord,omitempty"`
	Email   *EmailNotify   `yaml:"email,omitempty"`
}

type DiscordNotify struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

type EmailNotify struct {
	Host               string   `yaml:"host,omitempty"`
	Port               int      `yaml:"port,omitempty"`
	Username           string   `yaml:"username,omitempty"`
	Password           string   `yaml:"password,omitempty"`
	From               string   `yaml:"from,omitempty"`
	To                 []string `yaml:"to"`
	Subject            string   `yaml:"subject,omitempty"`
	TLSMode            string   `yaml:"tls_mode,omitempty"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify,omitempty"`
}

// Status configures the HTTP status endpoint.
type Status struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// Snapshot configures raw scrape capture for selector debugging.
type Snapshot struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

const (
	DefaultInterval        = 240 * time.Second
	MinInterval            = 60 * time.Second
	DefaultThreshold       = 8
	DefaultMaxItemsPerSite = 25
	DefaultLedgerPath      = "seen.json"
	DefaultLedgerTable     = "seen_listings"
	DefaultStatusAddr      = ":8085"
	DefaultSnapshotDir     = "./snapshots"
)

// Load reads and normalizes a grailwatch document. Validation is left to the
// caller so environment overrides can fill required fields first; see
// ApplyEnv and Validate.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a grailwatch document from raw YAML and applies defaults.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watch document: %w", err)
	}
	doc.ApplyDefaults()
	return &doc, nil
}

// ApplyDefaults fills unset fields. The interval floor keeps the scan loop
// from hammering the marketplaces.
func (d *Document) ApplyDefaults() {
	w := &d.Watch

	if w.Interval <= 0 {
		w.Interval = Duration(DefaultInterval)
	}
	if time.Duration(w.Interval) < MinInterval {
		w.Interval = Duration(MinInterval)
	}

	if w.Matching.Threshold == nil {
		threshold := DefaultThreshold
		w.Matching.Threshold = &threshold
	}
	if w.Matching.MaxItemsPerSite <= 0 {
		w.Matching.MaxItemsPerSite = DefaultMaxItemsPerSite
	}

	if w.Ledger.Backend == "" {
		w.Ledger.Backend = "file"
	}
	if w.Ledger.Path == "" {
		w.Ledger.Path = DefaultLedgerPath
	}
	if w.Ledger.Table == "" {
		w.Ledger.Table = DefaultLedgerTable
	}

	if w.Status.Enabled && w.Status.Addr == "" {
		w.Status.Addr = DefaultStatusAddr
	}
	if w.Snapshot.Enabled && w.Snapshot.Dir == "" {
		w.Snapshot.Dir = DefaultSnapshotDir
	}
}

// Validate performs validation on the watch document.
func (d *Document) Validate() error {
	w := &d.Watch

	if len(w.Queries) == 0 {
		return fmt.Errorf("watch: at least one query is required")
	}
	for i, q := range w.Queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("watch: query %d is empty", i)
		}
	}

	if len(w.Matching.ReferenceDirs) == 0 {
		return fmt.Errorf("matching: at least one reference dir is required")
	}
	if t := w.Matching.Threshold; t != nil && (*t < 0 || *t > 64) {
		return fmt.Errorf("matching: threshold must be between 0 and 64")
	}
	if w.Matching.MaxImagesPerListing < 0 {
		return fmt.Errorf("matching: max_images_per_listing must be >= 0")
	}
	if w.Matching.FetchConcurrency < 0 {
		return fmt.Errorf("matching: fetch_concurrency must be >= 0")
	}

	switch w.Ledger.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("ledger: backend must be 'file' or 'sqlite'")
	}
	if w.Ledger.MaxEntries < 0 {
		return fmt.Errorf("ledger: max_entries must be >= 0")
	}

	for i, rule := range w.Filters {
		if rule.Name == "" {
			return fmt.Errorf("filters %d: name is required", i)
		}
		if rule.Rule == "" {
			return fmt.Errorf("filters %q: rule expression is required", rule.Name)
		}
		if rule.Action != "" && rule.Action != "drop" {
			return fmt.Errorf("filters %q: action must be 'drop'", rule.Name)
		}
	}

	if w.Sites.Reddit != nil && len(w.Sites.Reddit.Subreddits) == 0 {
		return fmt.Errorf("sites reddit: at least one subreddit is required")
	}
	for i, feed := range w.Sites.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("sites feeds %d: name is required", i)
		}
		if feed.URLTemplate == "" {
			return fmt.Errorf("sites feeds %q: url_template is required", feed.Name)
		}
		if !strings.Contains(feed.URLTemplate, "{query}") {
			return fmt.Errorf("sites feeds %q: url_template must contain {query}", feed.Name)
		}
	}

	if w.Notify.Discord != nil && strings.TrimSpace(w.Notify.Discord.WebhookURL) == "" {
		return fmt.Errorf("notify discord: webhook_url is required")
	}
	if email := w.Notify.Email; email != nil {
		if email.Host == "" {
			return fmt.Errorf("notify email: host is required")
		}
		if len(email.To) == 0 {
			return fmt.Errorf("notify email: at least one recipient is required")
		}
		for _, to := range email.To {
			if _, err := mail.ParseAddress(to); err != nil {
				return fmt.Errorf("notify email: invalid to address %q", to)
			}
		}
		if email.From != "" { // From is optional, but if provided must be valid
			if _, err := mail.ParseAddress(email.From); err != nil {
				return fmt.Errorf("notify email: invalid from address %q", email.From)
			}
		}
	}

	if w.Status.Enabled && w.Status.Addr == "" {
		return fmt.Errorf("status: addr is required when enabled")
	}
	if w.Snapshot.Enabled && w.Snapshot.Dir == "" {
		return fmt.Errorf("snapshot: dir is required when enabled")
	}

	return nil
}

// ApplyEnv layers environment overrides onto the document. The webhook
// variable always wins over the file so deployments can keep secrets out of
// the YAML; the rest only fills fields the file left empty.
func (d *Document) ApplyEnv(env EnvConfig) {
	w := &d.Watch

	if env.DiscordWebhook != "" {
		if w.Notify.Discord == nil {
			w.Notify.Discord = &DiscordNotify{}
		}
		w.Notify.Discord.WebhookURL = env.DiscordWebhook
	}

	if email := w.Notify.Email; email != nil {
		if email.Host == "" {
			email.Host = env.SMTP.Host
		}
		if email.Port == 0 {
			email.Port = env.SMTP.Port
		}
		if email.Username == "" {
			email.Username = env.SMTP.User
		}
		if email.Password == "" {
			email.Password = env.SMTP.Password
		}
		if email.TLSMode == "" {
			email.TLSMode = env.SMTP.TLSMode
		}
		if env.SMTP.InsecureSkipVerify {
			email.InsecureSkipVerify = true
		}
	}

	if reddit := w.Sites.Reddit; reddit != nil {
		if reddit.HTTPTimeout <= 0 {
			reddit.HTTPTimeout = Duration(env.Reddit.HTTPTimeout)
		}
		if reddit.UserAgent == "" {
			reddit.UserAgent = env.Reddit.UserAgent
		}
		if reddit.ClientID == "" {
			reddit.ClientID = env.Reddit.ClientID
		}
		if reddit.ClientSecret == "" {
			reddit.ClientSecret = env.Reddit.ClientSecret
		}
		if reddit.Username == "" {
			reddit.Username = env.Reddit.Username
		}
		if reddit.Password == "" {
			reddit.Password = env.Reddit.Password
		}
	}
}
