package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thephm/sms-backup-md/internal/identity"
	"github.com/thephm/sms-backup-md/internal/logging"
)

const appName = "sms-backup-md"

// Config represents the sms-backup-md settings file
type Config struct {
	Me                Person            `yaml:"me"`
	People            []Person          `yaml:"people"`
	Groups            []Group           `yaml:"groups,omitempty"`
	DefaultRegion     string            `yaml:"default_region,omitempty"` // e.g. "CA", for numbers without a country code
	MIMETypes         map[string]string `yaml:"mime_types,omitempty"`
	SourceFolder      string            `yaml:"source_folder"`
	AttachmentsFolder string            `yaml:"attachments_folder"`
	Attachments       AttachmentsConfig `yaml:"attachments"`
	Debug             bool              `yaml:"debug"`
	Log               logging.Config    `yaml:"log"`
	Store             StoreConfig       `yaml:"store"`
}

// Person is a known correspondent (or the owner, under `me`)
type Person struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name,omitempty"`
	Mobile  string   `yaml:"mobile"`
	Mobiles []string `yaml:"mobiles,omitempty"`
}

// Group is a named set of people, referenced by slug
type Group struct {
	Slug    string   `yaml:"slug"`
	Members []string `yaml:"members"`
}

// AttachmentsConfig controls when decoded media is written.
type AttachmentsConfig struct {
	// WriteBeforeAccept writes each attachment as soon as its part is decoded,
	// even if the record is rejected afterwards.
	WriteBeforeAccept bool `yaml:"write_before_accept"`
}

// StoreConfig selects the optional SQLite message store
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path   string `yaml:"path,omitempty"`
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("SMSMD_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	if override := os.Getenv("SMSMD_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "SMSBackupMD"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}

	return filepath.Join(home, ".local", "share", appName), nil
}

// DefaultPath returns the config file location inside GetConfigDir.
func DefaultPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	return &Config{
		AttachmentsFolder: "attachments",
		Log:               logging.DefaultConfig(),
		Store:             StoreConfig{Driver: "sqlite"},
	}
}

// Load reads the config from path, or from DefaultPath when path is empty.
// Unlike the default location, an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil, fmt.Errorf("no config file at %s: create one with your `me` identity and people", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AttachmentsFolder == "" {
		c.AttachmentsFolder = "attachments"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "console"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	c.SourceFolder = expandHome(c.SourceFolder)
	c.Log.File = expandHome(c.Log.File)
	c.Store.Path = expandHome(c.Store.Path)
	c.Log.Debug = c.Debug
}

// Validate checks identities and group references.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Me.Slug) == "" {
		return fmt.Errorf("me.slug is required")
	}
	if strings.TrimSpace(c.Me.Mobile) == "" {
		return fmt.Errorf("me.mobile is required")
	}

	slugs := map[string]struct{}{c.Me.Slug: {}}
	for i, p := range c.People {
		if strings.TrimSpace(p.Slug) == "" {
			return fmt.Errorf("people[%d]: slug is required", i)
		}
		if _, dup := slugs[p.Slug]; dup {
			return fmt.Errorf("people[%d]: duplicate slug %q", i, p.Slug)
		}
		slugs[p.Slug] = struct{}{}
	}
	for i, g := range c.Groups {
		if strings.TrimSpace(g.Slug) == "" {
			return fmt.Errorf("groups[%d]: slug is required", i)
		}
		for _, m := range g.Members {
			if _, ok := slugs[m]; !ok {
				return fmt.Errorf("groups[%d] %q: unknown member %q", i, g.Slug, m)
			}
		}
	}
	if c.DefaultRegion != "" && !identity.ValidRegion(c.DefaultRegion) {
		return fmt.Errorf("default_region %q is not a known region code", c.DefaultRegion)
	}
	if filepath.IsAbs(c.AttachmentsFolder) && c.SourceFolder != "" {
		return fmt.Errorf("attachments_folder must be relative to source_folder")
	}
	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver must be sqlite or sqlite3, got %q", c.Store.Driver)
	}
	return nil
}

// AttachmentsDir is where MMS media is written: the attachments folder
// under the source folder.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.SourceFolder, c.AttachmentsFolder)
}

// StorePath returns the message store location, defaulting into GetDataDir.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "messages.db"), nil
}

// Directory builds the identity directory described by the config.
func (c *Config) Directory() (*identity.Directory, error) {
	people := make([]identity.Entry, 0, len(c.People))
	for _, p := range c.People {
		people = append(people, p.entry())
	}
	groups := make([]identity.Group, 0, len(c.Groups))
	for _, g := range c.Groups {
		groups = append(groups, identity.Group{Slug: g.Slug, Members: g.Members})
	}
	return identity.New(c.Me.entry(), people, groups, identity.WithDefaultRegion(c.DefaultRegion))
}

func (p Person) entry() identity.Entry {
	return identity.Entry{
		Identity: identity.Identity{
			Slug:        p.Slug,
			Mobile:      p.Mobile,
			DisplayName: p.Name,
		},
		OtherMobiles: p.Mobiles,
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
