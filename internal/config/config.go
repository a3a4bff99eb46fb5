package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	// Embedded zone database so the configured timezone resolves on hosts
	// without /usr/share/zoneinfo.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// TermConfig bounds the academic term. Dates are YYYY-MM-DD.
type TermConfig struct {
	Name  string `yaml:"name" json:"name"`
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// CanvasConfig points at the LMS and the exam schedule.
type CanvasConfig struct {
	BaseURL          string `yaml:"base_url" json:"base_url"`
	FinalExamURL     string `yaml:"final_exam_url" json:"final_exam_url"`
	AnnouncementDays int    `yaml:"announcement_days" json:"announcement_days"`
	CacheDir         string `yaml:"cache_dir" json:"cache_dir"`
}

// ExtractorConfig configures the midterm date extraction service. An
// empty URL disables midterm extraction.
type ExtractorConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type LogConfig struct {
	Debug bool   `yaml:"debug" json:"debug"`
	File  string `yaml:"file" json:"file"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all course times are in.
	Timezone string `yaml:"timezone" json:"timezone"`

	Term         TermConfig `yaml:"term" json:"term"`
	CalendarName string     `yaml:"calendar_name" json:"calendar_name"`

	// StorePath is the bbolt file; "memory" keeps events in memory only.
	StorePath string `yaml:"store_path" json:"store_path"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// for the platform sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MidtermOrder is as-supplied, newest-first or oldest-first.
	MidtermOrder string `yaml:"midterm_order" json:"midterm_order"`

	Canvas    CanvasConfig    `yaml:"canvas" json:"canvas"`
	Extractor ExtractorConfig `yaml:"extractor" json:"extractor"`
	Log       LogConfig       `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Vancouver"
	}
	if c.CalendarName == "" {
		c.CalendarName = "NotiFlow"
		if c.Term.Name != "" {
			c.CalendarName = "NotiFlow " + c.Term.Name
		}
	}
	if c.StorePath == "" {
		c.StorePath = "./var/notiflow.db"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */6 * * *"
	}
	if c.MidtermOrder == "" {
		c.MidtermOrder = "as-supplied"
	}
	if c.Canvas.BaseURL == "" {
		c.Canvas.BaseURL = "https://canvas.ubc.ca/"
	}
	if c.Canvas.FinalExamURL == "" {
		c.Canvas.FinalExamURL = "https://legacy.students.ubc.ca/views/ajax"
	}
	if c.Canvas.AnnouncementDays <= 0 {
		c.Canvas.AnnouncementDays = 80
	}
	if c.Canvas.CacheDir == "" {
		c.Canvas.CacheDir = "./var/page-cache"
	}
	if c.Extractor.Timeout <= 0 {
		c.Extractor.Timeout = 30 * time.Second
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// TermBounds parses the term dates in loc. Either may be zero when unset.
func (c *Config) TermBounds(loc *time.Location) (start, end time.Time, err error) {
	if c.Term.Start != "" {
		if start, err = time.ParseInLocation(dateLayout, c.Term.Start, loc); err != nil {
			return start, end, fmt.Errorf("term.start: %w", err)
		}
	}
	if c.Term.End != "" {
		if end, err = time.ParseInLocation(dateLayout, c.Term.End, loc); err != nil {
			return start, end, fmt.Errorf("term.end: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("term ends (%s) before it starts (%s)", c.Term.End, c.Term.Start)
	}
	return start, end, nil
}

// Validate checks the values Normalize cannot default.
func (c *Config) Validate() error {
	loc, err := c.Location()
	if err != nil {
		return err
	}
	if _, _, err := c.TermBounds(loc); err != nil {
		return err
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return errors.New("basic_auth needs both username and password")
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".notiflow-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
