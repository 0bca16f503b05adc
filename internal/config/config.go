package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Upstream event source
	UpstreamBaseURL     string
	UpstreamAPIKey      string
	UpstreamBearerToken string

	// Access-control platform
	HikBaseURL            string
	HikAppKey             string
	HikAppSecret          string
	HikUserID             string
	HikOrgIndexCode       string
	HikPrivilegeGroupID   string
	HikInsecureSkipVerify bool

	// Face embedding service
	EncoderURL string

	// Dashboard API
	DashboardAddr string

	// Local state
	DataDir string
	DBPath  string

	// Engine tuning
	SyncIntervalSeconds int
	EventLimit          int
	FaceMatchThreshold  float64
	HTTPTimeoutSeconds  int

	// Request log retention
	LogRetentionDays   int // 0 = keep forever
	PruneIntervalHours int
	MaxRequestLogs     int
}

func FromEnv() Config {
	return Config{
		UpstreamBaseURL:     getenvDefault("WORKSYNC_UPSTREAM_URL", "http://localhost:8000"),
		UpstreamAPIKey:      os.Getenv("WORKSYNC_UPSTREAM_API_KEY"),
		UpstreamBearerToken: os.Getenv("WORKSYNC_UPSTREAM_BEARER_TOKEN"),

		HikBaseURL:            os.Getenv("WORKSYNC_HIK_URL"),
		HikAppKey:             os.Getenv("WORKSYNC_HIK_APP_KEY"),
		HikAppSecret:          os.Getenv("WORKSYNC_HIK_APP_SECRET"),
		HikUserID:             getenvDefault("WORKSYNC_HIK_USER_ID", "admin"),
		HikOrgIndexCode:       getenvDefault("WORKSYNC_HIK_ORG_INDEX", "1"),
		HikPrivilegeGroupID:   getenvDefault("WORKSYNC_HIK_PRIVILEGE_GROUP", "1"),
		HikInsecureSkipVerify: getenvBool("WORKSYNC_HIK_INSECURE_SKIP_VERIFY"),

		EncoderURL: getenvDefault("WORKSYNC_ENCODER_URL", "http://localhost:9090/encode"),

		DashboardAddr: getenvDefault("WORKSYNC_DASHBOARD_ADDR", ":8080"),

		DataDir: getenvDefault("WORKSYNC_DATA_DIR", "./data"),
		DBPath:  getenvDefault("WORKSYNC_DB_PATH", "./data/worksync.db"),

		SyncIntervalSeconds: getenvInt("WORKSYNC_INTERVAL_SECONDS", 60),
		EventLimit:          getenvInt("WORKSYNC_EVENT_LIMIT", 50),
		FaceMatchThreshold:  getenvFloat("WORKSYNC_FACE_THRESHOLD", 0.4),
		HTTPTimeoutSeconds:  getenvInt("WORKSYNC_HTTP_TIMEOUT_SECONDS", 30),

		LogRetentionDays:   getenvInt("WORKSYNC_LOG_RETENTION_DAYS", 30),
		PruneIntervalHours: getenvInt("WORKSYNC_PRUNE_INTERVAL_HOURS", 24),
		MaxRequestLogs:     getenvInt("WORKSYNC_MAX_REQUEST_LOGS", 1000),
	}
}

// fileConfig mirrors Config with TOML tags and pointer fields so that only
// keys present in the file override the environment.
type fileConfig struct {
	Upstream *struct {
		BaseURL     *string `toml:"base_url"`
		APIKey      *string `toml:"api_key"`
		BearerToken *string `toml:"bearer_token"`
	} `toml:"upstream"`

	Hikcentral *struct {
		BaseURL            *string `toml:"base_url"`
		AppKey             *string `toml:"app_key"`
		AppSecret          *string `toml:"app_secret"`
		UserID             *string `toml:"user_id"`
		OrgIndexCode       *string `toml:"org_index_code"`
		PrivilegeGroupID   *string `toml:"privilege_group_id"`
		InsecureSkipVerify *bool   `toml:"insecure_skip_verify"`
	} `toml:"hikcentral"`

	Encoder *struct {
		URL *string `toml:"url"`
	} `toml:"encoder"`

	Dashboard *struct {
		Addr *string `toml:"addr"`
	} `toml:"dashboard"`

	Engine *struct {
		DataDir             *string  `toml:"data_dir"`
		DBPath              *string  `toml:"db_path"`
		SyncIntervalSeconds *int     `toml:"sync_interval_seconds"`
		EventLimit          *int     `toml:"event_limit"`
		FaceMatchThreshold  *float64 `toml:"face_match_threshold"`
		HTTPTimeoutSeconds  *int     `toml:"http_timeout_seconds"`
		LogRetentionDays    *int     `toml:"log_retention_days"`
		PruneIntervalHours  *int     `toml:"prune_interval_hours"`
		MaxRequestLogs      *int     `toml:"max_request_logs"`
	} `toml:"engine"`
}

// ApplyFile overlays a TOML config file onto c.  Keys absent from the file
// keep their current values.
func (c *Config) ApplyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return err
	}

	if u := fc.Upstream; u != nil {
		setString(&c.UpstreamBaseURL, u.BaseURL)
		setString(&c.UpstreamAPIKey, u.APIKey)
		setString(&c.UpstreamBearerToken, u.BearerToken)
	}
	if h := fc.Hikcentral; h != nil {
		setString(&c.HikBaseURL, h.BaseURL)
		setString(&c.HikAppKey, h.AppKey)
		setString(&c.HikAppSecret, h.AppSecret)
		setString(&c.HikUserID, h.UserID)
		setString(&c.HikOrgIndexCode, h.OrgIndexCode)
		setString(&c.HikPrivilegeGroupID, h.PrivilegeGroupID)
		if h.InsecureSkipVerify != nil {
			c.HikInsecureSkipVerify = *h.InsecureSkipVerify
		}
	}
	if e := fc.Encoder; e != nil {
		setString(&c.EncoderURL, e.URL)
	}
	if d := fc.Dashboard; d != nil {
		setString(&c.DashboardAddr, d.Addr)
	}
	if e := fc.Engine; e != nil {
		setString(&c.DataDir, e.DataDir)
		setString(&c.DBPath, e.DBPath)
		setInt(&c.SyncIntervalSeconds, e.SyncIntervalSeconds)
		setInt(&c.EventLimit, e.EventLimit)
		if e.FaceMatchThreshold != nil {
			c.FaceMatchThreshold = *e.FaceMatchThreshold
		}
		setInt(&c.HTTPTimeoutSeconds, e.HTTPTimeoutSeconds)
		setInt(&c.LogRetentionDays, e.LogRetentionDays)
		setInt(&c.PruneIntervalHours, e.PruneIntervalHours)
		setInt(&c.MaxRequestLogs, e.MaxRequestLogs)
	}

	return nil
}

// Validate checks the fields the daemon cannot run without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.UpstreamBaseURL) == "" {
		errs = append(errs, errors.New("upstream base URL is required"))
	}
	if strings.TrimSpace(c.HikBaseURL) == "" {
		errs = append(errs, errors.New("access-control base URL is required"))
	}
	if strings.TrimSpace(c.HikAppKey) == "" || strings.TrimSpace(c.HikAppSecret) == "" {
		errs = append(errs, errors.New("access-control app key and secret are required"))
	}
	if c.FaceMatchThreshold < 0 || c.FaceMatchThreshold > 1 {
		errs = append(errs, errors.New("face match threshold must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string) bool {
	v := os.Getenv(key)
	return strings.EqualFold(v, "true") || v == "1"
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
