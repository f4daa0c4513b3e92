// Package config loads and validates the layered crawler configuration via Viper.
//
// Three files are merged: config.yml selects the environment and maps logical
// connection names onto aliases, infrastructure.yml declares the concrete
// databases, object stores and services behind those aliases, and
// projects/<name>.yml holds one project's tables, stage settings and targets.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// ErrStageNotConfigured is returned when the project file has no block for the requested stage.
var ErrStageNotConfigured = errors.New("stage not configured")

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Options locates the configuration files.
type Options struct {
	ConfigDir   string
	ProjectsDir string
	Project     string
}

// Config is the merged view of all three layers for one project.
type Config struct {
	Environment string
	Env         EnvSettings
	DataDB      *DatabaseConfig
	MonitorDB   *DatabaseConfig
	Storage     *ObjectStorageConfig
	Services    ServicesConfig
	Project     ProjectConfig
}

// EnvironmentConfig is one entry under config.yml's environments map.
type EnvironmentConfig struct {
	Connections ConnectionAliases `mapstructure:"connections"`
	Settings    EnvSettings       `mapstructure:"env_settings"`
}

// ConnectionAliases names the infrastructure entries an environment uses.
type ConnectionAliases struct {
	DataDB    string `mapstructure:"data_db"`
	MonitorDB string `mapstructure:"monitor_db"`
	Storage   string `mapstructure:"storage"`
}

// EnvSettings holds per-environment switches.
type EnvSettings struct {
	UseProxy           int  `mapstructure:"is_use_proxy"`
	ListFullCrawl      bool `mapstructure:"list_is_full_crawled"`
	DevelopmentLogging bool `mapstructure:"development_logging"`
}

// ProxyEnabled reports whether requests go through the rotating proxy.
func (e EnvSettings) ProxyEnabled() bool {
	return e.UseProxy == 1
}

// DatabaseConfig describes one relational store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	SSH             SSHConfig     `mapstructure:"ssh"`
}

// SSHConfig enables tunneling database traffic through a bastion host.
type SSHConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	KnownHosts string `mapstructure:"known_hosts"`
}

// Enabled reports whether a tunnel host is configured.
func (s SSHConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

// ObjectStorageConfig describes one object store.
type ObjectStorageConfig struct {
	Kind      string `mapstructure:"kind"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Folder    string `mapstructure:"folder"`
	Scheme    string `mapstructure:"scheme"`
	BaseDir   string `mapstructure:"base_dir"`
}

// ServicesConfig lists the auxiliary HTTP services and process-level knobs.
type ServicesConfig struct {
	ProxyVendorURL string       `mapstructure:"proxy_vendor_url"`
	SnowflakeURL   string       `mapstructure:"snowflake_url"`
	MonitorAPIURL  string       `mapstructure:"monitor_api_url"`
	MetricsPushURL string       `mapstructure:"metrics_push_url"`
	MetricsAddr    string       `mapstructure:"metrics_addr"`
	Timezone       string       `mapstructure:"timezone"`
	PubSub         PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Location resolves the configured timezone.
func (s ServicesConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// ProjectConfig is the content of projects/<name>.yml.
type ProjectConfig struct {
	Name           string      `mapstructure:"project_name"`
	Table          string      `mapstructure:"db_table"`
	MonitorTable   string      `mapstructure:"db_monitor_table"`
	WebsiteBaseURL string      `mapstructure:"website_base_url"`
	ManuscriptURL  string      `mapstructure:"manuscript_data_base_url"`
	ParentChannel  string      `mapstructure:"manuscript_parent_channel"`
	List           StageConfig `mapstructure:"list_stage"`
	Detail         StageConfig `mapstructure:"detail_stage"`
	Attachment     StageConfig `mapstructure:"attachment_stage"`

	configured map[crawler.StageName]bool
}

// StageConfig holds one stage block of the project file.
type StageConfig struct {
	LogPath          string           `mapstructure:"log_path"`
	LogFile          string           `mapstructure:"log_file_path"`
	FileCachePath    string           `mapstructure:"file_cache_path"`
	UpdateTimeExtent int              `mapstructure:"update_time_extent"`
	RetryNumber      int              `mapstructure:"get_proxy_retry_number"`
	RetryDelay       time.Duration    `mapstructure:"retry_delay"`
	ProxyCachePath   string           `mapstructure:"proxy_cache_path"`
	PageSize         int              `mapstructure:"page_size"`
	PDFTimeout       time.Duration    `mapstructure:"pdf_timeout"`
	RequestRate      float64          `mapstructure:"request_rate"`
	RequestBurst     int              `mapstructure:"request_burst"`
	TemplatePath     string           `mapstructure:"temp_path"`
	TemplateFiles    TemplateFiles    `mapstructure:"temp_file_path"`
	Targets          []crawler.Target `mapstructure:"precinct_list"`
}

// TemplateFiles names the page template and stylesheet used for PDF rendering.
type TemplateFiles struct {
	Page  string `mapstructure:"h5"`
	Style string `mapstructure:"c3"`
}

// LogFilePath joins the stage's log directory and file name.
func (s StageConfig) LogFilePath() string {
	if s.LogFile == "" {
		return ""
	}
	return filepath.Join(s.LogPath, s.LogFile)
}

// Stage returns the settings block for stage.
func (c Config) Stage(stage crawler.StageName) (StageConfig, error) {
	if !c.Project.configured[stage] {
		return StageConfig{}, fmt.Errorf("%w: %s_stage missing from project %q", ErrStageNotConfigured, stage, c.Project.Name)
	}
	switch stage {
	case crawler.StageList:
		return c.Project.List, nil
	case crawler.StageDetail:
		return c.Project.Detail, nil
	case crawler.StageAttachment:
		return c.Project.Attachment, nil
	default:
		return StageConfig{}, fmt.Errorf("unknown stage %q", stage)
	}
}

// Load reads all three layers and validates the merged result.
func Load(opts Options) (Config, error) {
	if strings.TrimSpace(opts.Project) == "" {
		return Config{}, fmt.Errorf("project name is required")
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = "config"
	}
	if opts.ProjectsDir == "" {
		opts.ProjectsDir = filepath.Join(opts.ConfigDir, "projects")
	}

	envFile, err := readLayer(filepath.Join(opts.ConfigDir, "config.yml"), setEnvironmentDefaults)
	if err != nil {
		return Config{}, err
	}
	var envLayer struct {
		Environment  string                       `mapstructure:"environment"`
		Environments map[string]EnvironmentConfig `mapstructure:"environments"`
	}
	if err := envFile.Unmarshal(&envLayer); err != nil {
		return Config{}, fmt.Errorf("unmarshal config.yml: %w", err)
	}

	infraFile, err := readLayer(filepath.Join(opts.ConfigDir, "infrastructure.yml"), setInfrastructureDefaults)
	if err != nil {
		return Config{}, err
	}
	var infraLayer struct {
		Databases     map[string]DatabaseConfig      `mapstructure:"databases"`
		ObjectStorage map[string]ObjectStorageConfig `mapstructure:"object_storage"`
		Services      ServicesConfig                 `mapstructure:"services"`
	}
	if err := infraFile.Unmarshal(&infraLayer); err != nil {
		return Config{}, fmt.Errorf("unmarshal infrastructure.yml: %w", err)
	}

	projectFile, err := readLayer(filepath.Join(opts.ProjectsDir, opts.Project+".yml"), setProjectDefaults)
	if err != nil {
		return Config{}, err
	}
	var project ProjectConfig
	if err := projectFile.Unmarshal(&project); err != nil {
		return Config{}, fmt.Errorf("unmarshal project %s: %w", opts.Project, err)
	}
	if project.Name == "" {
		project.Name = opts.Project
	}
	project.configured = make(map[crawler.StageName]bool, len(crawler.Stages))
	for _, stage := range crawler.Stages {
		project.configured[stage] = projectFile.InConfig(string(stage) + "_stage")
	}

	env, ok := envLayer.Environments[envLayer.Environment]
	if !ok {
		return Config{}, fmt.Errorf("environment %q is not defined in config.yml", envLayer.Environment)
	}
	cfg := Config{
		Environment: envLayer.Environment,
		Env:         env.Settings,
		Services:    infraLayer.Services,
		Project:     project,
	}
	if cfg.DataDB, err = lookupAlias(infraLayer.Databases, env.Connections.DataDB, "databases"); err != nil {
		return Config{}, err
	}
	if cfg.MonitorDB, err = lookupAlias(infraLayer.Databases, env.Connections.MonitorDB, "databases"); err != nil {
		return Config{}, err
	}
	if cfg.Storage, err = lookupAlias(infraLayer.ObjectStorage, env.Connections.Storage, "object_storage"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readLayer(path string, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("REGCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

func lookupAlias[T any](entries map[string]T, alias, section string) (*T, error) {
	if alias == "" {
		return nil, nil
	}
	entry, ok := entries[alias]
	if !ok {
		return nil, fmt.Errorf("%s.%s is referenced but not defined in infrastructure.yml", section, alias)
	}
	return &entry, nil
}

func setEnvironmentDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
}

func setInfrastructureDefaults(v *viper.Viper) {
	v.SetDefault("services.timezone", "Asia/Shanghai")
}

func setProjectDefaults(v *viper.Viper) {
	v.SetDefault("website_base_url", "http://www.csrc.gov.cn/")
	v.SetDefault("manuscript_parent_channel", "证监局主题分类")
	for _, stage := range crawler.Stages {
		prefix := string(stage) + "_stage."
		v.SetDefault(prefix+"log_path", "./logs")
		v.SetDefault(prefix+"file_cache_path", filepath.Join("./cache", string(stage)))
		v.SetDefault(prefix+"update_time_extent", 1)
		v.SetDefault(prefix+"get_proxy_retry_number", 3)
		v.SetDefault(prefix+"retry_delay", time.Second)
		v.SetDefault(prefix+"proxy_cache_path", "./cache/proxy.json")
		v.SetDefault(prefix+"page_size", 50)
		v.SetDefault(prefix+"pdf_timeout", 60*time.Second)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !validTableName.MatchString(c.Project.Table) {
		return fmt.Errorf("db_table must be a valid table name, got %q", c.Project.Table)
	}
	if c.Project.MonitorTable != "" && !validTableName.MatchString(c.Project.MonitorTable) {
		return fmt.Errorf("db_monitor_table must be a valid table name, got %q", c.Project.MonitorTable)
	}
	if c.Env.UseProxy != 0 && c.Env.UseProxy != 1 {
		return fmt.Errorf("env_settings.is_use_proxy must be 0 or 1")
	}
	if c.Env.ProxyEnabled() && c.Services.ProxyVendorURL == "" {
		return fmt.Errorf("services.proxy_vendor_url must be set when is_use_proxy is 1")
	}
	if _, err := c.Services.Location(); err != nil {
		return err
	}
	for _, db := range []*DatabaseConfig{c.DataDB, c.MonitorDB} {
		if db == nil {
			continue
		}
		if err := db.validate(); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if err := c.Storage.validate(); err != nil {
			return err
		}
	}
	for _, stage := range crawler.Stages {
		sc, err := c.Stage(stage)
		if err != nil {
			continue
		}
		if err := sc.validate(stage); err != nil {
			return err
		}
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	switch d.Driver {
	case "", "postgres":
		if d.DSN == "" && d.Host == "" {
			return fmt.Errorf("database requires either dsn or host")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", d.Driver)
	}
	return nil
}

func (o ObjectStorageConfig) validate() error {
	switch o.Kind {
	case "", "s3":
		if o.Bucket == "" || o.Endpoint == "" {
			return fmt.Errorf("s3 object storage requires bucket and endpoint")
		}
	case "gcs":
		if o.Bucket == "" {
			return fmt.Errorf("gcs object storage requires bucket")
		}
	case "local":
		if o.BaseDir == "" {
			return fmt.Errorf("local object storage requires base_dir")
		}
	case "memory":
	default:
		return fmt.Errorf("object_storage.kind must be s3, gcs, local or memory, got %q", o.Kind)
	}
	return nil
}

func (s StageConfig) validate(stage crawler.StageName) error {
	if s.UpdateTimeExtent < 0 {
		return fmt.Errorf("%s_stage.update_time_extent must be >= 0", stage)
	}
	if s.RetryNumber < 0 {
		return fmt.Errorf("%s_stage.get_proxy_retry_number must be >= 0", stage)
	}
	if s.FileCachePath == "" {
		return fmt.Errorf("%s_stage.file_cache_path must be set", stage)
	}
	if stage != crawler.StageList {
		return nil
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("list_stage.page_size must be > 0")
	}
	for i, target := range s.Targets {
		if target.Name == "" || target.ListURL == "" {
			return fmt.Errorf("list_stage.precinct_list[%d] requires precinct and list_page_base_url", i)
		}
	}
	return nil
}
