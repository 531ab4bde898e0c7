package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PolicyFail = "fail"
	PolicySkip = "skip"

	JoinCatalog = "catalog"
	JoinTracks  = "tracks"
)

var (
	ErrMissingCredentials = errors.New("missing aws credentials")
	ErrInvalidConfig      = errors.New("invalid config")
)

// Config holds the ETL job configuration.
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	Paths   PathsConfig   `mapstructure:"paths"`
	ETL     ETLConfig     `mapstructure:"etl"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type AWSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	// Endpoint overrides the S3 endpoint (minio, localstack).
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type PathsConfig struct {
	Input  string `mapstructure:"input"`
	Output string `mapstructure:"output"`
}

type ETLConfig struct {
	Workers              int           `mapstructure:"workers"`
	Timeout              time.Duration `mapstructure:"timeout"`
	Timezone             string        `mapstructure:"timezone"`
	MalformedPolicy      string        `mapstructure:"malformed_policy"`
	JoinSource           string        `mapstructure:"join_source"`
	SongplaysPartitioned bool          `mapstructure:"songplays_partitioned"`
	NodeID               int64         `mapstructure:"node_id"`
	Compression          string        `mapstructure:"compression"`
	ProbeOutput          bool          `mapstructure:"probe_output"`
	StatsFile            string        `mapstructure:"stats_file"`
	TempDir              string        `mapstructure:"temp_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Roots are the input and output locations used when the config file does not set paths.
type Roots struct {
	Input  string
	Output string
}

// Load reads dl.yml from the working directory or /etc/sparkify, or the file named by
// ETL_CONFIG_FILE. A missing file is an error.
func Load(roots Roots) (Config, error) {
	_ = godotenv.Load()

	return LoadFile(os.Getenv("ETL_CONFIG_FILE"), roots)
}

// LoadFile reads the config from path, or searches the default locations when path is empty.
func LoadFile(path string, roots Roots) (Config, error) {
	v := viper.New()
	setDefaults(v, roots)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dl")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sparkify")
	}

	v.SetEnvPrefix("SPARKIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, roots Roots) {
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.region", "us-west-2")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.force_path_style", false)

	v.SetDefault("paths.input", roots.Input)
	v.SetDefault("paths.output", roots.Output)

	v.SetDefault("etl.workers", runtime.NumCPU()*2)
	v.SetDefault("etl.timeout", 6*time.Hour)
	v.SetDefault("etl.timezone", "UTC")
	v.SetDefault("etl.malformed_policy", PolicyFail)
	v.SetDefault("etl.join_source", JoinCatalog)
	v.SetDefault("etl.songplays_partitioned", false)
	v.SetDefault("etl.node_id", 1)
	v.SetDefault("etl.compression", "snappy")
	v.SetDefault("etl.probe_output", true)
	v.SetDefault("etl.stats_file", "etl_stats.json")
	v.SetDefault("etl.temp_dir", os.TempDir())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.textfile", "")
}

func (c *Config) normalize() {
	c.AWS.AccessKeyID = strings.TrimSpace(c.AWS.AccessKeyID)
	c.AWS.SecretAccessKey = strings.TrimSpace(c.AWS.SecretAccessKey)
	c.Paths.Input = strings.TrimSpace(c.Paths.Input)
	c.Paths.Output = strings.TrimSpace(c.Paths.Output)
	c.ETL.MalformedPolicy = strings.ToLower(strings.TrimSpace(c.ETL.MalformedPolicy))
	c.ETL.JoinSource = strings.ToLower(strings.TrimSpace(c.ETL.JoinSource))
	c.ETL.Compression = strings.ToLower(strings.TrimSpace(c.ETL.Compression))
}

// Validate checks the config. Credentials are only required when a root lives in S3.
func (c Config) Validate() error {
	if c.Paths.Input == "" {
		return fmt.Errorf("%w: paths.input is empty", ErrInvalidConfig)
	}
	if c.Paths.Output == "" {
		return fmt.Errorf("%w: paths.output is empty", ErrInvalidConfig)
	}
	if IsObjectStoreRoot(c.Paths.Input) || IsObjectStoreRoot(c.Paths.Output) {
		if c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "" {
			return ErrMissingCredentials
		}
	}
	if c.ETL.Workers <= 0 {
		return fmt.Errorf("%w: etl.workers must be positive, got %d", ErrInvalidConfig, c.ETL.Workers)
	}
	if c.ETL.Timeout <= 0 {
		return fmt.Errorf("%w: etl.timeout must be positive", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.ETL.Timezone); err != nil {
		return fmt.Errorf("%w: etl.timezone %q: %v", ErrInvalidConfig, c.ETL.Timezone, err)
	}
	switch c.ETL.MalformedPolicy {
	case PolicyFail, PolicySkip:
	default:
		return fmt.Errorf("%w: etl.malformed_policy %q", ErrInvalidConfig, c.ETL.MalformedPolicy)
	}
	switch c.ETL.JoinSource {
	case JoinCatalog, JoinTracks:
	default:
		return fmt.Errorf("%w: etl.join_source %q", ErrInvalidConfig, c.ETL.JoinSource)
	}
	switch c.ETL.Compression {
	case "snappy", "gzip", "zstd", "uncompressed":
	default:
		return fmt.Errorf("%w: etl.compression %q", ErrInvalidConfig, c.ETL.Compression)
	}
	// snowflake reserves 10 bits for the node
	if c.ETL.NodeID < 0 || c.ETL.NodeID > 1023 {
		return fmt.Errorf("%w: etl.node_id must be in [0, 1023], got %d", ErrInvalidConfig, c.ETL.NodeID)
	}
	return nil
}

// Location returns the time zone used for calendar fields.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ETL.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsObjectStoreRoot reports whether root addresses S3.
func IsObjectStoreRoot(root string) bool {
	lower := strings.ToLower(root)
	for _, scheme := range []string{"s3://", "s3a://", "s3n://"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
