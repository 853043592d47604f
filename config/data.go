package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hlsvault/models"
)

const envPrefix = "HLSVAULT_"

// DefaultKeyPrefixTemplate lays out every package under {kind}/hls/{id}/.
const DefaultKeyPrefixTemplate = "{kind}/hls/{id}/"

// DefaultSignedURLTTL is the lifetime of presigned links unless a caller asks otherwise.
const DefaultSignedURLTTL = time.Hour

// Config is the full runtime configuration. It is read from an optional YAML
// file (HLSVAULT_CONFIG) and then overridden by HLSVAULT_* environment
// variables.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	TempDir    string `yaml:"temp_dir"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`

	Storage StorageConfig `yaml:"storage"`

	SignedURLTTL      time.Duration `yaml:"signed_url_ttl"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
	JobTimeout        time.Duration `yaml:"job_timeout"` // 0 = no deadline
	UploadConcurrency int           `yaml:"upload_concurrency"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"` // 0 = unbounded
	RecordRetention   time.Duration `yaml:"record_retention"`

	Kinds map[models.Kind]KindConfig `yaml:"kinds"`
}

// KindConfig holds the per-kind layout differences. Templates accept the
// {kind} and {id} placeholders.
type KindConfig struct {
	KeyPrefixTemplate string   `yaml:"key_prefix_template"`
	FallbackKeys      []string `yaml:"fallback_keys"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"` // s3, gcs, local, memory
	Bucket     string `yaml:"bucket"`
	PublicRead bool   `yaml:"public_read"`

	S3    S3Config    `yaml:"s3"`
	GCS   GCSConfig   `yaml:"gcs"`
	Local LocalConfig `yaml:"local"`
}

type S3Config struct {
	Endpoint       string `yaml:"endpoint"`        // http(s)://host:port, empty for AWS
	PublicEndpoint string `yaml:"public_endpoint"` // host used in presigned URLs
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	UsePathStyle   bool   `yaml:"use_path_style"`
}

type GCSConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type LocalConfig struct {
	Root          string `yaml:"root"`
	BaseURL       string `yaml:"base_url"`
	SigningSecret string `yaml:"signing_secret"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DataDir:    "./data",
		TempDir:    os.TempDir(),
		ListenAddr: ":8080",
		LogLevel:   "info",
		Storage: StorageConfig{
			Backend: "s3",
			Bucket:  "media",
			S3: S3Config{
				Region:       "us-east-1",
				UsePathStyle: true,
			},
			Local: LocalConfig{
				Root:    "./serve",
				BaseURL: "http://localhost:8080",
			},
		},
		SignedURLTTL:      DefaultSignedURLTTL,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		UploadConcurrency: 4,
		RecordRetention:   30 * 24 * time.Hour,
		Kinds: map[models.Kind]KindConfig{
			models.KindAd:    {KeyPrefixTemplate: DefaultKeyPrefixTemplate},
			models.KindMusic: {KeyPrefixTemplate: DefaultKeyPrefixTemplate, FallbackKeys: []string{"music/hls/{id}/index.m3u8"}},
			models.KindVideo: {KeyPrefixTemplate: DefaultKeyPrefixTemplate},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, then validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("DATA_DIR", &c.DataDir)
	str("TEMP_DIR", &c.TempDir)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FILE", &c.LogFile)

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("BUCKET", &c.Storage.Bucket)
	boolean("PUBLIC_READ", &c.Storage.PublicRead)
	str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("S3_PUBLIC_ENDPOINT", &c.Storage.S3.PublicEndpoint)
	str("S3_REGION", &c.Storage.S3.Region)
	str("S3_ACCESS_KEY", &c.Storage.S3.AccessKey)
	str("S3_SECRET_KEY", &c.Storage.S3.SecretKey)
	boolean("S3_PATH_STYLE", &c.Storage.S3.UsePathStyle)
	str("GCS_PROJECT_ID", &c.Storage.GCS.ProjectID)
	str("GCS_CREDENTIALS_FILE", &c.Storage.GCS.CredentialsFile)
	str("LOCAL_ROOT", &c.Storage.Local.Root)
	str("LOCAL_BASE_URL", &c.Storage.Local.BaseURL)
	str("LOCAL_SIGNING_SECRET", &c.Storage.Local.SigningSecret)

	duration("SIGNED_URL_TTL", &c.SignedURLTTL)
	str("FFMPEG_PATH", &c.FFmpegPath)
	str("FFPROBE_PATH", &c.FFprobePath)
	duration("JOB_TIMEOUT", &c.JobTimeout)
	integer("UPLOAD_CONCURRENCY", &c.UploadConcurrency)
	integer("MAX_CONCURRENT_JOBS", &c.MaxConcurrentJobs)
	duration("RECORD_RETENTION", &c.RecordRetention)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("90m") and bare seconds ("3600").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "s3", "gcs", "memory":
	case "local":
		if len(c.Storage.Local.SigningSecret) < 32 {
			errs = append(errs, errors.New("storage.local.signing_secret must be at least 32 bytes"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("signed_url_ttl must be positive"))
	}
	if c.JobTimeout < 0 {
		errs = append(errs, errors.New("job_timeout must not be negative"))
	}
	if c.UploadConcurrency <= 0 {
		errs = append(errs, errors.New("upload_concurrency must be positive"))
	}
	if c.MaxConcurrentJobs < 0 {
		errs = append(errs, errors.New("max_concurrent_jobs must not be negative"))
	}
	for kind, kc := range c.Kinds {
		if _, err := models.ParseKind(string(kind)); err != nil {
			errs = append(errs, err)
		}
		if kc.KeyPrefixTemplate != "" && !strings.Contains(kc.KeyPrefixTemplate, "{id}") {
			errs = append(errs, fmt.Errorf("kinds.%s.key_prefix_template must contain {id}", kind))
		}
	}
	return errors.Join(errs...)
}

// Kind returns the layout for k, falling back to the default prefix template.
func (c Config) Kind(k models.Kind) KindConfig {
	kc := c.Kinds[k]
	if kc.KeyPrefixTemplate == "" {
		kc.KeyPrefixTemplate = DefaultKeyPrefixTemplate
	}
	return kc
}

// AssetsDBPath returns the path to the asset status database.
// Path: {DataDir}/assets.db
func (c Config) AssetsDBPath() string {
	return filepath.Join(c.DataDir, "assets.db")
}

// ExpandKey fills {kind} and {id} in a key template.
func ExpandKey(tmpl string, kind models.Kind, id string) string {
	return strings.NewReplacer("{kind}", string(kind), "{id}", id).Replace(tmpl)
}

// KeyPrefix returns the object key prefix for an asset's package. The result
// always ends in "/".
func (kc KindConfig) KeyPrefix(kind models.Kind, id string) string {
	tmpl := kc.KeyPrefixTemplate
	if tmpl == "" {
		tmpl = DefaultKeyPrefixTemplate
	}
	p := ExpandKey(tmpl, kind, id)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Fallbacks returns the expanded fallback manifest keys for an asset.
func (kc KindConfig) Fallbacks(kind models.Kind, id string) []string {
	keys := make([]string, 0, len(kc.FallbackKeys))
	for _, tmpl := range kc.FallbackKeys {
		keys = append(keys, ExpandKey(tmpl, kind, id))
	}
	return keys
}
