package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const configFileENV = "CONFIG_FILE"

const defaultConfigFile = "/config/tankobon.yaml"

type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" required:"true"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"3690"`

	LibraryPath  string `koanf:"library_path" default:"/library"`
	ThumbnailDir string `koanf:"thumbnail_dir" default:"/config/thumbnails"`
	DownloadDir  string `koanf:"download_dir" default:"/library/downloads"`

	CatalogBaseURL      string `koanf:"catalog_base_url" default:"http://localhost:8080/api"`
	CatalogImageBaseURL string `koanf:"catalog_image_base_url" default:"http://localhost:8080/i"`
	CatalogUserAgent    string `koanf:"catalog_user_agent" default:"tankobon"`

	// WorkerPoolSize of 0 sizes the thumbnail pool to the host's logical core count.
	WorkerPoolSize   int `koanf:"worker_pool_size"`
	ScanBatchSize    int `koanf:"scan_batch_size" default:"200"`
	ScanMaxDepth     int `koanf:"scan_max_depth" default:"100"`
	MaxPathLength    int `koanf:"max_path_length" default:"260"`
	ThumbnailWidth   int `koanf:"thumbnail_width" default:"350"`
	ThumbnailHeight  int `koanf:"thumbnail_height" default:"500"`
	ThumbnailQuality int `koanf:"thumbnail_quality" default:"85"`
	ScanJobWorkers   int `koanf:"scan_job_workers" default:"1"`
	TransferAttempts int `koanf:"transfer_max_attempts" default:"3"`
	TransferWorkers  int `koanf:"transfer_concurrency" default:"4"`

	DrainInterval       time.Duration `koanf:"drain_interval" default:"1s"`
	DrainErrorBackoff   time.Duration `koanf:"drain_error_backoff" default:"5s"`
	TransferRetryDelay  time.Duration `koanf:"transfer_retry_delay" default:"2s"`
	ScanJobPollInterval time.Duration `koanf:"scan_job_poll_interval" default:"5s"`
}

// New loads the config from defaults, then the YAML file named by CONFIG_FILE
// (if it exists), then environment variables. Environment variables are the
// upper snake case form of the YAML keys and win over the file.
func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	keys := knownKeys()
	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := keys[key]; !ok {
			// Returning an empty key tells koanf to skip the variable.
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := checkRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a config suitable for tests: an in-memory database and
// small, fast timings.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.WorkerPoolSize = 2
	cfg.DrainInterval = 10 * time.Millisecond
	cfg.DrainErrorBackoff = 50 * time.Millisecond
	cfg.TransferRetryDelay = time.Millisecond
	cfg.ScanJobPollInterval = 20 * time.Millisecond
	return cfg
}

func knownKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("koanf"); tag != "" {
			keys[tag] = struct{}{}
		}
	}
	return keys
}

func checkRequired(cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	missing := make([]string, 0)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("required") != "true" {
			continue
		}
		if v.Field(i).IsZero() {
			key := field.Tag.Get("koanf")
			missing = append(missing, strings.ToUpper(key)+" ("+key+")")
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}
