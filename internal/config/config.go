package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/fetch/client/download"
)

// File is the location of the configuration file relative to the XDG
// configuration directories.
var File = filepath.Join("fetch", "config.yaml")

// Config defines the download-independent settings of the fetch command.
type Config struct {
	UserAgent         string        `yaml:"user_agent" validate:"required"`
	ReadBufferSize    int           `yaml:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize   int           `yaml:"write_buffer_size" validate:"gt=0"`
	RateLimit         int64         `yaml:"rate_limit" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	ReportInterval    time.Duration `yaml:"report_interval" validate:"gt=0"`
	Window            int           `yaml:"window" validate:"gte=1"`
	ChecksumAlgorithm string        `yaml:"checksum_algorithm" validate:"omitempty,checksum_algorithm"`
	MetricsAddr       string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Verbose           bool          `yaml:"verbose"`
}

// Default returns a Config with the library defaults.
func Default() Config {
	return Config{
		UserAgent:       download.DefaultUserAgent,
		ReadBufferSize:  download.DefaultReadBufferSize,
		WriteBufferSize: download.DefaultWriteBufferSize,
		ReportInterval:  time.Second,
		Window:          download.DefaultWindow,
	}
}

// yamlConfig is used for YAML decoding with human-readable sizes and
// durations.
type yamlConfig struct {
	UserAgent         string `yaml:"user_agent"`
	ReadBufferSize    int    `yaml:"read_buffer_size"`
	WriteBufferSize   int    `yaml:"write_buffer_size"`
	RateLimit         string `yaml:"rate_limit"`
	Timeout           string `yaml:"timeout"`
	ReportInterval    string `yaml:"report_interval"`
	Window            int    `yaml:"window"`
	ChecksumAlgorithm string `yaml:"checksum_algorithm"`
	MetricsAddr       string `yaml:"metrics_addr"`
	Verbose           bool   `yaml:"verbose"`
}

// Load reads the configuration file at path over the defaults. An
// empty path searches the XDG configuration directories for [File]
// and falls back to the defaults when none exists.
func Load(path string) (Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(File)
		if err != nil {
			return Default(), nil
		}
		path = found
	}

	return LoadFromFile(path)
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Decode parses YAML from r over the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	var yc yamlConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&yc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.ReadBufferSize != 0 {
		cfg.ReadBufferSize = yc.ReadBufferSize
	}
	if yc.WriteBufferSize != 0 {
		cfg.WriteBufferSize = yc.WriteBufferSize
	}
	if yc.RateLimit != "" {
		n, err := ParseRate(yc.RateLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse rate_limit: %w", err)
		}
		cfg.RateLimit = n
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.ReportInterval != "" {
		d, err := time.ParseDuration(yc.ReportInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse report_interval: %w", err)
		}
		cfg.ReportInterval = d
	}
	if yc.Window != 0 {
		cfg.Window = yc.Window
	}
	cfg.ChecksumAlgorithm = yc.ChecksumAlgorithm
	cfg.MetricsAddr = yc.MetricsAddr
	cfg.Verbose = yc.Verbose

	return cfg, nil
}

// LoadFromEnv overrides c with environment variables.
// Environment variables use the FETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("FETCH_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("FETCH_RATE_LIMIT"); v != "" {
		n, err := ParseRate(v)
		if err != nil {
			return fmt.Errorf("parse FETCH_RATE_LIMIT: %w", err)
		}
		c.RateLimit = n
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FETCH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("FETCH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("FETCH_VERBOSE"); v != "" {
		c.Verbose = v == "true" || v == "1"
	}

	return nil
}

// ParseRate parses a byte rate. It accepts plain byte counts and humanized sizes ("512 KiB").
func ParseRate(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("rate %q out of range", s)
	}

	return int64(n), nil
}

// /////////////////////////////////////////////////////////////////

var validate *validator.Validate
var translator ut.Translator

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("config: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	if err := validate.RegisterValidation("checksum_algorithm", func(fl validator.FieldLevel) bool {
		return download.SupportedAlgorithm(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrors validator.ValidationErrors
	if !errors.As(err, &verrors) {
		return err
	}

	msgs := make([]string, len(verrors))
	for i, verror := range verrors {
		switch verror.Tag() {
		case "checksum_algorithm":
			msgs[i] = fmt.Sprintf("%s: unsupported algorithm %q", verror.Field(), verror.Value())
		default:
			msgs[i] = verror.Translate(translator)
		}
	}

	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}
