package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

type StorageConfig struct {
	DataDir      string `json:"data_dir,omitempty" toml:"data_dir"`             // sqlite db, lock file
	ImageDir     string `json:"image_dir,omitempty" toml:"image_dir"`           // managed images, defaults to <data_dir>/images
	MinFreeBytes int64  `json:"min_free_bytes,omitempty" toml:"min_free_bytes"` // refuse to copy images below this
}

type LocationConfig struct {
	DefaultCountryCode string `json:"default_country_code,omitempty" toml:"default_country_code"`
	DeviceTimeoutMs    int    `json:"device_timeout_ms,omitempty" toml:"device_timeout_ms"`
	GeocoderURL        string `json:"geocoder_url,omitempty" toml:"geocoder_url"`
	GeocoderUserAgent  string `json:"geocoder_user_agent,omitempty" toml:"geocoder_user_agent"`
	Language           string `json:"language,omitempty" toml:"language"`
}

type AnalyzerConfig struct {
	BaseURL         string `json:"base_url,omitempty" toml:"base_url"`
	Model           string `json:"model,omitempty" toml:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty" toml:"reasoning_effort"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty" toml:"max_output_tokens"`
	UploadMaxEdge   int    `json:"upload_max_edge,omitempty" toml:"upload_max_edge"` // longest side in px before upload
	OCRLanguage     string `json:"ocr_language,omitempty" toml:"ocr_language"`       // tesseract language(s) for label photos
}

type BarcodeConfig struct {
	BaseURL           string  `json:"base_url,omitempty" toml:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" toml:"requests_per_second"`
	UserAgent         string  `json:"user_agent,omitempty" toml:"user_agent"`
}

type NetworkConfig struct {
	ProbeAddress   string `json:"probe_address,omitempty" toml:"probe_address"` // host:port dialed to decide online/offline
	ProbeTimeoutMs int    `json:"probe_timeout_ms,omitempty" toml:"probe_timeout_ms"`
}

type NotifyConfig struct {
	Enabled    bool     `json:"enabled,omitempty" toml:"enabled"`
	Provider   string   `json:"provider,omitempty" toml:"provider"` // ses, sendgrid, mailgun
	Sender     string   `json:"sender,omitempty" toml:"sender"`
	Recipients []string `json:"recipients,omitempty" toml:"recipients"`
}

type ServerConfig struct {
	Address             string `json:"address,omitempty" toml:"address"`
	Port                int    `json:"port,omitempty" toml:"port"`
	MiddlewareRateLimit int    `json:"middleware_rate_limit,omitempty" toml:"middleware_rate_limit"`
	MiddlewareBurst     int    `json:"middleware_burst,omitempty" toml:"middleware_burst"`
	BodyLimit           string `json:"body_limit,omitempty" toml:"body_limit"`
	ShutdownTimeoutSec  int    `json:"shutdown_timeout_sec,omitempty" toml:"shutdown_timeout_sec"`
}

type Config struct {
	Storage  StorageConfig  `json:"storage" toml:"storage"`
	Location LocationConfig `json:"location" toml:"location"`
	Analyzer AnalyzerConfig `json:"analyzer" toml:"analyzer"`
	Barcode  BarcodeConfig  `json:"barcode" toml:"barcode"`
	Network  NetworkConfig  `json:"network" toml:"network"`
	Notify   NotifyConfig   `json:"notify" toml:"notify"`
	Server   ServerConfig   `json:"server" toml:"server"`
}

func DefaultValueConfig() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:      "./data",
			MinFreeBytes: 50 * 1024 * 1024,
		},
		Location: LocationConfig{
			DefaultCountryCode: "US",
			DeviceTimeoutMs:    3000,
			GeocoderURL:        "https://nominatim.openstreetmap.org",
			GeocoderUserAgent:  "safe-bite/1.0",
			Language:           "en",
		},
		Analyzer: AnalyzerConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-5-mini",
			ReasoningEffort: "low",
			MaxOutputTokens: 4096,
			UploadMaxEdge:   1600,
			OCRLanguage:     "eng",
		},
		Barcode: BarcodeConfig{
			BaseURL:           "https://world.openfoodfacts.org",
			RequestsPerSecond: 2,
			UserAgent:         "safe-bite/1.0",
		},
		Network: NetworkConfig{
			ProbeAddress:   "api.openai.com:443",
			ProbeTimeoutMs: 2500,
		},
		Notify: NotifyConfig{
			Provider: "ses",
		},
		Server: ServerConfig{
			Address:             "127.0.0.1",
			Port:                8402,
			MiddlewareRateLimit: 3,
			MiddlewareBurst:     50,
			BodyLimit:           "25M",
			ShutdownTimeoutSec:  30,
		},
	}
}

// create config with default values before config gets initialized
var Cfg Config = DefaultValueConfig() // this one we use to access config values from anywhere

/*
InitializeConfig reads the configuration file at configPath into Cfg.

The format is picked by extension: .toml is decoded with go-toml, anything else
as JSON. A missing file keeps the defaults. Every zero-valued field is replaced
with its default value and logged. Unreadable or malformed files are fatal.
*/
func InitializeConfig(configPath string) {
	e := LoadConfig(configPath, &Cfg)
	e.QuitIf("error")
	tl.LogJSON(tl.Verbose, palette.CyanDim, fmt.Sprintf("%s configuration", GetPackageName()), Cfg)
}

/*
LoadConfig reads configPath into target and fills missing values with defaults.

It is the non-exiting variant of InitializeConfig, used by tests and by the
server when reloading.
*/
func LoadConfig(configPath string, target *Config) (e *xerr.Error) {
	defaultConfig := DefaultValueConfig()
	loaded := Config{}

	fileBytes, readErr := os.ReadFile(configPath)
	switch {
	case errors.Is(readErr, fs.ErrNotExist):
		tl.Log(tl.Info, palette.Purple, "%s file '%s' is %s, keeping %s", "config", configPath, "not present", "default config")
		*target = defaultConfig
		return nil
	case readErr != nil:
		return xerr.NewError(readErr, "read config file", configPath)
	}

	var decodeErr error
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		decodeErr = toml.Unmarshal(fileBytes, &loaded)
	} else {
		decodeErr = json.Unmarshal(fileBytes, &loaded)
	}
	if decodeErr != nil {
		return xerr.NewError(decodeErr, "decode config file", configPath)
	}

	applyDefaults(&loaded, defaultConfig)
	*target = loaded

	tl.Log(tl.Info, palette.Green, "%s config was %s from '%s'", "safe-bite", "loaded", configPath)
	return nil
}

func applyDefaults(cfg *Config, defaults Config) {
	logMissing := func(section string) func(field string, defVal any) {
		return func(field string, defVal any) {
			tl.Log(
				tl.Info, palette.Purple,
				"%s field is %s in %s configuration. Using default value: %v",
				section+"."+field, "missing", GetPackageName(), tl.PrettyForStderr(defVal),
			)
		}
	}
	tl.ApplyDefaults(&cfg.Storage, defaults.Storage, logMissing("storage"))
	tl.ApplyDefaults(&cfg.Location, defaults.Location, logMissing("location"))
	tl.ApplyDefaults(&cfg.Analyzer, defaults.Analyzer, logMissing("analyzer"))
	tl.ApplyDefaults(&cfg.Barcode, defaults.Barcode, logMissing("barcode"))
	tl.ApplyDefaults(&cfg.Network, defaults.Network, logMissing("network"))
	tl.ApplyDefaults(&cfg.Notify, defaults.Notify, logMissing("notify"))
	tl.ApplyDefaults(&cfg.Server, defaults.Server, logMissing("server"))
}

// ImageDir returns the managed image directory, defaulting to <data_dir>/images.
func (c Config) ImageDir() string {
	if strings.TrimSpace(c.Storage.ImageDir) != "" {
		return c.Storage.ImageDir
	}
	return filepath.Join(c.Storage.DataDir, "images")
}

// DatabasePath is the sqlite file holding the key-value store and scan history.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "safe-bite.db")
}

// LockPath is the flock file that makes one process the owner of the data dir.
func (c Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "safe-bite.lock")
}

/*
CheckIfEnvVarsPresent logs every missing environment variable and exits(1)
if at least one of them is not set.
*/
func CheckIfEnvVarsPresent(names ...string) {
	missing := false
	for _, name := range names {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			tl.Log(tl.Warning, palette.YellowBold, "%s env var is %s", name, "not set")
			missing = true
		}
	}
	if missing {
		os.Exit(1)
	}
}

// GetPackageName returns the name of the package that called it, e.g. "config".
func GetPackageName() string {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return "unknown"
	}
	fullName := runtime.FuncForPC(pc).Name() // safe-bite/src/pkg/config.InitializeConfig
	lastSlash := strings.LastIndex(fullName, "/")
	if lastSlash >= 0 {
		fullName = fullName[lastSlash+1:]
	}
	if dot := strings.Index(fullName, "."); dot >= 0 {
		fullName = fullName[:dot]
	}
	return fullName
}
