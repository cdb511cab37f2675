package echomw

import (
	"fmt"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	"safe-bite/src/pkg/config"
)

type Config struct {
	Address             string `json:"address,omitempty"`
	Port                int    `json:"port,omitempty"`
	MiddlewareRateLimit int    `json:"middleware_rate_limit,omitempty"`
	MiddlewareBurst     int    `json:"middleware_burst,omitempty"`
	BodyLimit           string `json:"body_limit,omitempty"` // echo size notation, "25M"
	ShutdownTimeoutSec  int    `json:"shutdown_timeout_sec,omitempty"`
}

func DefaultValueConfig() Config {
	return Config{
		Address:             "127.0.0.1",
		Port:                8402,
		MiddlewareRateLimit: 3,
		MiddlewareBurst:     50,
		BodyLimit:           "25M",
		ShutdownTimeoutSec:  30,
	}
}

// defaults until InitializeConfig runs
var Cfg Config = DefaultValueConfig()

// FromServerConfig takes the [server] section of the main config.
func FromServerConfig(server config.ServerConfig) *Config {
	return &Config{
		Address:             server.Address,
		Port:                server.Port,
		MiddlewareRateLimit: server.MiddlewareRateLimit,
		MiddlewareBurst:     server.MiddlewareBurst,
		BodyLimit:           server.BodyLimit,
		ShutdownTimeoutSec:  server.ShutdownTimeoutSec,
	}
}

/*
InitializeConfig sets Cfg from the server section, filling zero fields from
DefaultValueConfig. A nil serverConfig keeps the defaults.
*/
func InitializeConfig(serverConfig *Config) {
	if serverConfig == nil {
		tl.Log(tl.Info, palette.Purple, "%s config is %s, keeping %s", "API server", "not provided", "defaults")
		return
	}

	Cfg = *serverConfig
	tl.ApplyDefaults(&Cfg, DefaultValueConfig(), func(field string, defVal any) {
		tl.Log(
			tl.Info, palette.Purple,
			"%s field is %s in %s server configuration. Using default value: %v",
			field, "missing", config.GetPackageName(), tl.PrettyForStderr(defVal),
		)
	})

	tl.LogJSON(tl.Verbose, palette.CyanDim, "API server configuration", Cfg)
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
