package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"

	"safe-bite/src/pkg/api"
	"safe-bite/src/pkg/app"
	"safe-bite/src/pkg/config"
	echomw "safe-bite/src/pkg/echo-middleware"
)

/*
main serves the local API a mobile shell drives: submit, poll progress, cancel,
retry, read the stored result, browse history.

On start the result backup is restored, so a result produced before a crash is
still there for the result view, and orphaned images are swept.
*/
func main() {
	config.CheckIfEnvVarsPresent("OPENAI_API_KEY", echomw.EnvAPIBearerToken)

	configPath := flag.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	skipCleanup := flag.Bool("skip-cleanup", false, "Do not sweep orphaned images on start")
	flag.Parse()
	config.InitializeConfig(*configPath)
	echomw.InitializeConfig(echomw.FromServerConfig(config.Cfg.Server))

	tl.Log(tl.Notice, palette.BlueBold, "%s entrypoint. Config path: '%s'", "Running API server", *configPath)

	a, e := app.Open(config.Cfg, app.Options{})
	e.QuitIf("error")
	defer a.Close()

	ctx := context.Background()
	if _, restored := a.Results.Load(ctx, true); restored {
		tl.Log(tl.Info, palette.Green, "%s", "Previous result restored from backup")
	}
	if !*skipCleanup {
		removed, e := a.Images.CleanupOrphans(ctx, a.ReferenceListers()...)
		if e != nil {
			tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Orphan sweep failed", e)
		} else if removed > 0 {
			tl.Log(tl.Info, palette.Green, "Swept %v orphaned images", removed)
		}
	}

	server := api.New(api.Deps{
		Gateway:   a.Gateway,
		Results:   a.Results,
		History:   a.History,
		Images:    a.Images,
		Notifier:  a.Notifier,
		Token:     echomw.TokenFromEnv(),
		Limiter:   echomw.NewRateLimiter(echomw.Cfg.MiddlewareRateLimit, echomw.Cfg.MiddlewareBurst),
		UploadDir: filepath.Join(config.Cfg.Storage.DataDir, "uploads"),
		BodyLimit: echomw.Cfg.BodyLimit,
	})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		signals, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-signals.Done()

		tl.Log(tl.Notice, palette.Purple, "%s", "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), echomw.Cfg.ShutdownTimeout())
		defer cancel()
		if e := server.Shutdown(shutdownCtx); e != nil {
			tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Shutdown", e)
		}
	}()

	e = server.Start(echomw.Cfg.ListenAddress())
	e.QuitIf("error")
	<-stopped
}
