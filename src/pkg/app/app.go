/*
Package app wires the pipeline's components from the configuration. Both the
scan CLI and the API server build on it.
*/
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/barcode"
	"safe-bite/src/pkg/config"
	"safe-bite/src/pkg/geo"
	"safe-bite/src/pkg/history"
	"safe-bite/src/pkg/imagestore"
	"safe-bite/src/pkg/kvstore"
	"safe-bite/src/pkg/netguard"
	"safe-bite/src/pkg/notify"
	"safe-bite/src/pkg/ocr"
	"safe-bite/src/pkg/openai"
	"safe-bite/src/pkg/resultstore"
	"safe-bite/src/pkg/submission"
)

type Options struct {
	Positioner geo.Positioner // device position, nil when the host has none
	Callbacks  submission.Callbacks
	OCRDebug   string // keep OCR intermediates here
}

// App holds every component for one process. Close releases the data dir.
type App struct {
	Config   config.Config
	KV       *kvstore.Store
	Images   *imagestore.Store
	Results  *resultstore.Store
	History  *history.Store
	Barcodes *barcode.Service
	Resolver *geo.Resolver
	Notifier *notify.Notifier
	Gateway  *submission.Gateway

	lock *flock.Flock
}

/*
Open locks the data directory and builds the components. Only one process may
hold a data directory: the result store assumes it is the single writer.
*/
func Open(cfg config.Config, options Options) (a *App, e *xerr.Error) {
	err := os.MkdirAll(cfg.Storage.DataDir, 0o755)
	if err != nil {
		return nil, xerr.NewError(err, "create data directory", cfg.Storage.DataDir)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, xerr.NewError(err, "lock data directory", cfg.LockPath())
	}
	if !locked {
		return nil, xerr.NewError(fmt.Errorf("data directory is in use by another process"), "lock data directory", cfg.LockPath())
	}
	defer func() {
		if e != nil {
			_ = lock.Unlock()
		}
	}()

	kv, e := kvstore.Open(cfg.DatabasePath())
	if e != nil {
		return nil, e
	}

	a = &App{Config: cfg, KV: kv, lock: lock}
	a.Images = imagestore.New(cfg.ImageDir(), cfg.Storage.MinFreeBytes)
	e = a.Images.EnsureDir()
	if e != nil {
		_ = kv.Close()
		return nil, e
	}
	a.Results = resultstore.New(kv)
	a.History = history.New(kv, a.Images)
	a.Barcodes = barcode.NewService(
		barcode.NewCache(kv),
		barcode.NewClient(cfg.Barcode.BaseURL, cfg.Barcode.UserAgent, cfg.Barcode.RequestsPerSecond),
	)
	a.Resolver = geo.NewResolver(
		geo.NewNominatimGeocoder(cfg.Location.GeocoderURL, cfg.Location.GeocoderUserAgent, cfg.Location.Language),
		options.Positioner,
		time.Duration(cfg.Location.DeviceTimeoutMs)*time.Millisecond,
	)
	a.Notifier = notify.New(cfg.Notify)

	analyzer := analysis.NewAnalyzer(
		openai.NewClient(cfg.Analyzer.BaseURL, os.Getenv("OPENAI_API_KEY")),
		cfg.Analyzer.Model,
		openai.ParseEffort(cfg.Analyzer.ReasoningEffort),
		cfg.Analyzer.MaxOutputTokens,
	)
	deps := submission.Deps{
		Analyzer:           analyzer,
		Labels:             ocr.NewReader(cfg.Analyzer.OCRLanguage, options.OCRDebug),
		Locator:            a.Resolver,
		Guard:              netguard.NewDialer(cfg.Network.ProbeAddress, time.Duration(cfg.Network.ProbeTimeoutMs)*time.Millisecond),
		Images:             a.Images,
		Results:            a.Results,
		History:            a.History,
		Barcodes:           a.Barcodes,
		DefaultCountryCode: cfg.Location.DefaultCountryCode,
		DefaultLanguage:    cfg.Location.Language,
		UploadMaxEdge:      cfg.Analyzer.UploadMaxEdge,
		Callbacks:          options.Callbacks,
	}
	if cfg.Notify.Enabled {
		deps.Notifier = a.Notifier
	}
	a.Gateway = submission.New(deps)

	tl.Log(tl.Info, palette.Green, "%s data directory '%s'", "Opened", cfg.Storage.DataDir)
	return a, nil
}

// Close waits for background writes, then closes the database and unlocks.
func (a *App) Close() {
	a.Gateway.Wait()
	a.Results.Wait()
	if e := a.KV.Close(); e != nil {
		tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Closing database failed", e)
	}
	if err := a.lock.Unlock(); err != nil {
		tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Unlocking data directory failed", err)
	}
}

// ReferenceListers are the sources of image references the orphan sweep must keep.
func (a *App) ReferenceListers() []imagestore.ReferenceLister {
	return []imagestore.ReferenceLister{a.History, a.Results}
}
