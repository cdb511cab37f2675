/*
Package submission runs a capture from raw image or barcode to a persisted
result: location, network check, validation, upload with progress, analysis,
and the write that the result view reads back.
*/
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/barcode"
	"safe-bite/src/pkg/failure"
	"safe-bite/src/pkg/geo"
	"safe-bite/src/pkg/history"
	"safe-bite/src/pkg/imagestore"
	"safe-bite/src/pkg/netguard"
	"safe-bite/src/pkg/resultstore"
)

type Analyzer interface {
	Analyze(ctx context.Context, request analysis.Request, progress analysis.ProgressFunc) (*analysis.Result, error)
}

type LabelReader interface {
	LabelText(ctx context.Context, imagePath string) (text string, e *xerr.Error)
}

// Locator is satisfied by *geo.Resolver.
type Locator interface {
	FromCoordinates(ctx context.Context, latitude any, longitude any) *geo.LocationContext
	FromEXIF(ctx context.Context, latitude float64, latitudeRef string, longitude float64, longitudeRef string) *geo.LocationContext
	FromDevice(ctx context.Context) *geo.LocationContext
}

type ImageStore interface {
	Save(ctx context.Context, source string) (filename string, e *xerr.Error)
}

type ResultStore interface {
	SetData(result *analysis.Result, location *geo.LocationContext, imageRef *string, timestamp *string)
	GetData() resultstore.Snapshot
}

type HistoryWriter interface {
	Add(ctx context.Context, record history.Record) (saved history.Record, e *xerr.Error)
}

type BarcodeLookup interface {
	Lookup(ctx context.Context, raw string) (result barcode.LookupResult, fromCache bool, e *xerr.Error)
}

// Notifier is told about results that hit the user's allergies.
type Notifier interface {
	AllergenAlert(ctx context.Context, result *analysis.Result, location *geo.LocationContext) (e *xerr.Error)
}

/*
Deps are the Gateway's collaborators. Labels, Locator, History, Notifier and
Barcodes are optional.
*/
type Deps struct {
	Analyzer Analyzer
	Labels   LabelReader
	Locator  Locator
	Guard    netguard.Guard
	Images   ImageStore
	Results  ResultStore
	History  HistoryWriter
	Notifier Notifier
	Barcodes BarcodeLookup

	DefaultCountryCode string
	DefaultLanguage    string // failure messages when the profile has none
	UploadMaxEdge      int
	Callbacks          Callbacks
}

// ImageRequest is one photo submission.
type ImageRequest struct {
	ImageURI  string           `json:"image_uri"` // plain path or file:// URI
	Source    analysis.Source  `json:"source"`
	Profile   analysis.Profile `json:"profile"`
	Timestamp string           `json:"timestamp,omitempty"` // RFC 3339 capture time, defaults to EXIF time or now

	// device fix sent along by the host, used instead of asking the Locator
	DeviceLatitude  *float64 `json:"device_latitude,omitempty"`
	DeviceLongitude *float64 `json:"device_longitude,omitempty"`
}

// Outcome is how a submission ended.
type Outcome struct {
	Status             Status               `json:"status"`
	Failure            *failure.Error       `json:"-"`
	Kind               failure.Kind         `json:"kind,omitempty"`
	Message            string               `json:"message,omitempty"` // user-facing, in the profile language
	Result             *analysis.Result     `json:"result,omitempty"`
	Location           *geo.LocationContext `json:"location,omitempty"`
	ImageRef           string               `json:"image_ref,omitempty"`
	OfferRetry         bool                 `json:"offer_retry,omitempty"`
	OfferLabelFallback bool                 `json:"offer_label_fallback,omitempty"`
}

type analyzed struct {
	result *analysis.Result
	err    error
}

// what Retry replays
type attempt struct {
	request  ImageRequest
	location *geo.LocationContext
}

/*
Gateway admits one submission at a time. Image and barcode submissions share
the same guard, a second call while one is running returns Busy.
*/
type Gateway struct {
	deps    Deps
	tracker *tracker
	busy    atomic.Bool

	// allergen alerts and analyzer calls left behind by a cancel
	background sync.WaitGroup

	mu        sync.Mutex
	last      *attempt
	retryable bool
}

func New(deps Deps) *Gateway {
	if deps.Guard == nil {
		deps.Guard = netguard.Static(true)
	}
	if deps.DefaultLanguage == "" {
		deps.DefaultLanguage = "en"
	}
	return &Gateway{deps: deps, tracker: &tracker{callbacks: deps.Callbacks}}
}

// Progress returns the current stage and upload fraction.
func (g *Gateway) Progress() Progress {
	return g.tracker.get()
}

// CanRetry reports whether the last image submission failed in a way worth replaying.
func (g *Gateway) CanRetry() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last != nil && g.retryable
}

// Wait blocks until allergen alerts are sent and abandoned analyzer calls have returned.
func (g *Gateway) Wait() {
	g.background.Wait()
}

// RetryImage is the image Retry would replay, empty when Retry is not offered.
func (g *Gateway) RetryImage() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil || !g.retryable {
		return ""
	}
	return g.last.request.ImageURI
}

/*
SubmitImage resolves the photo's location and runs the pipeline.

Cancelling ctx stops the pipeline at the next checkpoint: after location
resolution, after the network check, or while waiting on the remote call. The
remote call itself is not interrupted; it completes in the background and its
answer is discarded.
*/
func (g *Gateway) SubmitImage(ctx context.Context, request ImageRequest) Outcome {
	if !g.busy.CompareAndSwap(false, true) {
		tl.Log(tl.Warning, palette.YellowBold, "%s: another submission is in flight", "Dropped image submission")
		return Outcome{Status: Busy}
	}
	defer g.busy.Store(false)

	g.tracker.start()
	if request.Source == "" {
		request.Source = analysis.SourceCamera
	}
	tl.Log(tl.Notice, palette.BlueBold, "%s '%s' from %s", "Submitting image", request.ImageURI, request.Source)

	location := g.resolveLocation(ctx, &request)
	if ctx.Err() != nil {
		return g.cancelled("resolve location")
	}

	g.mu.Lock()
	g.last = &attempt{request: request, location: location}
	g.retryable = false
	g.mu.Unlock()

	return g.run(ctx, request, location)
}

/*
Retry replays the last image submission with the location resolved the first
time. It only runs when the last failure was a retryable server error.
*/
func (g *Gateway) Retry(ctx context.Context) Outcome {
	g.mu.Lock()
	last := g.last
	retryable := g.retryable
	g.mu.Unlock()

	if last == nil || !retryable {
		err := failure.New(failure.Generic, "retry", errors.New("nothing to retry"))
		return Outcome{Status: Failed, Failure: err, Kind: err.Kind, Message: failure.Message(err.Kind, g.deps.DefaultLanguage)}
	}
	if !g.busy.CompareAndSwap(false, true) {
		return Outcome{Status: Busy}
	}
	defer g.busy.Store(false)

	g.tracker.start()
	tl.Log(tl.Notice, palette.BlueBold, "%s '%s' with cached location", "Retrying image", last.request.ImageURI)
	return g.run(ctx, last.request, last.location)
}

func (g *Gateway) run(ctx context.Context, request ImageRequest, location *geo.LocationContext) Outcome {
	language := g.language(request.Profile)

	if !g.deps.Guard.Online(ctx) {
		if ctx.Err() != nil {
			return g.cancelled("network check")
		}
		return g.fail(request.Profile, failure.New(failure.Offline, "network check", errors.New("no network connection")), false)
	}
	if ctx.Err() != nil {
		return g.cancelled("network check")
	}

	g.tracker.setStage(Uploading)

	info, e := imagestore.Validate(request.ImageURI)
	if e != nil {
		return g.fail(request.Profile, failure.New(failure.FileInvalid, "validate image", asError(e)), false)
	}
	uploadPath, cleanup, e := imagestore.PrepareUpload(ctx, info, g.deps.UploadMaxEdge)
	uploadInUse := false
	defer func() {
		if !uploadInUse {
			cleanup()
		}
	}()
	if e != nil {
		if ctx.Err() != nil {
			return g.cancelled("prepare upload")
		}
		return g.fail(request.Profile, failure.New(failure.FileInvalid, "prepare upload", asError(e)), false)
	}

	analysisRequest := analysis.Request{
		ImagePath:   uploadPath,
		Source:      request.Source,
		CountryCode: g.countryCode(location),
		Profile:     request.Profile,
	}
	if location != nil {
		analysisRequest.Place = location.FormattedAddress
	}
	if request.Source == analysis.SourceLabel && g.deps.Labels != nil {
		text, e := g.deps.Labels.LabelText(ctx, info.Path)
		if e != nil {
			tl.Log(tl.Warning, palette.YellowBold, "%s, analyzing without label text: '%s'", "Label OCR failed", e)
		} else {
			analysisRequest.LabelText = text
		}
	}

	// once dropped, a late progress report must not touch the reset tracker
	var progressMu sync.Mutex
	dropped := false
	progress := func(fraction float64) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if dropped || ctx.Err() != nil {
			return
		}
		g.tracker.setFraction(fraction)
	}
	answer := make(chan analyzed, 1)
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		result, err := g.deps.Analyzer.Analyze(context.WithoutCancel(ctx), analysisRequest, progress)
		answer <- analyzed{result: result, err: err}
	}()

	var result *analysis.Result
	var err error
	select {
	case reply := <-answer:
		result, err = reply.result, reply.err
	case <-ctx.Done():
		// the remote call finishes on its own, its answer is dropped
		progressMu.Lock()
		dropped = true
		progressMu.Unlock()
		uploadInUse = true
		g.background.Add(1)
		go func() {
			defer g.background.Done()
			reply := <-answer
			cleanup()
			tl.Log(tl.Debug, palette.CyanDim, "%s (error: '%v')", "Discarded analyzer answer of a cancelled submission", reply.err)
		}()
		return g.cancelled("analyze image")
	}
	if ctx.Err() != nil {
		return g.cancelled("analyze image")
	}
	if err != nil {
		return g.fail(request.Profile, failure.Wrap("analyze image", err), true)
	}
	if result == nil {
		return g.fail(request.Profile, failure.New(failure.Generic, "analyze image", errors.New("analyzer returned no result")), true)
	}

	g.tracker.setStage(Analyzing)
	g.tracker.setStage(Syncing)

	// past this point the capture is committed, cancellation no longer applies
	syncCtx := context.WithoutCancel(ctx)
	imageRef, e := g.deps.Images.Save(syncCtx, info.Path)
	if e != nil {
		return g.fail(request.Profile, failure.New(failure.StorageFailure, "save image", asError(e)), false)
	}

	var timestamp *string
	if request.Timestamp != "" {
		timestamp = &request.Timestamp
	}
	g.deps.Results.SetData(result, location, &imageRef, timestamp)
	g.record(syncCtx, history.Record{ImageRef: imageRef, Result: result, Location: location})
	g.alert(syncCtx, result, location)

	g.mu.Lock()
	g.retryable = false
	g.mu.Unlock()

	g.tracker.finish(Succeeded)
	tl.Log(tl.Notice1, palette.GreenBold, "%s, verdict '%s', image '%s' (%s)", "Submission succeeded", result.Verdict, imageRef, language)
	if g.deps.Callbacks.OnSuccess != nil {
		g.deps.Callbacks.OnSuccess()
	}
	return Outcome{Status: Succeeded, Result: result, Location: location, ImageRef: imageRef}
}

/*
SubmitBarcode looks a scanned code up. Found products are matched against the
profile locally and stored like an image result. A miss offers the label photo
fallback: the caller re-enters with SubmitImage and SourceLabel.
*/
func (g *Gateway) SubmitBarcode(ctx context.Context, code string, profile analysis.Profile) Outcome {
	if !g.busy.CompareAndSwap(false, true) {
		tl.Log(tl.Debug, palette.CyanDim, "%s '%s': a scan is already being processed", "Dropped barcode", code)
		return Outcome{Status: Busy}
	}
	defer g.busy.Store(false)

	g.tracker.start()
	if g.deps.Barcodes == nil {
		return g.fail(profile, failure.New(failure.Generic, "look up barcode", errors.New("barcode lookup is not configured")), false)
	}
	tl.Log(tl.Notice, palette.BlueBold, "%s '%s'", "Submitting barcode", code)

	g.tracker.setStage(Analyzing)
	lookup, fromCache, e := g.deps.Barcodes.Lookup(ctx, code)
	if ctx.Err() != nil {
		return g.cancelled("look up barcode")
	}
	if e != nil {
		cause := asError(e)
		kind := failure.Classify(cause)
		if !g.deps.Guard.Online(ctx) {
			kind = failure.Offline
		}
		return g.fail(profile, failure.New(kind, "look up barcode", cause), false)
	}
	if !lookup.Found || lookup.Product == nil {
		tl.Log(tl.Info, palette.Purple, "%s '%s', offering label photo", "Barcode not found", code)
		missing := failure.New(failure.LookupMiss, "look up barcode", fmt.Errorf("no product for barcode %s", code))
		g.tracker.finish(LookupMiss)
		return Outcome{
			Status:             LookupMiss,
			Failure:            missing,
			Kind:               missing.Kind,
			Message:            failure.Message(missing.Kind, g.language(profile)),
			OfferLabelFallback: true,
		}
	}

	g.tracker.setStage(Syncing)
	result := analysis.FromProduct(*lookup.Product, profile)
	if result.CountryCode == "" {
		result.CountryCode = g.deps.DefaultCountryCode
	}

	syncCtx := context.WithoutCancel(ctx)
	g.deps.Results.SetData(&result, nil, nil, nil)
	g.record(syncCtx, history.Record{Barcode: lookup.Code, Result: &result})
	g.alert(syncCtx, &result, nil)

	g.tracker.finish(Succeeded)
	tl.Log(tl.Notice1, palette.GreenBold, "%s '%s' (cached: %v), verdict '%s'", "Barcode resolved", result.DishName, fromCache, result.Verdict)
	if g.deps.Callbacks.OnSuccess != nil {
		g.deps.Callbacks.OnSuccess()
	}
	return Outcome{Status: Succeeded, Result: &result}
}

// record appends to history. A failure here never fails the submission.
func (g *Gateway) record(ctx context.Context, record history.Record) {
	if g.deps.History == nil {
		return
	}
	if timestamp := g.deps.Results.GetData().Timestamp; timestamp != nil {
		record.Timestamp = *timestamp
	}
	_, e := g.deps.History.Add(ctx, record)
	if e != nil {
		tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Could not append history record", e)
	}
}

func (g *Gateway) alert(ctx context.Context, result *analysis.Result, location *geo.LocationContext) {
	if g.deps.Notifier == nil || !result.Unsafe() {
		return
	}
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		e := g.deps.Notifier.AllergenAlert(ctx, result, location)
		if e != nil {
			tl.Log(tl.Warning, palette.YellowBold, "%s: '%s'", "Allergen alert was not sent", e)
		}
	}()
}

func (g *Gateway) fail(profile analysis.Profile, err *failure.Error, fromAnalyzer bool) Outcome {
	retry := fromAnalyzer && failure.Retryable(err.Kind)

	g.mu.Lock()
	g.retryable = retry
	g.mu.Unlock()

	g.tracker.finish(Failed)
	tl.Log(tl.Warning, palette.YellowBold, "Submission failed at '%s' (%s): '%s'", err.Op, err.Kind, err.Err)

	outcome := Outcome{
		Status:     Failed,
		Failure:    err,
		Kind:       err.Kind,
		Message:    failure.Message(err.Kind, g.language(profile)),
		OfferRetry: retry,
	}
	if g.deps.Callbacks.OnFailure != nil {
		g.deps.Callbacks.OnFailure(outcome)
	}
	return outcome
}

func (g *Gateway) cancelled(step string) Outcome {
	tl.Log(tl.Debug, palette.CyanDim, "%s after '%s'", "Submission cancelled", step)
	g.tracker.finish(Cancelled)
	return Outcome{Status: Cancelled}
}

func (g *Gateway) countryCode(location *geo.LocationContext) string {
	if code := location.CountryCode(); code != "" {
		return code
	}
	return g.deps.DefaultCountryCode
}

func (g *Gateway) language(profile analysis.Profile) string {
	if profile.Language != "" {
		return profile.Language
	}
	return g.deps.DefaultLanguage
}

// asError flattens a component error into a plain error for classification.
func asError(e *xerr.Error) error {
	if e == nil {
		return nil
	}
	return errors.New(fmt.Sprint(e))
}
