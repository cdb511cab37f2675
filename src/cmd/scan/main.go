// scan drives the submission pipeline from the command line, one subprogram per screen action
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/app"
	"safe-bite/src/pkg/config"
	"safe-bite/src/pkg/geo"
	"safe-bite/src/pkg/history"
	"safe-bite/src/pkg/notify"
	"safe-bite/src/pkg/ocr"
	"safe-bite/src/pkg/submission"
	"safe-bite/src/pkg/util"
)

type commonFlags struct {
	configPath *string
	allergens  *string
	diet       *string
	language   *string
}

func addCommonFlags(subprogramCmd *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml)."),
		allergens:  subprogramCmd.String("allergens", "", "Comma separated allergens, e.g. peanuts,milk,shellfish"),
		diet:       subprogramCmd.String("diet", "", "Diet, e.g. vegetarian, vegan, halal"),
		language:   subprogramCmd.String("language", "", "Language of messages and translations, e.g. es"),
	}
}

func (f commonFlags) profile() analysis.Profile {
	profile := analysis.Profile{Diet: strings.TrimSpace(*f.diet), Language: strings.TrimSpace(*f.language)}
	for _, allergen := range strings.Split(*f.allergens, ",") {
		if allergen = strings.TrimSpace(allergen); allergen != "" {
			profile.Allergens = append(profile.Allergens, allergen)
		}
	}
	return profile
}

// interruptContext is cancelled by Ctrl+C, which cancels the running submission
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func progressCallbacks() submission.Callbacks {
	return submission.Callbacks{
		OnStage: func(stage submission.Stage) {
			tl.Log(tl.Info, palette.Blue, "%s '%s'", "Stage", stage)
		},
		OnProgress: func(fraction float64) {
			tl.Log(tl.Info1, palette.Cyan, "Upload %s", fmt.Sprintf("%3.0f%%", fraction*100))
		},
	}
}

func openApp(configPath string, options app.Options) *app.App {
	config.InitializeConfig(configPath)
	a, e := app.Open(config.Cfg, options)
	e.QuitIf("error")
	return a
}

// reportOutcome logs the outcome and reports whether the command succeeded
func reportOutcome(outcome submission.Outcome) bool {
	switch outcome.Status {
	case submission.Succeeded:
		tl.LogJSON(tl.Notice, palette.GreenBold, "Result", outcome.Result)
	case submission.Cancelled:
		tl.Log(tl.Notice, palette.Purple, "%s", "Submission cancelled")
	case submission.LookupMiss:
		tl.Log(tl.Notice, palette.PurpleBold, "%s. Take a photo of the ingredient label and run: scan image -source label -image <photo>", outcome.Message)
	default:
		tl.Log(tl.Error, palette.RedBold, "Submission %s (%s): '%s'", outcome.Status, outcome.Kind, outcome.Message)
		if outcome.OfferRetry {
			tl.Log(tl.Notice, palette.Purple, "%s", "The server had a problem, running the same command again may work")
		}
		return false
	}
	return true
}

// exitWith closes the app first so background writes land before exit
func exitWith(a *app.App, ok bool) {
	a.Close()
	if !ok {
		os.Exit(1)
	}
}

// submit one photo; a -retry count replays retryable server failures with the same location
func scanImage(subprogram string, flags []string) {
	config.CheckIfEnvVarsPresent("OPENAI_API_KEY")

	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	common := addCommonFlags(subprogramCmd)
	imagePath := subprogramCmd.String("image", "", "Photo of the dish or label (.jpg/.jpeg/.png).")
	source := subprogramCmd.String("source", "camera", "camera, gallery or label")
	latitude := subprogramCmd.String("lat", "", "Device latitude, used for camera photos without GPS EXIF")
	longitude := subprogramCmd.String("lng", "", "Device longitude")
	retries := subprogramCmd.Int("retry", 1, "How many times to retry after a server error")
	ocrDebug := subprogramCmd.String("ocr-debug", "", "Keep OCR intermediate files in this directory")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	util.RequiredFlag(imagePath, "image")
	util.EnsureFlags()

	options := app.Options{Callbacks: progressCallbacks(), OCRDebug: *ocrDebug}
	if lat, errLat := strconv.ParseFloat(*latitude, 64); errLat == nil {
		if lng, errLng := strconv.ParseFloat(*longitude, 64); errLng == nil {
			options.Positioner = geo.StaticPositioner{Latitude: lat, Longitude: lng, Available: true}
		}
	}
	a := openApp(*common.configPath, options)

	ctx, stop := interruptContext()
	defer stop()

	outcome := a.Gateway.SubmitImage(ctx, submission.ImageRequest{
		ImageURI: *imagePath,
		Source:   analysis.Source(*source),
		Profile:  common.profile(),
	})
	for attempt := 1; attempt <= *retries && outcome.OfferRetry && ctx.Err() == nil; attempt++ {
		tl.Log(tl.Notice, palette.Purple, "%s %v of %v", "Retrying", attempt, *retries)
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
		outcome = a.Gateway.Retry(ctx)
	}
	exitWith(a, reportOutcome(outcome))
}

func scanBarcode(subprogram string, flags []string) {
	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	common := addCommonFlags(subprogramCmd)
	code := subprogramCmd.String("code", "", "EAN/UPC barcode digits")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	util.RequiredFlag(code, "code")
	util.EnsureFlags()

	a := openApp(*common.configPath, app.Options{})

	ctx, stop := interruptContext()
	defer stop()
	exitWith(a, reportOutcome(a.Gateway.SubmitBarcode(ctx, *code, common.profile())))
}

// show the stored result, restoring the backup after a crash; -clear drops it
func restoreResult(subprogram string, flags []string) {
	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	configPath := subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	clearStored := subprogramCmd.Bool("clear", false, "Delete the stored result and its backup")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	a := openApp(*configPath, app.Options{})
	defer a.Close()
	ctx := context.Background()

	if *clearStored {
		e := a.Results.Clear(ctx)
		e.QuitIf("error")
		return
	}

	snapshot, ok := a.Results.Load(ctx, true)
	if !ok {
		tl.Log(tl.Notice, palette.Purple, "%s", "No stored result")
		return
	}
	tl.LogJSON(tl.Notice, palette.GreenBold, "Stored result", snapshot)
	if snapshot.ImageRef != nil {
		tl.Log(tl.Info, palette.Cyan, "%s '%s'", "Image", a.Images.Resolve(*snapshot.ImageRef))
	}
}

func cleanupImages(subprogram string, flags []string) {
	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	configPath := subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	purgeCache := subprogramCmd.Bool("purge-barcodes", false, "Also drop expired barcode cache entries")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	a := openApp(*configPath, app.Options{})
	defer a.Close()
	ctx := context.Background()

	removed, e := a.Images.CleanupOrphans(ctx, a.ReferenceListers()...)
	e.QuitIf("error")
	tl.Log(tl.Notice1, palette.GreenBold, "Removed %s orphaned images", humanize.Comma(int64(removed)))

	if *purgeCache {
		purged, e := a.Barcodes.Cache().Purge(ctx)
		e.QuitIf("error")
		tl.Log(tl.Notice1, palette.GreenBold, "Purged %s expired barcode entries", humanize.Comma(int64(purged)))
	}
}

func listHistory(subprogram string, flags []string) {
	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	configPath := subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	limit := subprogramCmd.Int("limit", 20, "How many records to show")
	offset := subprogramCmd.Int("offset", 0, "How many of the newest records to skip")
	deleteID := subprogramCmd.String("delete", "", "Delete the record with this id and its image")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	a := openApp(*configPath, app.Options{})
	defer a.Close()
	ctx := context.Background()

	if *deleteID != "" {
		deleted, e := a.History.Delete(ctx, *deleteID)
		e.QuitIf("error")
		tl.Log(tl.Notice, palette.Green, "Record '%s' deleted: %v", *deleteID, deleted)
		return
	}

	records, e := a.History.List(ctx, *limit, *offset)
	e.QuitIf("error")
	for _, record := range records {
		name := record.Result.DishNameEnglish
		if name == "" {
			name = record.Result.DishName
		}
		tl.Log(
			tl.Info, verdictColor(record.Result.Verdict), "%s  %-8s %-30s %s",
			record.ID[:8], record.Result.Verdict, name, humanize.Time(record.CapturedAt()),
		)
	}
	tl.Log(tl.Notice, palette.Blue, "%v records", len(records))
}

func verdictColor(verdict analysis.Verdict) palette.Colorizer {
	switch verdict {
	case analysis.VerdictUnsafe:
		return palette.RedBold
	case analysis.VerdictCaution:
		return palette.YellowBold
	case analysis.VerdictSafe:
		return palette.Green
	}
	return palette.Cyan
}

/*
write the monthly HTML report; -email sends it to the notification recipients

	scan report -year 2026 -month 9 -o ./report-2026-09.html
*/
func monthlyReport(subprogram string, flags []string) {
	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	configPath := subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	now := time.Now()
	year := subprogramCmd.Int("year", now.Year(), "Report year")
	month := subprogramCmd.Int("month", int(now.Month()), "Report month, 1-12")
	timezone := subprogramCmd.String("tz", "UTC", "IANA timezone used for month boundaries")
	outputPath := subprogramCmd.String("o", "", "Where to write the HTML (default ./report-YYYY-MM.html)")
	email := subprogramCmd.Bool("email", false, "Also email the report")
	dryRun := subprogramCmd.Bool("dry-run", false, "With -email, only log the email")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	if *month < 1 || *month > 12 {
		tl.Log(tl.Error, palette.Red, "Invalid month: %v", *month)
		os.Exit(1)
	}
	location, err := time.LoadLocation(*timezone)
	xerr.QuitIfError(err, fmt.Sprintf("Unknown timezone '%s'", *timezone))

	a := openApp(*configPath, app.Options{})
	defer a.Close()
	ctx := context.Background()

	options := history.ReportOptions{
		Year: *year, Month: time.Month(*month), Location: location, Timezone: *timezone,
		MaxRows: 8, Title: "Safe-bite monthly report",
	}
	start, end := options.Period()
	records, e := a.History.Between(ctx, start, end)
	e.QuitIf("error")
	html := history.RenderHTML(history.BuildMonthlyReport(records, options, time.Now().In(location)))

	if *outputPath == "" {
		*outputPath = fmt.Sprintf("./report-%04d-%02d.html", *year, *month)
	}
	xerr.QuitIfError(os.WriteFile(*outputPath, []byte(html), 0o644), fmt.Sprintf("Unable to write '%s'", *outputPath))
	tl.Log(tl.Notice1, palette.GreenBold, "%s to '%s' (%s)", "Report written", *outputPath, humanize.Bytes(uint64(len(html))))

	if *email {
		subject := fmt.Sprintf("%s: %s %d", options.Title, options.Month, options.Year)
		e = a.Notifier.SendReport(ctx, subject, html, !*dryRun)
		e.QuitIf("error")
	}
}

// run only the label OCR step, to check what the analyzer would get as hints
func readLabel(subprogram string, flags []string) {
	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	configPath := subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	imagePath := subprogramCmd.String("image", "", "Photo of the ingredient label.")
	language := subprogramCmd.String("language", "", "Tesseract languages, e.g. eng+spa. \"tesseract --list-langs\", \"apt install tesseract-ocr-fra\"")
	debugDir := subprogramCmd.String("out", "", "Keep the processed image and raw OCR text in this directory")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	util.RequiredFlag(imagePath, "image")
	util.EnsureFlags()
	config.InitializeConfig(*configPath)
	if *language == "" {
		*language = config.Cfg.Analyzer.OCRLanguage
	}

	text, e := ocr.NewReader(*language, *debugDir).LabelText(context.Background(), *imagePath)
	e.QuitIf("error")
	tl.Log(tl.Notice1, palette.GreenBold, "Label text:\n```\n%s\n```", text)
}

/*
Pick provider and use it to send a test email to the specified address, the
same way allergen alerts and reports are sent.
*/
func testEmail(subprogram string, flags []string) {
	config.CheckIfEnvVarsPresent(
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION", // amazon ses
		"MAILGUN_DOMAIN", "MAILGUN_API_KEY", // mailgun
		"SENDGRID_API_KEY", // sendgrid
	)

	subprogramCmd := flag.NewFlagSet(subprogram, flag.ExitOnError)
	configPath := subprogramCmd.String("config", "./cfg/config.json", "Path to your configuration file (.json or .toml).")
	provider := subprogramCmd.String("provider", "", "Provider to use when sending emails (default: notify.provider from config)")
	senderAddress := subprogramCmd.String("sender", "", "Sender's address (default: notify.sender from config)")
	recipientAddress := subprogramCmd.String("recipient", "", "Comma separated recipients")
	subject := subprogramCmd.String("subject", "Test subject", "Subject of an email")

	xerr.QuitIfError(subprogramCmd.Parse(flags), "Unable to subprogramCmd.Parse")
	config.InitializeConfig(*configPath)
	if *provider == "" {
		*provider = config.Cfg.Notify.Provider
	}
	if *senderAddress == "" {
		*senderAddress = config.Cfg.Notify.Sender
	}
	util.RequiredFlag(senderAddress, "sender")
	util.RequiredFlag(recipientAddress, "recipient")
	util.EnsureFlags()

	e := notify.SendMessage(context.Background(), notify.Provider(*provider), true, notify.Message{
		Sender:     *senderAddress,
		Recipients: strings.Split(*recipientAddress, ","),
		Subject:    *subject,
		Text:       "This is a test email from safe-bite.",
		HTML:       "<p>This is a test email from <b>safe-bite</b>.</p>",
	})
	e.QuitIf("error")
}

func main() {
	if len(os.Args) < 2 {
		tl.Log(tl.Error, palette.Red, "Usage: %s", "go run src/cmd/scan/main.go subprogram_name (image, barcode, restore, cleanup, history, report, label, test-email)")
		os.Exit(1)
	}
	subprogram := os.Args[1]
	flags := os.Args[2:]

	switch subprogram {
	case "image":
		scanImage(subprogram, flags)
	case "barcode":
		scanBarcode(subprogram, flags)
	case "restore":
		restoreResult(subprogram, flags)
	case "cleanup":
		cleanupImages(subprogram, flags)
	case "history":
		listHistory(subprogram, flags)
	case "report":
		monthlyReport(subprogram, flags)
	case "label":
		readLabel(subprogram, flags)
	case "test-email":
		testEmail(subprogram, flags)
	default:
		tl.Log(tl.Error, palette.Red, "Unknown subprogram: %s", subprogram)
		os.Exit(1)
	}
}
