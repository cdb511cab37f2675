package history

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"safe-bite/src/pkg/analysis"
)

/*
ReportOptions selects the month and presentation of a MonthlyReport.
*/
type ReportOptions struct {
	Year     int            `json:"year"`
	Month    time.Month     `json:"month"`
	Location *time.Location `json:"-"`
	Timezone string         `json:"timezone"`
	MaxRows  int            `json:"max_rows"`
	Title    string         `json:"title"`
}

/*
ReportRow is one bar of a breakdown (a verdict, an allergen or a country).
*/
type ReportRow struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	Count       int64   `json:"count"`
	Percent     float64 `json:"percent"`
	Color       string  `json:"color"`
	BarPercent  int     `json:"bar_percent"`
}

/*
MonthlyReport is the computed summary behind the HTML report.
*/
type MonthlyReport struct {
	Title       string      `json:"title"`
	Year        int         `json:"year"`
	Month       time.Month  `json:"month"`
	Timezone    string      `json:"timezone"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	GeneratedAt time.Time   `json:"generated_at"`
	ScanCount   int         `json:"scan_count"`
	UnsafeCount int         `json:"unsafe_count"`
	Verdicts    []ReportRow `json:"verdicts"`
	Allergens   []ReportRow `json:"allergens"`
	Countries   []ReportRow `json:"countries"`
	TokensTotal int64       `json:"tokens_total"`
	Notes       []string    `json:"notes"`
}

// Period returns [start, end) of the selected month.
func (o ReportOptions) Period() (time.Time, time.Time) {
	location := o.Location
	if location == nil {
		location = time.UTC
	}
	start := time.Date(o.Year, o.Month, 1, 0, 0, 0, 0, location)
	return start, start.AddDate(0, 1, 0)
}

/*
BuildMonthlyReport aggregates the records captured in the selected month by
verdict, by matched allergen and by country.
*/
func BuildMonthlyReport(records []Record, options ReportOptions, now time.Time) MonthlyReport {
	start, end := options.Period()
	report := MonthlyReport{
		Title:       options.Title,
		Year:        options.Year,
		Month:       options.Month,
		Timezone:    options.Timezone,
		PeriodStart: start,
		PeriodEnd:   end.Add(-time.Nanosecond),
		GeneratedAt: now,
	}
	if report.Title == "" {
		report.Title = fmt.Sprintf("Scan report: %s %d", options.Month, options.Year)
	}

	verdicts := map[string]int64{}
	allergens := map[string]int64{}
	countries := map[string]int64{}
	barcodeScans := 0

	for _, record := range records {
		captured := record.CapturedAt()
		if captured.Before(start) || !captured.Before(end) || record.Result == nil {
			continue
		}
		report.ScanCount++
		verdicts[string(record.Result.Verdict)]++
		if record.Result.Verdict == analysis.VerdictUnsafe {
			report.UnsafeCount++
		}
		for _, allergen := range record.Result.MatchedAllergens {
			allergens[allergen]++
		}
		country := record.Result.CountryCode
		if record.Location != nil && record.Location.CountryCode() != "" {
			country = record.Location.CountryCode()
		}
		if country == "" {
			country = "unknown"
		}
		countries[country]++
		if record.Barcode != "" {
			barcodeScans++
		}
		if record.Result.RunMetadata != nil {
			report.TokensTotal += int64(record.Result.RunMetadata.TokensTotal)
		}
	}

	total := int64(report.ScanCount)
	report.Verdicts = buildRows(verdicts, total, options.MaxRows)
	report.Allergens = buildRows(allergens, total, options.MaxRows)
	report.Countries = buildRows(countries, total, options.MaxRows)

	report.Notes = append(report.Notes,
		fmt.Sprintf("%d of %d scans were barcode lookups.", barcodeScans, report.ScanCount),
		"Allergen percentages are the share of scans that matched the allergen; a scan can match several.",
		fmt.Sprintf("Analyzer tokens used: %s.", humanize.Comma(report.TokensTotal)),
	)
	return report
}

/*
buildRows converts counts into sorted rows, assigns colors, and groups overflow into "Other".
*/
func buildRows(counts map[string]int64, total int64, maxRows int) []ReportRow {
	rows := make([]ReportRow, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, newRow(key, displayName(key), count, total))
	}
	sort.Slice(rows, func(i int, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})

	if maxRows < 3 {
		maxRows = 3
	}
	if len(rows) > maxRows {
		keep := rows[:maxRows-1]
		var otherCount int64
		for _, row := range rows[maxRows-1:] {
			otherCount += row.Count
		}
		rows = append(keep, newRow("other", "Other", otherCount, total))
	}

	paletteColors := []string{
		"#2563EB", "#7C3AED", "#059669", "#DB2777", "#D97706",
		"#0EA5E9", "#65A30D", "#9333EA", "#F43F5E", "#14B8A6",
	}
	for i := range rows {
		rows[i].Color = verdictColor(rows[i].Key, paletteColors[i%len(paletteColors)])
	}
	return rows
}

func newRow(key string, name string, count int64, total int64) ReportRow {
	percent := 0.0
	if total > 0 {
		percent = float64(count) / float64(total) * 100
	}
	bar := int(math.Round(percent))
	if count > 0 && bar == 0 {
		bar = 1
	}
	if bar > 100 {
		bar = 100
	}
	return ReportRow{Key: key, DisplayName: name, Count: count, Percent: percent, BarPercent: bar}
}

func verdictColor(key string, fallback string) string {
	switch analysis.Verdict(key) {
	case analysis.VerdictSafe:
		return "#059669"
	case analysis.VerdictCaution:
		return "#D97706"
	case analysis.VerdictUnsafe:
		return "#DC2626"
	case analysis.VerdictUnknown:
		return "#6B7280"
	}
	return fallback
}

func displayName(key string) string {
	if len(key) == 2 && strings.ToUpper(key) == key {
		return key // country code
	}
	parts := strings.Split(key, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

/*
RenderHTML converts a MonthlyReport into a single HTML string using inline CSS
only, so it can be mailed as is.
*/
func RenderHTML(report MonthlyReport) string {
	var buffer bytes.Buffer

	buffer.WriteString(`<!doctype html><html><head><meta charset="utf-8">`)
	buffer.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1"></head>`)
	buffer.WriteString(`<body style="margin:0;padding:0;background-color:#F3F4F6;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Inter,Arial,sans-serif;color:#111827;">`)
	buffer.WriteString(`<table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%" style="border-collapse:collapse;background-color:#F3F4F6;"><tr><td align="center" style="padding:24px;">`)
	buffer.WriteString(`<table role="presentation" cellpadding="0" cellspacing="0" border="0" width="680" style="width:680px;max-width:680px;"><tr><td style="padding:0;">`)

	// Header.
	buffer.WriteString(`<div style="padding:8px 4px 18px 4px;">`)
	buffer.WriteString(`<div style="font-size:24px;font-weight:800;line-height:1.2;">` + html.EscapeString(report.Title) + `</div>`)
	buffer.WriteString(`<div style="margin-top:6px;font-size:13px;line-height:1.5;color:#6B7280;">`)
	buffer.WriteString(`Period: <b style="color:#111827;">` + html.EscapeString(report.Month.String()) + ` ` + strconv.Itoa(report.Year) + `</b>`)
	buffer.WriteString(` &nbsp;•&nbsp; Scans: <b style="color:#111827;">` + humanize.Comma(int64(report.ScanCount)) + `</b>`)
	buffer.WriteString(` &nbsp;•&nbsp; Timezone: <b style="color:#111827;">` + html.EscapeString(report.Timezone) + `</b>`)
	buffer.WriteString(`</div></div>`)

	// Summary card.
	buffer.WriteString(cardOpen())
	buffer.WriteString(`<div style="padding:18px;">`)
	buffer.WriteString(`<div style="font-size:12px;letter-spacing:0.10em;text-transform:uppercase;color:#6B7280;">Unsafe dishes avoided</div>`)
	buffer.WriteString(`<div style="margin-top:6px;font-size:34px;font-weight:900;line-height:1.1;">` + humanize.Comma(int64(report.UnsafeCount)) + `</div>`)
	buffer.WriteString(`<div style="margin-top:8px;font-size:13px;color:#6B7280;">From <b style="color:#111827;">` + report.PeriodStart.Format("2006-01-02") + `</b> to <b style="color:#111827;">` + report.PeriodEnd.Format("2006-01-02") + `</b></div>`)
	buffer.WriteString(`</div>`)
	buffer.WriteString(cardClose())

	writeSection(&buffer, "Verdicts", "Share of scans per verdict.", report.Verdicts, report.ScanCount)
	writeSection(&buffer, "Your allergens", "Share of scans that matched each allergen.", report.Allergens, report.ScanCount)
	writeSection(&buffer, "Countries", "Where you scanned.", report.Countries, report.ScanCount)

	// Notes card.
	buffer.WriteString(`<div style="padding:18px 0;">`)
	buffer.WriteString(cardOpen())
	buffer.WriteString(`<div style="padding:16px 18px;"><div style="font-size:13px;font-weight:900;">Notes</div>`)
	buffer.WriteString(`<div style="margin-top:10px;font-size:12px;line-height:1.7;color:#6B7280;">`)
	for _, note := range report.Notes {
		buffer.WriteString(`• ` + html.EscapeString(note) + `<br>`)
	}
	buffer.WriteString(`</div>`)
	buffer.WriteString(`<div style="margin-top:12px;font-size:11px;color:#9CA3AF;">Generated ` + html.EscapeString(report.GeneratedAt.Format("2006-01-02 15:04:05")) + `</div>`)
	buffer.WriteString(`</div>`)
	buffer.WriteString(cardClose())
	buffer.WriteString(`</div>`)

	buffer.WriteString(`</td></tr></table></td></tr></table></body></html>`)
	return buffer.String()
}

func writeSection(buffer *bytes.Buffer, title string, subtitle string, rows []ReportRow, scanCount int) {
	buffer.WriteString(`<div style="padding:18px 18px 0 18px;">`)
	buffer.WriteString(`<div style="font-size:14px;font-weight:800;">` + html.EscapeString(title) + `</div>`)
	buffer.WriteString(`<div style="margin-top:4px;font-size:12px;color:#6B7280;">` + html.EscapeString(subtitle) + `</div>`)
	if scanCount == 0 || len(rows) == 0 {
		buffer.WriteString(`<div style="margin-top:10px;padding:14px;border:1px dashed #D1D5DB;border-radius:12px;background-color:#FAFAFA;color:#6B7280;font-size:13px;">Nothing to show for this month.</div>`)
		buffer.WriteString(`</div>`)
		return
	}
	buffer.WriteString(`<table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%" style="border-collapse:separate;border-spacing:0 10px;">`)
	for _, row := range rows {
		buffer.WriteString(`<tr><td style="padding:12px;background-color:#FFFFFF;border:1px solid #E5E7EB;border-radius:12px;">`)
		buffer.WriteString(`<table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%"><tr>`)
		buffer.WriteString(`<td><div style="display:inline-block;width:10px;height:10px;border-radius:999px;background-color:` + row.Color + `;margin-right:8px;"></div>`)
		buffer.WriteString(`<span style="font-size:14px;font-weight:800;">` + html.EscapeString(row.DisplayName) + `</span></td>`)
		buffer.WriteString(`<td align="right"><div style="font-size:14px;font-weight:900;">` + humanize.Comma(row.Count) + `</div>`)
		buffer.WriteString(`<div style="margin-top:2px;font-size:12px;font-weight:800;color:#6B7280;">` + fmt.Sprintf("%.1f%%", row.Percent) + `</div></td>`)
		buffer.WriteString(`</tr><tr><td colspan="2" style="padding-top:10px;">`)
		buffer.WriteString(`<div style="width:100%;height:10px;border-radius:999px;background-color:#EEF2FF;overflow:hidden;">`)
		buffer.WriteString(`<div style="height:10px;width:` + strconv.Itoa(row.BarPercent) + `%;background-color:` + row.Color + `;border-radius:999px;"></div>`)
		buffer.WriteString(`</div></td></tr></table>`)
		buffer.WriteString(`</td></tr>`)
	}
	buffer.WriteString(`</table></div>`)
}

func cardOpen() string {
	return `<div style="background-color:#FFFFFF;border:1px solid #E5E7EB;border-radius:16px;box-shadow:0 8px 24px rgba(17,24,39,0.06);overflow:hidden;">`
}

func cardClose() string {
	return `</div>`
}
