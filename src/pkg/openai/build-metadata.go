package openai

import (
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

/*
ExtractRunMetadata builds the RunMetadata stored next to an analysis result.
*/
func ExtractRunMetadata(resp responseObject, startTime time.Time, httpStatus int) (meta RunMetadata) {
	meta.ResponseID = resp.ID
	meta.Status = resp.Status
	meta.HTTPStatus = httpStatus
	meta.Model, meta.ModelSnapshot = ParseModelSnapshot(resp.Model)

	if resp.Reasoning != nil && resp.Reasoning.Effort != nil {
		meta.ReasoningEffort = *resp.Reasoning.Effort
	}
	meta.Temperature = resp.Temperature

	if resp.Usage != nil {
		meta.TokensIn = resp.Usage.InputTokens
		meta.TokensOut = resp.Usage.OutputTokens
		meta.TokensTotal = resp.Usage.TotalTokens
		if resp.Usage.InputTokensDetails != nil {
			meta.TokensCached = resp.Usage.InputTokensDetails.CachedTokens
		}
		if resp.Usage.OutputTokensDetails != nil {
			meta.TokensReasoning = resp.Usage.OutputTokensDetails.ReasoningTokens
		}
	}

	// CreatedAt is truncated to seconds, startTime is not
	meta.StartedAt = startTime.UnixMilli()
	meta.FinishedAt = time.Now().UnixMilli()
	meta.Elapsed = meta.FinishedAt - meta.StartedAt

	tl.Log(tl.Debug, palette.GreenDim, "%s for response_id='%s' status='%s'", "Built run metadata", meta.ResponseID, meta.Status)
	return meta
}

/*
ParseModelSnapshot splits a full model string into (base, snapshot).

	"gpt-5-nano-2025-08-07" -> ("gpt-5-nano", "2025-08-07")
	"gpt-5-nano"            -> ("gpt-5-nano", "")
	"gpt-5-nano-rc1"        -> ("gpt-5-nano-rc1", "")
*/
func ParseModelSnapshot(model string) (base string, snapshot string) {
	m := strings.TrimSpace(model)
	const dateLayout = "2006-01-02"

	lastDash := strings.LastIndex(m, "-")
	if lastDash < 0 {
		return m, ""
	}
	candidate := m[lastDash+1:]
	if len(candidate) != len(dateLayout) {
		// "-YYYY-MM-DD" itself contains dashes, so look 11 chars back too
		if len(m) >= 11 && m[len(m)-11] == '-' {
			tail := m[len(m)-10:]
			if _, err := time.Parse(dateLayout, tail); err == nil {
				return m[:len(m)-11], tail
			}
		}
		return m, ""
	}
	if _, err := time.Parse(dateLayout, candidate); err == nil {
		return m[:lastDash], candidate
	}
	return m, ""
}
