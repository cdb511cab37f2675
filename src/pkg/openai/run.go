package openai

import (
	"context"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

/*
SendPrompt sends a prompt via the Responses API and returns the concatenated
assistant text and the run metadata.

 1. POST /responses in background mode, reporting upload progress.
 2. If status is not terminal, poll GET /responses/{id} until it is.

meta.HTTPStatus is filled in on failures too, so callers can classify errors
by status instead of by message.
*/
func (c *Client) SendPrompt(ctx context.Context, inputParameters InputParameters, progress ProgressFunc) (responseText string, meta RunMetadata, e *xerr.Error) {
	tl.Log(tl.Info, palette.Blue, "%s %s to %s (model '%s')", "Sending", "prompt", "Responses API", inputParameters.Model)
	startTime := time.Now()

	payload := requestPayload{
		Model:              inputParameters.Model,
		Reasoning:          inputParameters.Reasoning,
		Store:              true,
		PreviousResponseID: inputParameters.PreviousResponseID,
		Instructions:       inputParameters.Instructions,
		Input:              inputParameters.Input,
		Temperature:        inputParameters.Temperature,
		MaxOutputTokens:    inputParameters.MaxOutputTokens,
		Background:         true, // allows us to poll
		Text:               inputParameters.Text,
		Metadata:           inputParameters.Metadata,
	}

	initial, status, e := c.createResponse(ctx, payload, progress)
	if e != nil {
		return "", RunMetadata{HTTPStatus: status}, e
	}

	final := initial
	switch initial.Status {
	case "", statusCompleted, statusIncomplete:
	default:
		tl.Log(tl.Info, palette.Cyan, "%s current status is '%s' id - '%s'", "Waiting for completion,", initial.Status, initial.ID)
		final, status, e = c.waitForResponseCompletion(ctx, initial.ID)
		if e != nil {
			return "", RunMetadata{ResponseID: initial.ID, HTTPStatus: status, Status: final.Status}, e
		}
	}

	meta = ExtractRunMetadata(final, startTime, status)
	tl.Log(
		tl.Detailed, palette.CyanDim,
		"Tokens in: %v (cached: %v), out: %v (reasoning: %v), total: %v",
		meta.TokensIn, meta.TokensCached, meta.TokensOut, meta.TokensReasoning, meta.TokensTotal,
	)
	tl.Log(tl.Info1, palette.Green, "%s in %s for the response '%s'", "Response completed", time.Since(startTime), final.ID)
	return extractOutputText(&final), meta, nil
}
