package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiParser is the fallback for tooltip text the rule-based parser
// rejects. OCR on the in-game bitmap font mangles lines often enough that
// handing the raw text to a language model recovers records that would
// otherwise be retried and skipped. It never runs when the rules succeed.
type GeminiParser struct {
	apiKey string
}

// NewGeminiParser returns a parser, or nil when no API key is configured
// so callers can skip the fallback entirely.
func NewGeminiParser(apiKey string) *GeminiParser {
	if apiKey == "" {
		return nil
	}
	return &GeminiParser{apiKey: apiKey}
}

// geminiTooltipResult is the JSON shape the model is instructed to return.
type geminiTooltipResult struct {
	ItemName   string            `json:"item_name"`
	Price      int64             `json:"price"`
	Currency   string            `json:"currency"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes"`
}

var reMarkdownJSON = regexp.MustCompile("(?s)```json(.*)```")

// ParseTooltip sends raw OCR text to the Gemini API and maps the JSON
// response onto an ItemRecord.
func (g *GeminiParser) ParseTooltip(rawText string) (ItemRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to create genai client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel("gemini-flash-lite-latest")
	model.GenerationConfig.ResponseMIMEType = "application/json"

	prompt := fmt.Sprintf(`You are an expert at reading item tooltips from the game Mega MU.
The text below came from OCR over a tooltip screenshot and may contain recognition errors.
Extract the item information.

- "item_name" is the first meaningful line, with OCR typos fixed where the intended MU item name is obvious.
- "price" is the listed price as a raw integer. Prices use dots or commas as thousand separators (e.g. "1.500.000" = 1500000).
- "currency" is one of "Zen", "MC" or "MP".
- "quantity" is the stack count if a multiplier like "x10" or a quantity line is present, otherwise 1.
- "attributes" maps any remaining option/requirement lines to their values, keyed by their leading label.

Provide the output *only* as a single, minified JSON object with exactly the keys
"item_name" (string), "price" (integer), "currency" (string), "quantity" (integer),
"attributes" (object of string to string). Do not wrap it in markdown backticks.

Here is the OCR text:
---
%s
---`, rawText)

	log.Println("[I] [Gemini] Sending unparsable tooltip text to Gemini API...")
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return ItemRecord{}, fmt.Errorf("failed to generate content from Gemini: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ItemRecord{}, fmt.Errorf("received an empty or invalid response from Gemini API")
	}

	rawJSON := fmt.Sprintf("%s", resp.Candidates[0].Content.Parts[0])
	if matches := reMarkdownJSON.FindStringSubmatch(rawJSON); len(matches) > 1 {
		rawJSON = matches[1]
	}
	rawJSON = strings.TrimSpace(rawJSON)

	var result geminiTooltipResult
	if err := json.Unmarshal([]byte(rawJSON), &result); err != nil {
		return ItemRecord{}, fmt.Errorf("failed to unmarshal JSON from Gemini: %w. Raw response: %s", err, rawJSON)
	}

	if result.ItemName == "" || result.Price < 0 {
		return ItemRecord{}, fmt.Errorf("gemini response missing item name or valid price")
	}

	rec := ItemRecord{
		ItemName:      result.ItemName,
		PriceAmount:   result.Price,
		PriceCurrency: normalizeCurrency(result.Currency),
		Quantity:      result.Quantity,
		Attributes:    result.Attributes,
	}
	if rec.Quantity <= 0 {
		rec.Quantity = 1
	}
	if rec.Attributes == nil {
		rec.Attributes = make(map[string]string)
	}
	log.Printf("[I] [Gemini] Recovered record for %q via fallback parser.", rec.ItemName)
	return rec, nil
}
