// Package extract turns raw email text into a structured event record
// using a generative text service.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ignite/mailcal/internal/event"
)

// TextGenerator is a single request/response exchange with a text
// generation service.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const extractionPrompt = `Extract the following information from the email content and return it as valid JSON with these keys:
- "event_name": the event name
- "participants": list of participant names or email addresses
- "location": the location, if any
- "occurrences": array of objects {"date_time": "YYYY-MM-DD HH:mm", "duration_minutes": <int>}, one per date/time mentioned, using 24-hour time
- "repeat_frequency": repeat frequency, if any
- "end_date": end date, if any

Return only the JSON object with no additional text.

Email content:
%s
`

// Engine converts email bodies into event records. Extraction never
// fails past this boundary: model and parse errors become fallback
// records so the pipeline always receives a value.
type Engine struct {
	gen TextGenerator
}

// NewEngine creates an extraction engine over the given text generator.
func NewEngine(gen TextGenerator) *Engine {
	return &Engine{gen: gen}
}

// Extract asks the model for the structured event in the email body.
func (e *Engine) Extract(ctx context.Context, emailBody string) event.Record {
	prompt := fmt.Sprintf(extractionPrompt, emailBody)

	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		log.Printf("[Extract] Generation failed: %v", err)
		return event.Fallback("")
	}

	payload := stripFence(raw)

	var rec event.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		log.Printf("[Extract] Response is not valid JSON: %v", err)
		return event.Fallback(raw)
	}

	log.Printf("[Extract] Extracted event %q with %d occurrence(s)", rec.Name, len(rec.Occurrences))
	return rec
}

// stripFence unwraps a ```json fenced code block if the model added one,
// otherwise returns the trimmed response as-is.
func stripFence(s string) string {
	if _, rest, found := strings.Cut(s, "```json"); found {
		inner, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(inner)
	}
	return strings.TrimSpace(s)
}
