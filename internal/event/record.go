// Package event holds the canonical record extracted from one email.
package event

import (
	"strings"
	"time"
)

// TimeLayout is the 24-hour local date-time form the extraction prompt
// asks the model to produce for occurrence start times.
const TimeLayout = "2006-01-02 15:04"

// DefaultDurationMinutes is used when an occurrence carries no duration
// or an invalid one.
const DefaultDurationMinutes = 60

// UnknownEventName is the sentinel name of a fallback record.
const UnknownEventName = "Unknown Event"

// Occurrence is one concrete date/time/duration instance within a record.
// DateTime is a naive local time in the configured source timezone.
type Occurrence struct {
	DateTime        string `json:"date_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Duration returns the occurrence length, falling back to the default
// when the extracted value is missing or non-positive.
func (o Occurrence) Duration() time.Duration {
	minutes := o.DurationMinutes
	if minutes <= 0 {
		minutes = DefaultDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Record is the structured event extracted from one email. The JSON tags
// are the wire contract with the language model; serialized records are
// also what the event store persists in its event_data column.
type Record struct {
	Name            string       `json:"event_name"`
	Participants    []string     `json:"participants,omitempty"`
	Location        string       `json:"location,omitempty"`
	Occurrences     []Occurrence `json:"occurrences,omitempty"`
	RepeatFrequency string       `json:"repeat_frequency,omitempty"`
	EndDate         string       `json:"end_date,omitempty"`

	// DateTime is the single start field older stored payloads carry
	// instead of an occurrences array. Only consulted for dedup.
	DateTime string `json:"date_time,omitempty"`

	// Fallback diagnostics, set when extraction could not produce a
	// usable record.
	ExtractionFailed bool   `json:"extraction_failed,omitempty"`
	RawResponse      string `json:"raw_response,omitempty"`
}

// Fallback builds the record returned when extraction or parsing fails.
// rawResponse may be empty when no model response was obtained at all.
func Fallback(rawResponse string) Record {
	return Record{
		Name:             UnknownEventName,
		ExtractionFailed: true,
		RawResponse:      rawResponse,
	}
}

// EmailParticipants returns the participant tokens that are usable as
// addresses. Anything without an @ is dropped.
func (r Record) EmailParticipants() []string {
	var out []string
	for _, p := range r.Participants {
		if strings.Contains(p, "@") {
			out = append(out, p)
		}
	}
	return out
}

// DedupStart returns the start string that identifies this record for
// duplicate detection: the first occurrence, or the legacy single
// date_time field for records extracted before occurrences existed.
// ok is false when the record has neither, in which case duplicate
// checks degenerate to a name-only match.
func (r Record) DedupStart() (start string, ok bool) {
	if len(r.Occurrences) > 0 {
		return r.Occurrences[0].DateTime, true
	}
	if r.DateTime != "" {
		return r.DateTime, true
	}
	return "", false
}
