// Package invite renders event records as iCalendar documents suitable
// for mail attachment.
package invite

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/ignite/mailcal/internal/event"
)

const prodID = "-//mailcal//EN"

// Builder converts event records into calendar artifacts, one VEVENT per
// valid occurrence. Local start times are interpreted in the configured
// source timezone and written as UTC instants.
type Builder struct {
	organizer string
	loc       *time.Location
}

// NewBuilder creates a builder. organizer is the sending mailbox address;
// loc is the civil timezone occurrence start times are expressed in.
func NewBuilder(organizer string, loc *time.Location) *Builder {
	return &Builder{organizer: organizer, loc: loc}
}

// Build assembles the calendar document. An occurrence whose start time
// does not parse is skipped with a warning; it never aborts the rest of
// the artifact. A record with zero valid occurrences yields a calendar
// with zero sub-events, which is not an error.
func (b *Builder) Build(rec event.Record) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	for _, occ := range rec.Occurrences {
		start, err := time.ParseInLocation(event.TimeLayout, occ.DateTime, b.loc)
		if err != nil {
			log.Printf("[Invite] Skipping occurrence with invalid start %q: %v", occ.DateTime, err)
			continue
		}
		cal.Children = append(cal.Children, b.buildEvent(rec, occ, start.UTC()))
	}

	var buf bytes.Buffer
	if len(cal.Children) == 0 {
		// The encoder refuses a VCALENDAR without components, but a
		// record with no valid occurrences still yields a valid,
		// dispatchable document.
		buf.WriteString("BEGIN:VCALENDAR\r\n")
		buf.WriteString("PRODID:" + prodID + "\r\n")
		buf.WriteString("VERSION:2.0\r\n")
		buf.WriteString("END:VCALENDAR\r\n")
		return buf.Bytes(), nil
	}
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// buildEvent assembles one VEVENT for an occurrence starting at the
// given UTC instant.
func (b *Builder) buildEvent(rec event.Record, occ event.Occurrence, startUTC time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uuid.New().String())
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, startUTC)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, startUTC.Add(occ.Duration()))
	ve.Props.SetText(ical.PropSummary, summary(rec))

	if rec.Location != "" {
		ve.Props.SetText(ical.PropLocation, rec.Location)
	}
	ve.Props.SetText(ical.PropDescription, describe(rec, occ))

	for _, attendee := range rec.EmailParticipants() {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", attendee))
		ve.Props.Add(p)
	}

	org := ical.NewProp(ical.PropOrganizer)
	org.SetText(fmt.Sprintf("mailto:%s", b.organizer))
	ve.Props.Add(org)

	return ve
}

func summary(rec event.Record) string {
	if rec.Name == "" {
		return "Untitled Event"
	}
	return rec.Name
}

// describe composes the sub-event description echoing the extracted
// metadata that has no dedicated iCalendar field of its own.
func describe(rec event.Record, occ event.Occurrence) string {
	lines := []string{"Event created via email processing system."}
	if rec.Location != "" {
		lines = append(lines, fmt.Sprintf("Location: %s", rec.Location))
	}
	lines = append(lines, fmt.Sprintf("Duration: %d minutes", int(occ.Duration().Minutes())))
	if rec.RepeatFrequency != "" {
		lines = append(lines, fmt.Sprintf("Repeats: %s", rec.RepeatFrequency))
	}
	if rec.EndDate != "" {
		lines = append(lines, fmt.Sprintf("Until: %s", rec.EndDate))
	}
	return strings.Join(lines, "\n")
}
