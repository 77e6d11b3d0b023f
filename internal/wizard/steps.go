// Package wizard holds the event-creation steps, their validators and the
// navigator that gates forward movement between them.
package wizard

import (
	"fmt"
	"strings"

	"ms-stepping/internal/models"

	"github.com/shopspring/decimal"
)

type StepID string

const (
	StepBasicInfo StepID = "basic_info"
	StepTicketing StepID = "ticketing"
	StepSeating   StepID = "seating_setup"
	StepReview    StepID = "review"
)

// TicketTypeDraft is a ticket type as entered in the wizard.
type TicketTypeDraft struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// FormState is a snapshot of everything the wizard has collected.
type FormState struct {
	Title            string                  `json:"title"`
	Description      string                  `json:"description"`
	OrganizationName string                  `json:"organization_name"`
	Date             string                  `json:"date"`
	Time             string                  `json:"time"`
	EndTime          string                  `json:"end_time,omitempty"`
	Address          string                  `json:"address"`
	Categories       []string                `json:"categories"`
	VenueImageURL    string                  `json:"venue_image_url,omitempty"`
	TicketTypes      []TicketTypeDraft       `json:"ticket_types,omitempty"`
	SeatingChartURL  string                  `json:"seating_chart_url,omitempty"`
	SeatingSections  []models.SeatingSection `json:"seating_sections,omitempty"`
}

func (f FormState) TotalTicketQuantity() int {
	total := 0
	for _, tt := range f.TicketTypes {
		total += tt.Quantity
	}
	return total
}

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Step describes one wizard page. IsRequired decides whether the step is shown
// for an event type; Validate must not have side effects.
type Step struct {
	ID          StepID
	Number      int
	Title       string
	Description string
	IsRequired  func(models.EventType) bool
	Validate    func(FormState) ValidationResult
}

func always(models.EventType) bool { return true }

var allSteps = []Step{
	{
		ID:          StepBasicInfo,
		Title:       "Basic Info",
		Description: "Title, date, location and categories",
		IsRequired:  always,
		Validate:    validateBasicInfo,
	},
	{
		ID:          StepTicketing,
		Title:       "Ticketing",
		Description: "Ticket types, prices and quantities",
		IsRequired:  func(t models.EventType) bool { return t != models.EventTypeSimple },
		Validate:    validateTicketing,
	},
	{
		ID:          StepSeating,
		Title:       "Seating Setup",
		Description: "Seating chart and sections",
		IsRequired:  func(t models.EventType) bool { return t == models.EventTypePremium },
		Validate:    validateSeating,
	},
	{
		ID:          StepReview,
		Title:       "Review",
		Description: "Check everything before publishing",
		IsRequired:  always,
		Validate:    func(FormState) ValidationResult { return ValidationResult{Valid: true} },
	},
}

// Steps returns the full step list in order, numbered by position.
func Steps() []Step {
	out := make([]Step, len(allSteps))
	copy(out, allSteps)
	for i := range out {
		out[i].Number = i + 1
	}
	return out
}

// VisibleSteps filters Steps by IsRequired and renumbers the result from 1.
func VisibleSteps(eventType models.EventType) []Step {
	var out []Step
	for _, s := range allSteps {
		if s.IsRequired(eventType) {
			s.Number = len(out) + 1
			out = append(out, s)
		}
	}
	return out
}

type result struct {
	errors   []string
	warnings []string
}

func (r *result) errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *result) warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *result) done() ValidationResult {
	return ValidationResult{Valid: len(r.errors) == 0, Errors: r.errors, Warnings: r.warnings}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func validateBasicInfo(f FormState) ValidationResult {
	var r result
	if blank(f.Title) {
		r.errorf("Event title is required")
	}
	if blank(f.Description) {
		r.errorf("Event description is required")
	}
	if blank(f.OrganizationName) {
		r.errorf("Organization name is required")
	}
	if blank(f.Date) {
		r.errorf("Event date is required")
	}
	if blank(f.Time) {
		r.errorf("Event time is required")
	}
	if blank(f.Address) {
		r.errorf("Event address is required")
	}
	if len(f.Categories) == 0 {
		r.errorf("Select at least one category")
	}

	if blank(f.EndTime) {
		r.warnf("No end time set")
	}
	if blank(f.VenueImageURL) {
		r.warnf("No venue image uploaded")
	}
	return r.done()
}

func validateTicketing(f FormState) ValidationResult {
	var r result
	if len(f.TicketTypes) == 0 {
		r.errorf("Add at least one ticket type")
	}
	for i, tt := range f.TicketTypes {
		label := tt.Name
		if blank(label) {
			label = fmt.Sprintf("#%d", i+1)
			r.errorf("Ticket type %d needs a name", i+1)
		}
		if tt.Price.IsNegative() {
			r.errorf("Ticket type %s cannot have a negative price", label)
		} else if tt.Price.IsZero() {
			r.warnf("Ticket type %s is free", label)
		}
		if tt.Quantity <= 0 {
			r.errorf("Ticket type %s needs a quantity greater than zero", label)
		}
	}
	return r.done()
}

func validateSeating(f FormState) ValidationResult {
	var r result
	capacity := 0
	for _, s := range f.SeatingSections {
		if s.Capacity > 0 {
			capacity += s.Capacity
		}
	}
	if blank(f.SeatingChartURL) && capacity == 0 {
		r.errorf("Upload a seating chart or add a section with capacity")
	}
	if capacity > 0 {
		if tickets := f.TotalTicketQuantity(); capacity < tickets {
			r.warnf("Section capacity %d is below total ticket quantity %d", capacity, tickets)
		}
	}
	return r.done()
}
