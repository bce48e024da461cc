package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/auditflow/pkg/storage"
)

// Document is the YAML form of the calendar and step templates, used to
// seed a store and to hot-reload business hours.
type Document struct {
	Timezone      string             `yaml:"timezone"`
	BusinessHours []DocumentHours    `yaml:"business_hours"`
	Holidays      []DocumentHoliday  `yaml:"holidays"`
	StepTemplates []DocumentTemplate `yaml:"step_templates"`
}

type DocumentHours struct {
	Weekday string `yaml:"weekday"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Working *bool  `yaml:"working,omitempty"`
}

type DocumentHoliday struct {
	Date      string `yaml:"date"`
	Name      string `yaml:"name"`
	Recurring bool   `yaml:"recurring"`
}

type DocumentTemplate struct {
	Name          string  `yaml:"name"`
	Order         int     `yaml:"order"`
	TATHours      float64 `yaml:"tat_hours"`
	RequiresAudit *bool   `yaml:"requires_audit,omitempty"`
	Active        *bool   `yaml:"active,omitempty"`
}

// LoadDocument reads and parses a calendar document from storage.
func LoadDocument(ctx context.Context, s storage.Storage, path string) (*Document, error) {
	data, err := s.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar document: %w", err)
	}
	return ParseDocument(data)
}

func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calendar document: %w", err)
	}
	return &doc, nil
}

func (d *Document) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// Hours converts the document's business hours. Weekdays missing from the
// document are non-working; an empty list yields the default week.
func (d *Document) Hours() ([]BusinessHours, error) {
	if len(d.BusinessHours) == 0 {
		return DefaultBusinessHours(), nil
	}
	byDay := make(map[time.Weekday]BusinessHours, 7)
	for _, h := range d.BusinessHours {
		wd, err := ParseWeekday(h.Weekday)
		if err != nil {
			return nil, err
		}
		if _, dup := byDay[wd]; dup {
			return nil, fmt.Errorf("%w: duplicate business hours for %s", ErrInvalidCalendar, wd)
		}
		start, err := ParseTimeOfDay(h.Start)
		if err != nil {
			return nil, err
		}
		end, err := ParseTimeOfDay(h.End)
		if err != nil {
			return nil, err
		}
		working := h.Working == nil || *h.Working
		byDay[wd] = BusinessHours{Weekday: wd, Start: start, End: end, IsWorkingDay: working}
	}
	hours := make([]BusinessHours, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		h, ok := byDay[wd]
		if !ok {
			h = BusinessHours{Weekday: wd}
		}
		hours = append(hours, h)
	}
	if err := Validate(hours); err != nil {
		return nil, err
	}
	return hours, nil
}

func (d *Document) ParsedHolidays() ([]Holiday, error) {
	holidays := make([]Holiday, 0, len(d.Holidays))
	for _, h := range d.Holidays {
		date, err := ParseDate(h.Date)
		if err != nil {
			return nil, err
		}
		holidays = append(holidays, Holiday{Date: date, Name: h.Name, IsRecurring: h.Recurring})
	}
	return holidays, nil
}

func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if name == full || name == full[:3] {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
