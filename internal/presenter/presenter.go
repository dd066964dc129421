// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package presenter renders the guidance pipeline output into localized,
// display-ready views.
package presenter

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/venueops/courier-guide/internal/arrival"
	"github.com/venueops/courier-guide/internal/indicator"
	"github.com/venueops/courier-guide/internal/navvec"
	"github.com/venueops/courier-guide/internal/posbus"
)

// View is the display-ready representation of a single guidance update.
type View struct {
	Arrow     string `json:"arrow"`
	Text      string `json:"text"`
	Distance  string `json:"distance"`
	Status    string `json:"status"`
	Hint      string `json:"hint,omitempty"`
	FloorHint string `json:"floor_hint,omitempty"`
	Tooltip   string `json:"tooltip"`
	Class     string `json:"class"`
}

type Presenter struct {
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

func New(localizer *spreak.Localizer, humanizer *humanize.Humanizer) *Presenter {
	return &Presenter{localizer: localizer, humanizer: humanizer}
}

// NewHumanizer builds a humanizer for the given language tag using the
// locale data bundled with the binary.
func NewHumanizer(tag language.Tag) *humanize.Humanizer {
	collection := humanize.MustNew(humanize.WithLocale(de.New()))
	return collection.CreateHumanizer(tag)
}

// Build renders one guidance update. The now argument anchors the fix-age
// wording in the tooltip.
func (p *Presenter) Build(sample posbus.Sample, vector navvec.Vector, transform indicator.Transform,
	state arrival.State, now time.Time,
) View {
	arrow := arrowGlyph(transform.RotationDegrees)
	distance := p.formatDistance(vector.HorizontalDistanceMeters)
	view := View{
		Arrow:    arrow,
		Distance: distance,
		Status:   p.localizer.Get(statusMessages[state.Phase]),
		Tooltip:  p.tooltip(sample, now),
		Class:    string(transform.Color),
	}
	if state.Phase == arrival.PhaseArrived {
		view.Text = view.Status
		return view
	}
	view.Hint = p.directionHint(transform.RotationDegrees)
	view.FloorHint = p.floorHint(vector.FloorDelta)
	view.Text = fmt.Sprintf("%s%s", ArrowWithSpace(arrow), distance)
	return view
}

func (p *Presenter) formatDistance(meters float64) string {
	var value string
	switch {
	case meters < 1:
		value = "1 m"
	case meters < 1000:
		value = fmt.Sprintf("%.0f m", meters)
	default:
		value = fmt.Sprintf("%.1f km", meters/1000)
	}
	return p.localizer.Getf("%s to go", value)
}

func (p *Presenter) directionHint(rotation float64) string {
	abs := math.Abs(rotation)
	switch {
	case abs <= 22.5:
		return p.localizer.Get("Head straight on")
	case abs >= 157.5:
		return p.localizer.Get("Turn around")
	case rotation < 0:
		return p.localizer.Get("Keep left")
	default:
		return p.localizer.Get("Keep right")
	}
}

func (p *Presenter) floorHint(floorDelta *int) string {
	if floorDelta == nil || *floorDelta == 0 {
		return ""
	}
	delta := *floorDelta
	if delta > 0 {
		return p.localizer.NGetf("Go up one floor", "Go up %d floors", delta, delta)
	}
	return p.localizer.NGetf("Go down one floor", "Go down %d floors", -delta, -delta)
}

func (p *Presenter) tooltip(sample posbus.Sample, now time.Time) string {
	age := p.humanizer.NaturalTime(sample.CapturedAt)
	if sample.CapturedAt.After(now) {
		age = p.humanizer.NaturalTime(now)
	}
	lines := []string{
		p.localizer.Getf("Last position fix: %s", age),
		p.localizer.Getf("Position source: %s", p.localizer.Get(sourceNames[sample.Source])),
	}
	return strings.Join(lines, "\n")
}

// arrowGlyph maps a relative rotation in (-180, 180] onto one of eight
// compass arrows, each covering a 45 degree sector.
func arrowGlyph(rotation float64) string {
	normalized := math.Mod(rotation+360, 360)
	sector := int(math.Round(normalized/45)) % 8
	return arrowGlyphs[sector]
}

// ArrowWithSpace pads the glyph with one trailing space per display cell so
// monospace surfaces keep their column alignment.
func ArrowWithSpace(glyph string) string {
	width := runewidth.StringWidth(glyph)
	return fmt.Sprintf("%s%s", glyph, strings.Repeat(" ", width))
}
