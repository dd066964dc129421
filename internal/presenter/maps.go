// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"github.com/vorlif/spreak/localize"

	"github.com/venueops/courier-guide/internal/arrival"
	"github.com/venueops/courier-guide/internal/posbus"
)

// arrowGlyphs holds the eight compass arrows in clockwise order starting at
// straight ahead.
var arrowGlyphs = [8]string{"↑", "↗", "→", "↘", "↓", "↙", "←", "↖"}

// statusMessages maps arrival phases to their display strings.
var statusMessages = map[arrival.Phase]localize.MsgID{
	arrival.PhaseNavigating: "Navigating",
	arrival.PhaseConfirming: "Confirming arrival",
	arrival.PhaseArrived:    "Arrived",
}

// sourceNames maps position sources to their display strings.
var sourceNames = map[posbus.Source]localize.MsgID{
	posbus.SourcePrimaryIndoor:     "indoor",
	posbus.SourceFallbackSatellite: "satellite",
}
