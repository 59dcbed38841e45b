// Package tsrefine drives the refinement stage for one reaction job:
// it picks a transition-state guess from the grown path's energy
// profile, hands it to the external saddle-point optimizer, and
// validates the optimized structure with the external IRC tool.
package tsrefine

import (
	"fmt"
	"strings"
)

// Mode controls how ambiguous energy profiles are handled when picking
// the transition-state guess.
type Mode string

const (
	// ModeTight accepts a profile only when it has exactly one peak.
	ModeTight Mode = "tight"
	// ModeLoose takes the maximum-energy peak when several exist.
	ModeLoose Mode = "loose"
)

// ParseMode validates a configured selection mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTight:
		return ModeTight, nil
	case ModeLoose:
		return ModeLoose, nil
	}
	return "", fmt.Errorf("unknown selection mode %q (want tight or loose)", s)
}

// Profile sanity bounds. Profiles shorter than MinProfileImages carry
// too little shape to locate a saddle point; any image above
// MaxProfileEnergy marks a diverged path.
const (
	MinProfileImages = 5
	MaxProfileEnergy = 1000.0
)

// SelectPeak picks the transition-state guess index from a path energy
// profile. The second return is false when no acceptable peak exists:
// the profile is too short, diverged, flat, or (in tight mode) has more
// than one peak.
//
// A peak is an image strictly above its two neighbors on each side;
// the images adjacent to the endpoints are compared against the three
// images available to them.
func SelectPeak(energies []float64, mode Mode) (int, bool) {
	if len(energies) < MinProfileImages {
		return 0, false
	}
	for _, e := range energies {
		if e > MaxProfileEnergy {
			return 0, false
		}
	}

	var peaks []int
	n := len(energies)
	if energies[1] > max3(energies[0], energies[2], energies[3]) {
		peaks = append(peaks, 1)
	}
	if energies[n-2] > max3(energies[n-1], energies[n-3], energies[n-4]) {
		peaks = append(peaks, n-2)
	}
	for i := 2; i < n-2; i++ {
		if energies[i] > max(energies[i-1], energies[i-2]) &&
			energies[i] > max(energies[i+1], energies[i+2]) {
			peaks = append(peaks, i)
		}
	}

	switch {
	case len(peaks) == 0:
		return 0, false
	case len(peaks) == 1:
		return peaks[0], true
	case mode == ModeTight:
		return 0, false
	}

	best := peaks[0]
	for _, i := range peaks[1:] {
		if energies[i] > energies[best] {
			best = i
		}
	}
	return best, true
}

func max3(a, b, c float64) float64 {
	return max(a, max(b, c))
}
