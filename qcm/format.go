package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseField parses an edited entry. Empty or malformed text, and values
// rejected by valid, report false so the caller can redisplay the current
// value.
func parseField(text string, valid func(float64) bool) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if valid != nil && !valid(v) {
		return 0, false
	}
	return v, true
}

func positive(v float64) bool { return v > 0 }

func formatFactor(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatTimeToShow(seconds float64) string {
	return fmt.Sprintf("%.0f", seconds)
}

func formatThickness(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatRate(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// formatFrequency shows the gate-derived frequency scaled by 1e6, the
// readout operators of the instrument panel are used to.
func formatFrequency(v float64) string {
	return fmt.Sprintf("%.1f", v*1e6)
}
