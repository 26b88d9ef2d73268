package main

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goqcm/pkg/acquisition"
)

// createPanel creates the calibration entries and the reading labels.
func createPanel(state *appState) fyne.CanvasObject {
	timeEntry := widget.NewEntry()
	densityEntry := widget.NewEntry()
	zRatioEntry := widget.NewEntry()

	thicknessLabel := widget.NewLabel("--")
	rateLabel := widget.NewLabel("--")
	frequencyLabel := widget.NewLabel("--")

	timeFinished := func(text string) {
		if v, ok := parseField(text, nil); ok {
			state.setTimeToShow(v)
		}
		timeEntry.SetText(formatTimeToShow(state.cfg.Display.TimeToShow))
	}
	densityFinished := func(text string) {
		if v, ok := parseField(text, positive); ok {
			state.setDensity(v)
		}
		densityEntry.SetText(formatFactor(state.cfg.Calibration.Density))
	}
	zRatioFinished := func(text string) {
		if v, ok := parseField(text, positive); ok {
			state.setZRatio(v)
		}
		zRatioEntry.SetText(formatFactor(state.cfg.Calibration.ZRatio))
	}

	timeEntry.OnSubmitted = timeFinished
	densityEntry.OnSubmitted = densityFinished
	zRatioEntry.OnSubmitted = zRatioFinished

	// Populate the entries with the configured values
	timeFinished("")
	densityFinished("")
	zRatioFinished("")

	state.updateLabels = func(ev acquisition.Event) {
		thicknessLabel.SetText(formatThickness(ev.Thickness))
		rateLabel.SetText(formatRate(ev.Rate))
		frequencyLabel.SetText(formatFrequency(ev.Frequency))
	}

	form := container.NewGridWithColumns(4,
		widget.NewLabel("Time to show (s):"), timeEntry,
		widget.NewLabel("Density (g/cm³):"), densityEntry,
		widget.NewLabel("Z-ratio:"), zRatioEntry,
		widget.NewLabel(""), widget.NewLabel(""),
		widget.NewLabel("Thickness (Å):"), thicknessLabel,
		widget.NewLabel("Rate (Å/s):"), rateLabel,
		widget.NewLabel("Frequency (Hz):"), frequencyLabel,
	)

	return form
}
