package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goqcm/pkg/qpod"
)

// showSettingsDialog displays a settings dialog with tabs for the options
// that take effect on the next connect.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createDeviceTab(state),
		createAcquisitionTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 400))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 400))
	d.Show()
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := qpod.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // Display name to port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(state.cfg.Serial.ReadTimeout.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Read Timeout", Widget: timeoutEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected != "" {
				selectedPort := portMap[portSelect.Selected]
				if selectedPort == "" {
					selectedPort = portSelect.Selected
				}
				state.cfg.Serial.Port = selectedPort
			}
			if d, err := time.ParseDuration(timeoutEntry.Text); err == nil && d > 0 {
				state.cfg.Serial.ReadTimeout = d
			}
			state.saveConfig()
		},
	}

	return container.NewTabItem("Serial", form)
}

// createDeviceTab creates the QPOD period configuration tab.
func createDeviceTab(state *appState) *container.TabItem {
	gateEntry := widget.NewEntry()
	gateEntry.SetText(strconv.FormatInt(state.cfg.Device.GatePeriod, 10))

	measurementEntry := widget.NewEntry()
	measurementEntry.SetText(strconv.FormatInt(state.cfg.Device.MeasurementPeriod, 10))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Gate Period", Widget: gateEntry},
			{Text: "Measurement Period", Widget: measurementEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseInt(gateEntry.Text, 10, 64); err == nil && v > 0 {
				state.cfg.Device.GatePeriod = v
			}
			if v, err := strconv.ParseInt(measurementEntry.Text, 10, 64); err == nil && v > 0 {
				state.cfg.Device.MeasurementPeriod = v
			}
			state.saveConfig()
		},
	}

	return container.NewTabItem("Device", form)
}

// createAcquisitionTab creates the acquisition configuration tab.
func createAcquisitionTab(state *appState) *container.TabItem {
	delayEntry := widget.NewEntry()
	delayEntry.SetText(state.cfg.Acquisition.Delay.String())

	idEntry := widget.NewEntry()
	idEntry.SetText(state.cfg.Acquisition.HardwareSourceID)

	nameEntry := widget.NewEntry()
	nameEntry.SetText(state.cfg.Acquisition.HardwareSourceName)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Sample Delay", Widget: delayEntry},
			{Text: "Hardware Source ID", Widget: idEntry},
			{Text: "Hardware Source Name", Widget: nameEntry},
		},
		OnSubmit: func() {
			if d, err := time.ParseDuration(delayEntry.Text); err == nil && d >= 0 {
				state.cfg.Acquisition.Delay = d
			}
			if idEntry.Text != "" {
				state.cfg.Acquisition.HardwareSourceID = idEntry.Text
			}
			if nameEntry.Text != "" {
				state.cfg.Acquisition.HardwareSourceName = nameEntry.Text
			}
			state.saveConfig()
		},
	}

	return container.NewTabItem("Acquisition", form)
}

// createMockTab creates the Mock device configuration tab.
func createMockTab(state *appState) *container.TabItem {
	baseEntry := widget.NewEntry()
	baseEntry.SetText(fmt.Sprintf("%.0f", state.cfg.Mock.BaseCount))

	driftEntry := widget.NewEntry()
	driftEntry.SetText(fmt.Sprintf("%.3f", state.cfg.Mock.DriftPerSecond))

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(fmt.Sprintf("%.3f", state.cfg.Mock.Noise))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Base Count", Widget: baseEntry},
			{Text: "Drift (counts/s)", Widget: driftEntry},
			{Text: "Noise (counts)", Widget: noiseEntry},
		},
		OnSubmit: func() {
			if v, ok := parseField(baseEntry.Text, positive); ok {
				state.cfg.Mock.BaseCount = v
			}
			if v, ok := parseField(driftEntry.Text, nil); ok {
				state.cfg.Mock.DriftPerSecond = v
			}
			if v, ok := parseField(noiseEntry.Text, nil); ok && v >= 0 {
				state.cfg.Mock.Noise = v
			}
			state.saveConfig()
		},
	}

	return container.NewTabItem("Mock", form)
}
