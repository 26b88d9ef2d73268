package main

import (
	"flag"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/golang/glog"
	"github.com/itohio/goqcm/pkg/config"
	"github.com/itohio/goqcm/pkg/scope"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
	)
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		glog.Exitf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	application := app.NewWithID("com.itohio.goqcm")

	window := application.NewWindow("Quartz Crystal Monitor")
	window.Resize(fyne.NewSize(1000, 700))
	window.CenterOnScreen()

	state := &appState{
		cfg:     cfg,
		cfgPath: *configFlag,
		window:  window,
		useMock: *mockFlag,
	}

	toolbar := createToolbar(state)
	panel := createPanel(state)

	state.scopeWidget = scope.New(cfg.Display.Duration())

	window.SetContent(container.NewBorder(
		container.NewVBox(toolbar, panel),
		nil,
		nil,
		nil,
		state.scopeWidget,
	))
	window.SetOnClosed(func() {
		state.closeSession()
	})
	window.ShowAndRun()
}

// createToolbar creates the application toolbar with Connect, Zero and
// Settings buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("Connect", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	zeroBtn := widget.NewButtonWithIcon("Zero", theme.ViewRestoreIcon(), func() {
		handleZero(state)
	})
	zeroBtn.Disable()
	state.zeroBtn = zeroBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	source := "serial " + state.cfg.Serial.Port
	if state.useMock {
		source = "mocked device"
	}
	state.statusLabel = widget.NewLabel(fmt.Sprintf("Disconnected (%s)", source))

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, zeroBtn, settingsBtn),
		state.statusLabel,
		nil,
	)
}
