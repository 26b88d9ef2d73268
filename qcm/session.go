package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/golang/glog"
	"github.com/itohio/goqcm/pkg/acquisition"
	"github.com/itohio/goqcm/pkg/config"
	"github.com/itohio/goqcm/pkg/qpod"
	"github.com/itohio/goqcm/pkg/scope"
)

// session is one open link with its acquisition goroutine.
type session struct {
	link    qpod.Link
	sampler *acquisition.Sampler
	task    *acquisition.Task
	cancel  context.CancelFunc
	done    chan struct{} // Closed when the acquisition goroutine exits
}

// appState holds the application state. All fields are owned by the Fyne
// goroutine.
type appState struct {
	cfg         *config.Config
	cfgPath     string
	window      fyne.Window
	scopeWidget *scope.ScopeWidget
	connectBtn  *widget.Button
	zeroBtn     *widget.Button
	statusLabel *widget.Label
	useMock     bool

	updateLabels func(acquisition.Event)

	session *session
}

func (s *appState) newLink() qpod.Link {
	dev := s.cfg.Device
	if s.useMock {
		mock := qpod.NewMock(&s.cfg.Mock)
		return qpod.NewWithOpener(mock.Opener(), "mock", dev.GatePeriod, dev.MeasurementPeriod, s.cfg.Serial.ReadTimeout)
	}
	return qpod.New(s.cfg.Serial.Port, dev.GatePeriod, dev.MeasurementPeriod, s.cfg.Serial.ReadTimeout)
}

func (s *appState) sourceName() string {
	if s.useMock {
		return "mocked device"
	}
	return s.cfg.Serial.Port
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.session != nil {
		state.closeSession()
		return
	}

	link := state.newLink()
	if err := link.Open(); err != nil {
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.sourceName(), err), state.window)
		return
	}

	sampler := acquisition.New(link, state.cfg)
	task := acquisition.NewTask(sampler, state.cfg)

	sampler.OnUpdate(func(ev acquisition.Event) {
		window := sampler.Window(ev.Timestamp)
		fyne.Do(func() {
			if state.updateLabels != nil {
				state.updateLabels(ev)
			}
			state.scopeWidget.UpdateData(window, ev.Rate)
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		link:    link,
		sampler: sampler,
		task:    task,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	state.session = sess

	task.StartAcquisition()
	go runAcquisition(ctx, state, sess)

	state.connectBtn.SetText("Disconnect")
	state.zeroBtn.Enable()
	state.statusLabel.SetText(fmt.Sprintf("Connected (%s)", state.sourceName()))
}

// runAcquisition drives the task until the session is stopped. Protocol and
// measurement errors skip the sample; I/O errors end the session.
func runAcquisition(ctx context.Context, state *appState, sess *session) {
	defer close(sess.done)

	for {
		frames, err := sess.task.AcquireDataElements(ctx)
		switch {
		case err == nil:
			for _, f := range frames {
				glog.V(1).Infof("Frame %d: %d values", f.Properties.FrameNumber, len(f.Data))
			}
			continue
		case ctx.Err() != nil, errors.Is(err, acquisition.ErrNotLive):
			return
		case errors.Is(err, qpod.ErrIO):
			glog.Errorf("Device I/O failed: %v", err)
			fyne.Do(func() {
				if state.session == sess {
					state.closeSession()
					dialog.ShowError(fmt.Errorf("lost connection to %s: %w", state.sourceName(), err), state.window)
				}
			})
			return
		default:
			glog.Warningf("Skipping sample: %v", err)
		}

		// Failed cycles skip the inter-sample delay; wait here instead
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay(state.cfg.Acquisition.Delay)):
		}
	}
}

func retryDelay(d time.Duration) time.Duration {
	if d < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}

// closeSession stops acquisition, waits for the goroutine and closes the
// link.
func (s *appState) closeSession() {
	sess := s.session
	if sess == nil {
		return
	}
	s.session = nil

	sess.task.StopAcquisition()
	sess.cancel()
	<-sess.done

	if err := sess.link.Close(); err != nil {
		glog.Warningf("Failed to close %s: %v", s.sourceName(), err)
	}

	if s.connectBtn != nil {
		s.connectBtn.SetText("Connect")
		s.zeroBtn.Disable()
		s.statusLabel.SetText(fmt.Sprintf("Disconnected (%s)", s.sourceName()))
	}
}

func handleZero(state *appState) {
	if state.session == nil {
		return
	}
	state.session.sampler.SetZero()
}

func (s *appState) setDensity(v float64) {
	if s.session != nil {
		if err := s.session.sampler.SetDensity(v); err != nil {
			glog.Warningf("Density rejected: %v", err)
			return
		}
	}
	s.cfg.Calibration.Density = v
	s.saveConfig()
}

func (s *appState) setZRatio(v float64) {
	if s.session != nil {
		if err := s.session.sampler.SetZRatio(v); err != nil {
			glog.Warningf("Z-ratio rejected: %v", err)
			return
		}
	}
	s.cfg.Calibration.ZRatio = v
	s.saveConfig()
}

func (s *appState) setTimeToShow(seconds float64) {
	s.cfg.Display.TimeToShow = seconds
	d := s.cfg.Display.Duration()
	if s.session != nil {
		s.session.sampler.SetTimeToShow(d)
	}
	if s.scopeWidget != nil {
		s.scopeWidget.SetTimeToShow(d)
	}
	s.saveConfig()
}

func (s *appState) saveConfig() {
	if err := s.cfg.Save(s.cfgPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), s.window)
	}
}
