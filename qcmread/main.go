// Command qcmread opens a QPOD controller, prints one thickness reading and
// closes the port.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/itohio/goqcm/pkg/acquisition"
	"github.com/itohio/goqcm/pkg/config"
	"github.com/itohio/goqcm/pkg/qpod"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
		frameFlag  = flag.Bool("frame", false, "Acquire one frame and print it as YAML")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
		timeout    = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()
	defer glog.Flush()

	if *listFlag {
		if err := listPorts(); err != nil {
			glog.Errorf("%v", err)
			glog.Flush()
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		glog.Exitf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, os.Stdout, cfg, *mockFlag, *frameFlag); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func listPorts() error {
	ports, err := qpod.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Printf("%s\t%s\n", p.Name, p.Description)
	}
	return nil
}

func newLink(cfg *config.Config, useMock bool) qpod.Link {
	dev := cfg.Device
	if useMock {
		mock := qpod.NewMock(&cfg.Mock)
		return qpod.NewWithOpener(mock.Opener(), "mock", dev.GatePeriod, dev.MeasurementPeriod, cfg.Serial.ReadTimeout)
	}
	return qpod.New(cfg.Serial.Port, dev.GatePeriod, dev.MeasurementPeriod, cfg.Serial.ReadTimeout)
}

func run(ctx context.Context, w io.Writer, cfg *config.Config, useMock, dumpFrame bool) error {
	link := newLink(cfg, useMock)
	if err := link.Open(); err != nil {
		return err
	}
	defer func() {
		if err := link.Close(); err != nil {
			glog.Warningf("Close failed: %v", err)
		}
	}()

	// One-shot: no inter-sample delay
	cfg.Acquisition.Delay = 0
	sampler := acquisition.New(link, cfg)

	if !dumpFrame {
		reading, err := sampler.ReadThickness(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "thickness: %.2f Å\nfrequency: %.3f Hz\n", reading.Thickness, reading.Frequency)
		return err
	}

	task := acquisition.NewTask(sampler, cfg)
	task.StartAcquisition()
	defer task.StopAcquisition()

	frames, err := task.AcquireDataElements(ctx)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(frames)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	_, err = w.Write(out)
	return err
}
