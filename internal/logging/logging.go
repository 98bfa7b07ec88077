// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/flightcore/internal/config"
)

// Setup applies level and format from cfg to the standard logrus logger and,
// when LOG_SERIAL_PORT is set, mirrors every entry to that serial port. The
// returned closer releases the port; it is never nil.
func Setup(cfg *config.Config) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nopCloser{}, fmt.Errorf("logging: %w", err)
	}
	logrus.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.LogSerialPort == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.LogSerialPort,
		BaudRate:        uint(cfg.LogSerialBaud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nopCloser{}, fmt.Errorf("logging: open serial port %s: %w", cfg.LogSerialPort, err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, port))
	logrus.WithField("port", cfg.LogSerialPort).Debug("mirroring log to serial port")
	return port, nil
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// Discard returns an entry whose output is dropped. Used by tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
