package stream

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DEFAULT_BAUD_RATE matches the headset's UART bridge. The acquisition
// stream runs at 21 kB/s, but the bridge is clocked high so frame bursts
// drain quickly.
const DEFAULT_BAUD_RATE = 3000000

// portReadTimeout bounds a blocking serial read so the reader loop can
// observe cancellation even when the device goes quiet.
const portReadTimeout = time.Second

// Transport is a byte source bound to one connection. Close must
// unblock any in-flight Read.
type Transport interface {
	io.ReadCloser
}

// PortOptions describes the serial connection parameters used when
// opening a headset port. The fields mirror the JSON accepted by the
// connect API so they can be passed through without translation.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DEFAULT_BAUD_RATE
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	return opts, nil
}

// SerialMode converts the options into the structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SerialTransport is a Transport backed by a real serial port.
type SerialTransport struct {
	port serial.Port
	name string
}

// OpenSerial opens the named port, flushes any stale bytes from both
// directions, and bounds reads with portReadTimeout.
func OpenSerial(name string, opts PortOptions) (*SerialTransport, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, &TransportError{Op: OpOpen, Target: name, Err: err}
	}
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		port.Close()
		return nil, &TransportError{Op: OpOpen, Target: name,
			Err: fmt.Errorf("set read timeout: %w", err)}
	}

	// Drop whatever accumulated while no reader was attached; a partial
	// frame here would just cost the synchronizer a resync.
	port.ResetInputBuffer()
	port.ResetOutputBuffer()

	return &SerialTransport{port: port, name: name}, nil
}

// Read reads available bytes. A timeout expiry surfaces as (0, nil).
func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

// Close releases the port and unblocks any pending Read.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}

// Name returns the port path this transport was opened on.
func (t *SerialTransport) Name() string {
	return t.name
}

// ListPorts enumerates the serial ports visible to the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// FindPreferredPort picks the first port that looks like a USB bridge,
// which is how the headset enumerates on every supported platform.
// Returns "" when nothing matches.
func FindPreferredPort(ports []string) string {
	for _, p := range ports {
		if strings.Contains(p, "usbmodem") || strings.Contains(p, "usbserial") || strings.Contains(p, "ttyUSB") || strings.Contains(p, "ttyACM") {
			return p
		}
	}
	return ""
}
