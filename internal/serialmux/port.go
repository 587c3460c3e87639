package serialmux

import "io"

// SerialPorter is the minimal surface the mux needs from a serial port.
// Real ports come from go.bug.st/serial; tests supply TestableSerialPort.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
