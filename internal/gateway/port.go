package gateway

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// defaultReadPoll is used when no port read timeout is configured; a port
// that blocks forever would stop the exchange loop seeing its deadline.
const defaultReadPoll = 200 * time.Millisecond

// Port is the byte stream to the hardware master. A Read that times out
// returns 0, nil.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Opener opens the Port. The gateway calls it lazily before the first
// exchange and again after any transport failure.
type Opener func() (Port, error)

// SerialOpener opens device at baud, 8N1, with readPoll as the per-read
// timeout.
func SerialOpener(device string, baud int, readPoll time.Duration) Opener {
	if readPoll <= 0 {
		readPoll = defaultReadPoll
	}
	return func() (Port, error) {
		p, err := serial.Open(device, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, err
		}
		if err := p.SetReadTimeout(readPoll); err != nil {
			p.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("setting read timeout: %w", err)
		}
		return p, nil
	}
}
