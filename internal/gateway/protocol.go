package gateway

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// timeoutReply is sent by the master when the addressed slave is silent.
const timeoutReply = "ERROR: Timeout, no response from slave"

// Address locates a device on the bus.
type Address struct {
	Channel int
	Pin     int
}

func (a Address) String() string {
	return fmt.Sprintf("%d,%d", a.Channel, a.Pin)
}

func readFrame(a Address) []byte {
	return []byte("g" + a.String() + "\n")
}

func writeFrame(a Address, value int) []byte {
	return []byte("s" + a.String() + "," + strconv.Itoa(value) + "\n")
}

type lineKind int

const (
	lineMalformed lineKind = iota
	lineValue
	lineTimeout
)

// classifyLine interprets one reply line to a read request.
func classifyLine(line string) (lineKind, float64) {
	line = strings.TrimSpace(line)
	if strings.Contains(line, timeoutReply) {
		return lineTimeout, math.NaN()
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return lineMalformed, 0
	}
	return lineValue, float64(v)
}

// IsNoData reports whether a value returned by ReadSensor is the
// no-response sentinel.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}
