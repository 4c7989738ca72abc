// Package gateway owns the serial link to the hardware master and
// serialises every command/response exchange over it.
//
// The wire protocol is ASCII, one newline-terminated line per message:
//
//	g{channel},{pin}\n            read a sensor; reply is an integer or
//	                              "ERROR: Timeout, no response from slave"
//	s{channel},{pin},{value}\n    drive an actuator; reply is a raw ack line
//
// Exactly one exchange is in flight at a time. Callers submit requests to a
// single worker goroutine which serves them in submission order, so framing
// on the shared line can never interleave.
//
// A sensor that does not answer (the device's timeout line, or no reply
// before Config.ResponseTimeout) yields NaN with a nil error. Callers test
// for it with IsNoData. Transport failures fail only the current exchange;
// the port is closed and re-opened on the next one.
package gateway
