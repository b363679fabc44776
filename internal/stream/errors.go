package stream

import "fmt"

// TransportOp says where on the transport a fault happened. Open faults
// abort the connection attempt; read faults kill a running connection.
// Either way the fault is fatal only to that connection: the pipeline
// stays usable and a fresh Connect may follow.
type TransportOp string

const (
	OpOpen TransportOp = "open"
	OpRead TransportOp = "read"
)

// TransportError is a byte-transport fault tied to one connection
// target.
type TransportError struct {
	Op     TransportOp
	Target string // port path or replay file
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
