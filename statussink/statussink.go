/*Package statussink publishes controller state changes to a remote TCP
status sink, one JSON object per line.

It is a thin wrapper over comm.RemoteDevice: on each Publish call it opens
the connection if needed (reconnecting with backoff), writes one JSON line,
and leaves the connection open for the next publish. A publish failure is
logged and swallowed -- a status sink outage must never back-pressure the
control loop.
*/
package statussink

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/hcit-labs/autoaircon/comm"
)

// Update carries the subset of controller state that changed since the
// last publish. Fields left nil/zero are omitted from the wire message --
// the sink only learns about what actually changed, matching the Python
// original's field-by-field cmd_q_* publishing.
type Update struct {
	Active      *bool    `json:"active,omitempty"`
	Ttemp       *float64 `json:"ttemp,omitempty"`
	Rtemp       *float64 `json:"rtemp,omitempty"`
	Temp        *float64 `json:"temp,omitempty"`
	Kp          *float64 `json:"kp,omitempty"`
	Ki          *float64 `json:"ki,omitempty"`
	Kd          *float64 `json:"kd,omitempty"`
	KpP         *float64 `json:"kp_p,omitempty"`
	KiI         *float64 `json:"ki_i,omitempty"`
	KdD         *float64 `json:"kd_d,omitempty"`
	PID         *float64 `json:"pid,omitempty"`
	IntervalMin *int     `json:"interval_min,omitempty"`
}

// Empty reports whether u carries no changed fields, in which case
// Publish is a no-op.
func (u Update) Empty() bool {
	return u.Active == nil && u.Ttemp == nil && u.Rtemp == nil && u.Temp == nil &&
		u.Kp == nil && u.Ki == nil && u.Kd == nil &&
		u.KpP == nil && u.KiI == nil && u.KdD == nil && u.PID == nil &&
		u.IntervalMin == nil
}

// Client is a one-way JSON-lines publisher to a status sink.
type Client struct {
	mu  sync.Mutex
	dev comm.RemoteDevice
}

// New returns a Client addressing host:port. The connection is opened
// lazily on the first Publish call.
func New(addr string) *Client {
	return &Client{dev: comm.NewRemoteDevice(addr, &comm.Terminators{Rx: '\n', Tx: '\n'})}
}

// Publish serializes u to JSON and writes it as a single line. Errors are
// logged, not returned -- the caller (the control loop) must not stall or
// abort because the sink is unreachable.
func (c *Client) Publish(u Update) {
	if u.Empty() {
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		log.Printf("statussink: marshal error: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dev.Open(); err != nil {
		log.Printf("statussink: open %s: %v", c.dev.Addr, err)
		return
	}
	if err := c.dev.Send(b); err != nil {
		log.Printf("statussink: send to %s: %v", c.dev.Addr, err)
		c.dev.Close()
	}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Close()
}
