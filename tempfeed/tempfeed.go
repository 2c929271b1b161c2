// Package tempfeed delivers temperature samples from a pub/sub broker (or
// an HTTP-polled alternative) to the control loop through a bounded
// channel, biased toward freshness: a full channel drops its oldest
// pending delivery rather than blocking the transport.
package tempfeed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hcit-labs/autoaircon/history"
)

// Delivery is one channel element. EndOfStream carries the transport's
// "data == 0 ends the stream" sentinel as an explicit tagged variant, so
// the control loop never inspects temperatures for it. A reading of
// exactly 0 is therefore delivered as EndOfStream, not as a Sample.
type Delivery struct {
	Sample      history.Sample
	EndOfStream bool
}

// Subscriber abstracts over the transport used to obtain samples, so the
// control loop can run against an MQTT broker or an HTTP-polled source
// interchangeably.
type Subscriber interface {
	// Start opens the underlying connection/ticker and begins delivering
	// samples to Samples(). It must not block past initial connection
	// setup.
	Start() error

	// Samples returns the channel deliveries arrive on. It is closed
	// when the subscriber is closed.
	Samples() <-chan Delivery

	// Close tears down the subscriber and closes the Samples channel.
	Close() error
}

// numericOrString decodes a JSON value that may be a bare number or a
// numeric string, per the broker payload's "data" field.
type numericOrString float64

func (n *numericOrString) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = numericOrString(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("tempfeed: data field is neither a number nor a string: %w", err)
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("tempfeed: data field %q is not numeric: %w", s, err)
	}
	*n = numericOrString(parsed)
	return nil
}

// payload is the wire shape of one broker message.
type payload struct {
	TS   float64         `json:"ts"`
	Data numericOrString `json:"data"`
}

// parsePayload decodes one broker message into a Delivery. A data value
// of exactly 0 is the shutdown sentinel.
func parsePayload(raw []byte) (Delivery, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Delivery{}, fmt.Errorf("tempfeed: malformed payload: %w", err)
	}
	temp := float64(p.Data)
	if temp == 0 {
		return Delivery{EndOfStream: true}, nil
	}
	return Delivery{Sample: history.Sample{TS: p.TS / 1000.0, Temp: temp}}, nil
}

// sendDropOldest pushes d onto ch without blocking; if ch is full, the
// oldest pending delivery is discarded to make room, biasing toward the
// freshest sample rather than backpressuring the transport.
func sendDropOldest(ch chan Delivery, d Delivery) {
	select {
	case ch <- d:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- d:
	default:
	}
}
