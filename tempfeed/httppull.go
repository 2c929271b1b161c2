package tempfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/brandondube/ringo"

	"github.com/hcit-labs/autoaircon/history"
)

// HTTPPullSubscriber polls a URL on a fixed interval as an alternative to
// an MQTT broker, for deployments with no broker available. Each GET is
// expected to return the same { "ts": <ms>, "data": <number|string> }
// payload shape as the broker ingest path.
type HTTPPullSubscriber struct {
	url    string
	ticker *time.Ticker
	stop   chan struct{}
	client *http.Client

	ch chan Delivery

	rawTemp ringo.CircleF64
	rawTime ringo.CircleTime
}

// NewHTTPPullSubscriber returns a subscriber that GETs url every interval.
func NewHTTPPullSubscriber(url string, interval time.Duration) *HTTPPullSubscriber {
	s := &HTTPPullSubscriber{
		url:    url,
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
		client: &http.Client{Timeout: 5 * time.Second},
		ch:     make(chan Delivery, DefaultChannelCapacity),
	}
	s.rawTemp.Init(diagnosticRingCapacity)
	s.rawTime.Init(diagnosticRingCapacity)
	return s
}

// Start begins polling in a background goroutine.
func (s *HTTPPullSubscriber) Start() error {
	go s.run()
	return nil
}

func (s *HTTPPullSubscriber) run() {
	for {
		select {
		case t := <-s.ticker.C:
			s.poll(t)
		case <-s.stop:
			return
		}
	}
}

func (s *HTTPPullSubscriber) poll(at time.Time) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		log.Printf("tempfeed: http poll %s: %v", s.url, err)
		return
	}
	defer resp.Body.Close()

	var p payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		log.Printf("tempfeed: http poll %s: decode: %v", s.url, err)
		return
	}
	temp := float64(p.Data)
	d := Delivery{Sample: history.Sample{TS: p.TS / 1000.0, Temp: temp}}
	if temp == 0 {
		d = Delivery{EndOfStream: true}
	}

	s.rawTemp.Append(temp)
	s.rawTime.Append(at)
	sendDropOldest(s.ch, d)
}

// Samples implements Subscriber.
func (s *HTTPPullSubscriber) Samples() <-chan Delivery {
	return s.ch
}

// Close implements Subscriber.
func (s *HTTPPullSubscriber) Close() error {
	s.ticker.Stop()
	close(s.stop)
	close(s.ch)
	return nil
}

// RecentRaw returns the raw polled temperature and poll-time samples
// retained for reconnect diagnostics.
func (s *HTTPPullSubscriber) RecentRaw() ([]float64, []time.Time) {
	return s.rawTemp.Contiguous(), s.rawTime.Contiguous()
}

