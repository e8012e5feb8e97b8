package registry

import "github.com/ncog-id/ncog/pkg/protocol"

// NetworkTiming tracks a session's link quality as exponential moving
// averages weighted 4:1 in favor of history.
type NetworkTiming struct {
	averageRoundtrip      float64
	averageTimestampDelta float64
	hasSample             bool
}

// Update folds one pong into the averages. originalTimestamp is the server
// time the ping was sent; timestamp is the client's clock when it replied.
func (t *NetworkTiming) Update(originalTimestamp, timestamp float64) {
	now := protocol.Timestamp()
	roundtrip := now - originalTimestamp
	delta := (now - timestamp) - roundtrip/2

	if !t.hasSample {
		t.averageRoundtrip = roundtrip
		t.averageTimestampDelta = delta
		t.hasSample = true
		return
	}
	t.averageRoundtrip = (t.averageRoundtrip*4 + roundtrip) / 5
	t.averageTimestampDelta = (t.averageTimestampDelta*4 + delta) / 5
}

// AverageRoundtrip returns the smoothed roundtrip in seconds.
func (t *NetworkTiming) AverageRoundtrip() float64 {
	return t.averageRoundtrip
}

// AverageTimestampDelta returns the smoothed client clock offset in seconds.
func (t *NetworkTiming) AverageTimestampDelta() float64 {
	return t.averageTimestampDelta
}
