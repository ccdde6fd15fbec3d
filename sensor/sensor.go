// Package sensor turns environmental readings into log records.
package sensor

import (
	"context"
	"time"

	"nodelog/flashlog"
)

// Reading is one sample: a packed metric pair and a secondary metric.
type Reading struct {
	Pair   uint32
	Metric uint32
}

// Sampler acquires one reading. Implementations may block on a bus
// transaction and should honour ctx where they can.
type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// Clock returns the wall time used to stamp records.
type Clock func() time.Time

// PackDate encodes t as YYYYMMDD.
func PackDate(t time.Time) uint32 {
	y, m, d := t.Date()
	return uint32(y)*10000 + uint32(m)*100 + uint32(d)
}

// PackTime encodes t as HHMMSS.
func PackTime(t time.Time) uint32 {
	h, m, s := t.Clock()
	return uint32(h)*10000 + uint32(m)*100 + uint32(s)
}

// PackPair stores hi in the upper and lo in the lower 16 bits.
func PackPair(hi, lo int16) uint32 {
	return uint32(uint16(hi))<<16 | uint32(uint16(lo))
}

func UnpackPair(v uint32) (hi, lo int16) {
	return int16(v >> 16), int16(v)
}

// UnpackStamp is the inverse of PackDate and PackTime, in UTC.
func UnpackStamp(date, clock uint32) time.Time {
	return time.Date(
		int(date/10000), time.Month(date/100%100), int(date%100),
		int(clock/10000), int(clock/100%100), int(clock%100), 0, time.UTC)
}

// NewRecord stamps r with t.
func NewRecord(t time.Time, r Reading) flashlog.Record {
	return flashlog.Record{PackDate(t), PackTime(t), r.Pair, r.Metric}
}
