package sensor

import (
	"context"
	"sync"

	"nodelog/errcode"
	"nodelog/x/mathx"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/shtc3"
)

// SHTC3 samples temperature and humidity. The pair is deci-°C (high half)
// and RH×100 (low half); the metric counts samples taken since boot so the
// receiver can spot gaps.
type SHTC3 struct {
	mu  sync.Mutex
	drv shtc3.Device
	seq uint32
}

func NewSHTC3(bus drivers.I2C) *SHTC3 {
	return &SHTC3{drv: shtc3.New(bus)}
}

func (s *SHTC3) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Wake, read, sleep.
	_ = s.drv.WakeUp()
	defer func() { _ = s.drv.Sleep() }()

	tmc, rhx100, err := s.drv.ReadTemperatureHumidity()
	if err != nil {
		return Reading{}, &errcode.E{C: errcode.Error, Op: "shtc3", Err: err}
	}
	s.seq++
	return envReading(int32(tmc), int32(rhx100), s.seq), nil
}

// envReading converts milli-°C and RH×100 into a Reading, clamping both.
func envReading(tmc, rhx100 int32, seq uint32) Reading {
	decic := mathx.Clamp(tmc/100, -32768, 32767)
	rh := mathx.Clamp(rhx100, 0, 10000)
	return Reading{Pair: PackPair(int16(decic), int16(rh)), Metric: seq}
}
