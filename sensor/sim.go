package sensor

import (
	"context"
	"sync"
)

// Sim is a deterministic sampler for hosts without a sensor. Temperature
// walks a triangle wave of ±Swing deci-°C around BaseDeciC; humidity moves
// the opposite way around BaseRHx100.
type Sim struct {
	BaseDeciC  int32
	BaseRHx100 int32
	Swing      int32
	Fail       error // returned instead of a reading when set

	mu  sync.Mutex
	seq uint32
}

func NewSim() *Sim {
	return &Sim{BaseDeciC: 215, BaseRHx100: 4500, Swing: 20}
}

func (s *Sim) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return Reading{}, s.Fail
	}
	s.seq++
	d := triangle(int32(s.seq), s.Swing)
	return envReading((s.BaseDeciC+d)*100, s.BaseRHx100-d*10, s.seq), nil
}

// triangle maps n onto 0, 1 .. a, a-1 .. -a, -a+1 .. 0 with period 4a.
func triangle(n, a int32) int32 {
	if a <= 0 {
		return 0
	}
	p := n % (4 * a)
	switch {
	case p <= a:
		return p
	case p <= 3*a:
		return 2*a - p
	default:
		return p - 4*a
	}
}
