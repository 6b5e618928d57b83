package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// sampler passes num out of every den events. A zero ratio passes everything.
type sampler struct {
	num, den atomic.Int64
	seen     atomic.Int64
}

func newSampler(num, den int) *sampler {
	s := &sampler{}
	s.Set(num, den)
	return s
}

func (s *sampler) Set(num, den int) {
	if num <= 0 || den <= 0 {
		num, den = 0, 0
	}
	if num > den {
		num = den
	}
	s.num.Store(int64(num))
	s.den.Store(int64(den))
	s.seen.Store(0)
}

func (s *sampler) Allow() bool {
	den := s.den.Load()
	if den == 0 {
		return true
	}
	return (s.seen.Add(1)-1)%den < s.num.Load()
}

// parseRatio reads "n/d" or a bare "d" meaning 1/d. Anything else, or a
// non-positive value, yields 0/0.
func parseRatio(v string) (int, int) {
	v = strings.TrimSpace(v)
	if n, d, ok := strings.Cut(v, "/"); ok {
		num, err1 := strconv.Atoi(strings.TrimSpace(n))
		den, err2 := strconv.Atoi(strings.TrimSpace(d))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return num, den
	}
	den, err := strconv.Atoi(v)
	if err != nil || den <= 0 {
		return 0, 0
	}
	return 1, den
}
