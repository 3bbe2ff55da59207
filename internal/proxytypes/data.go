// Package proxytypes holds the proxy pool's shared data model: the record
// arena referenced by URL key from the rotator, health checker, and premium
// manager, so none of them hold a mutable reference to another's state.
package proxytypes

import "time"

// Protocol is the proxy transport scheme.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS5 Protocol = "socks5"
)

// Descriptor identifies one proxy endpoint. URL is the unique identity key
// used to look records up in the rotator's arena.
type Descriptor struct {
	URL      string
	Protocol Protocol
	Country  string
	Region   string
	ISP      string

	ExpiresAt *time.Time
	CreatedAt time.Time

	CostPerGB              float64
	MonthlyTrafficLimitGB   float64
	UsedTrafficGB          float64
}

// Expired reports whether the descriptor has passed its expiry, if any.
func (d Descriptor) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

const (
	responseTimeSampleCap = 100
	failureReasonSampleCap = 20
)

// Stats is the mutable health/performance record for one proxy, updated by
// the rotator and the health checker through Arena.With.
type Stats struct {
	TotalRequests       int
	Successful          int
	Failed              int
	ConsecutiveFailures int

	recentResponseTimes []time.Duration
	recentFailures      []string

	AvgResponseTime time.Duration
	SuccessRate     float64
	HealthScore     float64

	IsBurned   bool
	BurnReason string
}

// RecordSuccess folds one successful attempt into the bounded samples and
// recomputes the derived scalars.
func (s *Stats) RecordSuccess(rt time.Duration) {
	s.TotalRequests++
	s.Successful++
	s.ConsecutiveFailures = 0
	s.pushResponseTime(rt)
	s.recompute()
}

// RecordFailure folds one failed attempt into the bounded samples and
// recomputes the derived scalars.
func (s *Stats) RecordFailure(reason string) {
	s.TotalRequests++
	s.Failed++
	s.ConsecutiveFailures++
	s.pushFailure(reason)
	s.recompute()
}

func (s *Stats) pushResponseTime(rt time.Duration) {
	s.recentResponseTimes = append(s.recentResponseTimes, rt)
	if len(s.recentResponseTimes) > responseTimeSampleCap {
		s.recentResponseTimes = s.recentResponseTimes[len(s.recentResponseTimes)-responseTimeSampleCap:]
	}
}

func (s *Stats) pushFailure(reason string) {
	s.recentFailures = append(s.recentFailures, reason)
	if len(s.recentFailures) > failureReasonSampleCap {
		s.recentFailures = s.recentFailures[len(s.recentFailures)-failureReasonSampleCap:]
	}
}

// RecentFailures returns a copy of the bounded recent-failure-reason ring.
func (s *Stats) RecentFailures() []string {
	out := make([]string, len(s.recentFailures))
	copy(out, s.recentFailures)
	return out
}

func (s *Stats) recompute() {
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalRequests)
	}
	if n := len(s.recentResponseTimes); n > 0 {
		var sum time.Duration
		for _, d := range s.recentResponseTimes {
			sum += d
		}
		s.AvgResponseTime = sum / time.Duration(n)
	}

	if s.IsBurned {
		s.HealthScore = 0
		return
	}

	rtScore := 1.0
	if s.AvgResponseTime > 0 {
		rtScore = float64(5*time.Second) / float64(s.AvgResponseTime)
		if rtScore > 1 {
			rtScore = 1
		}
	}
	uptime := 1.0
	if s.TotalRequests > 0 {
		uptime = 1 - float64(s.ConsecutiveFailures)/float64(s.TotalRequests+1)
		if uptime < 0 {
			uptime = 0
		}
	}
	s.HealthScore = 0.5*s.SuccessRate + 0.3*rtScore + 0.2*uptime
}

// Burn marks the proxy permanently unhealthy. Idempotent.
func (s *Stats) Burn(reason string) {
	s.IsBurned = true
	s.BurnReason = reason
	s.HealthScore = 0
}

// Record is one arena entry: the descriptor plus its mutable stats, the
// single unit the rotator, health checker, and premium manager all
// reference by URL key instead of holding direct pointers to each other.
type Record struct {
	Descriptor Descriptor
	Stats      Stats
}
