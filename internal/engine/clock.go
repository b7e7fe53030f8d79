package engine

import (
	"time"

	"github.com/alejandrodnm/backalpha/internal/errs"
	"github.com/alejandrodnm/backalpha/internal/ports"
)

// TickKind distinguishes the three events a SimulationClock emits per
// trading session.
type TickKind int

const (
	SessionStart TickKind = iota
	Bar
	SessionEnd
)

func (k TickKind) String() string {
	switch k {
	case SessionStart:
		return "session_start"
	case Bar:
		return "bar"
	case SessionEnd:
		return "session_end"
	default:
		return "unknown"
	}
}

// Tick is one (timestamp, kind) event the engine loop consumes.
type Tick struct {
	TS   time.Time
	Kind TickKind
}

// SimulationClock enumerates every tick between start and end according
// to the calendar's trading days and session open/close times. It never
// emits ticks out of timestamp order.
type SimulationClock struct {
	calendar ports.TradingCalendar
	freq     ports.Frequency
	start    time.Time
	end      time.Time
}

// NewSimulationClock builds a clock over [start, end] at freq
// (ports.Daily or ports.Minute — ports.Second is rejected, sub-minute
// data being out of scope).
func NewSimulationClock(calendar ports.TradingCalendar, freq ports.Frequency, start, end time.Time) (*SimulationClock, error) {
	if freq == ports.Second {
		return nil, errs.New(errs.UnsupportedFrequency, "engine: second frequency is not supported")
	}
	return &SimulationClock{calendar: calendar, freq: freq, start: start, end: end}, nil
}

// Ticks enumerates every SessionStart/Bar/SessionEnd event in the
// clock's range, in timestamp order; ticks can share a timestamp (the
// daily Bar and the SessionEnd both fall at session close). Daily
// frequency emits exactly one Bar per session, at session close;
// minute frequency emits one Bar per minute from session open through
// session close inclusive.
func (c *SimulationClock) Ticks() ([]Tick, error) {
	days := c.calendar.TradingDaysBetween(c.start, c.end)
	ticks := make([]Tick, 0, len(days)*2)

	for _, day := range days {
		sess, ok := c.calendar.SessionTimes(day)
		if !ok {
			continue
		}
		ticks = append(ticks, Tick{TS: sess.Open, Kind: SessionStart})

		switch c.freq {
		case ports.Daily:
			ticks = append(ticks, Tick{TS: sess.Close, Kind: Bar})
		case ports.Minute:
			for ts := sess.Open; !ts.After(sess.Close); ts = ts.Add(time.Minute) {
				ticks = append(ticks, Tick{TS: ts, Kind: Bar})
			}
		default:
			return nil, errs.New(errs.InvalidFrequency, "engine: unsupported clock frequency %q", c.freq)
		}

		ticks = append(ticks, Tick{TS: sess.Close, Kind: SessionEnd})
	}
	return ticks, nil
}
