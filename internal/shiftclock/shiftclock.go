package shiftclock

import (
	"errors"
	"fmt"
	"time"

	"rotikita/backend/internal/domain"
)

// ErrAmbiguousWindow indicates a boundary-configuration bug: the resolved
// window does not contain the instant it was resolved for. The inclusive
// start / exclusive end rule makes this structurally impossible with valid
// boundaries, so callers treat it as fatal rather than correcting it.
var ErrAmbiguousWindow = errors.New("shiftclock: resolved window does not contain instant")

// Boundaries is the single configured shift-boundary pair. The morning shift
// runs [MorningHour, NightHour) and the night shift wraps midnight as
// [NightHour, next-day MorningHour). The reference deployment uses 6/18; a
// secondary operational variant uses 10/22.
type Boundaries struct {
	MorningHour int
	NightHour   int
}

func (b Boundaries) Validate() error {
	if b.MorningHour < 0 || b.MorningHour > 23 || b.NightHour < 0 || b.NightHour > 23 {
		return fmt.Errorf("shiftclock: boundary hours out of range: %d/%d", b.MorningHour, b.NightHour)
	}
	if b.MorningHour >= b.NightHour {
		return fmt.Errorf("shiftclock: morning boundary %d must precede night boundary %d", b.MorningHour, b.NightHour)
	}
	return nil
}

const dateLayout = "2006-01-02"

// Resolve maps an instant to the shift window containing it. Pure: no I/O,
// no global state. Windows are contiguous and non-overlapping over a 24-hour
// cycle; exactly one window contains any instant.
func Resolve(now time.Time, loc *time.Location, b Boundaries) (domain.ShiftWindow, error) {
	if err := b.Validate(); err != nil {
		return domain.ShiftWindow{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	year, month, day := local.Date()
	morningStart := time.Date(year, month, day, b.MorningHour, 0, 0, 0, loc)
	nightStart := time.Date(year, month, day, b.NightHour, 0, 0, 0, loc)

	var window domain.ShiftWindow
	switch {
	case local.Before(morningStart):
		// Tail of the overnight shift: it started yesterday evening.
		start := nightStart.AddDate(0, 0, -1)
		window = domain.ShiftWindow{
			ShiftID: domain.ShiftNight,
			Start:   start,
			End:     morningStart,
			Date:    start.Format(dateLayout),
		}
	case local.Before(nightStart):
		window = domain.ShiftWindow{
			ShiftID: domain.ShiftMorning,
			Start:   morningStart,
			End:     nightStart,
			Date:    morningStart.Format(dateLayout),
		}
	default:
		window = domain.ShiftWindow{
			ShiftID: domain.ShiftNight,
			Start:   nightStart,
			End:     morningStart.AddDate(0, 0, 1),
			Date:    nightStart.Format(dateLayout),
		}
	}

	if !window.Contains(local) {
		return domain.ShiftWindow{}, fmt.Errorf("%w: %s not in [%s, %s)",
			ErrAmbiguousWindow, local.Format(time.RFC3339), window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	}
	return window, nil
}

// Next returns the window immediately following w. The start of the next
// window always equals w.End.
func Next(w domain.ShiftWindow, b Boundaries) (domain.ShiftWindow, error) {
	return Resolve(w.End, w.Start.Location(), b)
}

// PreviousCycleStart returns the start of the same shift one 24-hour cycle
// earlier. The source selector uses it to probe the extended archived range
// for the overnight window.
func PreviousCycleStart(w domain.ShiftWindow) time.Time {
	return w.Start.AddDate(0, 0, -1)
}
