package campaign

import "time"

// QuietHours is a daily window in which nothing is sent. Start is inclusive,
// End exclusive; a window with Start > End wraps past midnight. Start == End
// disables the window.
type QuietHours struct {
	Enabled  bool
	Start    int
	End      int
	Location *time.Location
}

func (q QuietHours) local(t time.Time) time.Time {
	if q.Location == nil {
		return t
	}
	return t.In(q.Location)
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled || q.Start == q.End {
		return false
	}
	h := q.local(t).Hour()
	if q.Start > q.End {
		return h >= q.Start || h < q.End
	}
	return h >= q.Start && h < q.End
}

// Remaining returns the time from t until the window ends, or zero when t
// is outside it.
func (q QuietHours) Remaining(t time.Time) time.Duration {
	if !q.Contains(t) {
		return 0
	}
	lt := q.local(t)
	end := time.Date(lt.Year(), lt.Month(), lt.Day(), q.End, 0, 0, 0, lt.Location())
	if !end.After(lt) {
		end = end.AddDate(0, 0, 1)
	}
	return end.Sub(lt)
}
