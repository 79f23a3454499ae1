package housekeeping

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a cleanup delay that can mix calendar units (years, months,
// days) with clock units. Calendar units follow the calendar when added to
// an instant, so P1M added to 31 January lands in March.
//
// The textual form is the ISO-8601 duration format used by the table
// parameters, e.g. "P3D", "PT3H", "P4M" or "P1DT12H".
type Period struct {
	Years  int
	Months int
	Days   int
	Clock  time.Duration
}

const maxClock = time.Duration(math.MaxInt64)

var periodPattern = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d{1,9})?)S)?)?$`)

// ParsePeriod parses an ISO-8601 duration such as "P30D" or "PT3H".
// Weeks are converted to days.
func ParsePeriod(s string) (Period, error) {
	text := strings.ToUpper(strings.TrimSpace(s))
	m := periodPattern.FindStringSubmatch(text)
	if m == nil || text == "P" || strings.HasSuffix(text, "T") {
		return Period{}, fmt.Errorf("housekeeping: invalid period %q", s)
	}

	var n [6]int64
	for i := range n {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseInt(m[i+1], 10, 32)
		if err != nil {
			return Period{}, fmt.Errorf("housekeeping: invalid period %q: %w", s, err)
		}
		n[i] = v
	}
	days := n[2]*7 + n[3]
	if days > math.MaxInt32 {
		return Period{}, fmt.Errorf("housekeeping: invalid period %q: days out of range", s)
	}

	p := Period{Years: int(n[0]), Months: int(n[1]), Days: int(days)}
	if n[4] > int64(maxClock/time.Hour) {
		return Period{}, fmt.Errorf("housekeeping: invalid period %q: hours out of range", s)
	}
	p.Clock = time.Duration(n[4]) * time.Hour
	if n[5] > int64((maxClock-p.Clock)/time.Minute) {
		return Period{}, fmt.Errorf("housekeeping: invalid period %q: minutes out of range", s)
	}
	p.Clock += time.Duration(n[5]) * time.Minute
	if m[7] != "" {
		secs, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return Period{}, fmt.Errorf("housekeeping: invalid period %q: %w", s, err)
		}
		if secs >= (maxClock - p.Clock).Seconds() {
			return Period{}, fmt.Errorf("housekeeping: invalid period %q: seconds out of range", s)
		}
		p.Clock += time.Duration(secs * float64(time.Second))
	}
	return p, nil
}

// MustParsePeriod is like ParsePeriod but panics on error.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Days returns a period of n days.
func Days(n int) Period {
	return Period{Days: n}
}

// Hours returns a period of n hours.
func Hours(n int) Period {
	return Period{Clock: time.Duration(n) * time.Hour}
}

// IsZero reports whether the period adds nothing.
func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0 && p.Clock == 0
}

// AddTo returns t shifted by the period: calendar units first, then clock units.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.Years, p.Months, p.Days).Add(p.Clock)
}

// String returns the ISO-8601 form. The zero period is "PT0S".
func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteByte('P')
	if p.Years != 0 {
		fmt.Fprintf(&b, "%dY", p.Years)
	}
	if p.Months != 0 {
		fmt.Fprintf(&b, "%dM", p.Months)
	}
	if p.Days != 0 {
		fmt.Fprintf(&b, "%dD", p.Days)
	}
	if p.Clock != 0 {
		b.WriteByte('T')
		rest := p.Clock
		if h := rest / time.Hour; h != 0 {
			fmt.Fprintf(&b, "%dH", h)
			rest -= h * time.Hour
		}
		if m := rest / time.Minute; m != 0 {
			fmt.Fprintf(&b, "%dM", m)
			rest -= m * time.Minute
		}
		if rest != 0 {
			b.WriteString(strconv.FormatFloat(rest.Seconds(), 'f', -1, 64))
			b.WriteByte('S')
		}
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
