package duration

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultDays is used when no amount and unit can be found in the text.
const DefaultDays = 1

// MaxDays is the longest duration ParseDays accepts, about 2700 years. Longer end dates cannot be
// stored.
const MaxDays = 1_000_000

// ErrTooLong is returned by ParseDays when the duration exceeds MaxDays.
var ErrTooLong = errors.New("duration is too long")

var (
	pairRegex = regexp.MustCompile(`(\d+)\s*([\p{L}]+)`)

	unitDays = map[string]int{
		"d": 1, "day": 1, "days": 1, "j": 1, "jour": 1, "jours": 1,
		"w": 7, "week": 7, "weeks": 7, "semaine": 7, "semaines": 7,
		"m": 30, "month": 30, "months": 30, "mois": 30,
		"y": 365, "year": 365, "years": 365, "an": 365, "ans": 365, "année": 365, "années": 365,
	}
)

// ParseDays resolves a free text duration such as "3 days", "2 weeks" or "1 month et 2 jours" to a
// number of days. Every amount and unit pair found is summed. Text with no recognizable pair is
// DefaultDays. A sum over MaxDays fails with ErrTooLong.
func ParseDays(text string) (int, error) {
	total := 0
	found := false

	for _, m := range pairRegex.FindAllStringSubmatch(strings.ToLower(text), -1) {
		mult, ok := unitDays[m[2]]
		if !ok {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err != nil || n > (MaxDays-total)/mult {
			return 0, fmt.Errorf("%w: %q is more than %d days", ErrTooLong, text, MaxDays)
		}

		total += n * mult
		found = true
	}

	if !found {
		return DefaultDays, nil
	}
	return total, nil
}

// EndAt returns the end of an absence of the given number of days starting at start. An extra day
// is added so that the last calendar day is fully included.
func EndAt(start time.Time, days int) time.Time {
	return start.AddDate(0, 0, days+1)
}
