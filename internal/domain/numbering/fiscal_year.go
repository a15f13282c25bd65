package numbering

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// FiscalYearStartMonth is the first month of the financial year.
const FiscalYearStartMonth = time.April

var fiscalYearPattern = regexp.MustCompile(`^(\d{2})-(\d{2})$`)

// FiscalYear is a financial year label such as "25-26".
type FiscalYear string

// FiscalYearOf returns the financial year containing t.
// April onwards belongs to year/year+1, January to March to year-1/year.
func FiscalYearOf(t time.Time) FiscalYear {
	year := t.Year()
	if t.Month() >= FiscalYearStartMonth {
		return fiscalYearFromStart(year)
	}
	return fiscalYearFromStart(year - 1)
}

func fiscalYearFromStart(startYear int) FiscalYear {
	return FiscalYear(fmt.Sprintf("%02d-%02d", startYear%100, (startYear+1)%100))
}

// ParseFiscalYear validates s and returns it as a FiscalYear.
// The second half must follow the first, so "99-00" is valid and "25-27" is not.
func ParseFiscalYear(s string) (FiscalYear, error) {
	m := fiscalYearPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: financial year %q must look like YY-YY", ErrInvalidInput, s)
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	if (first+1)%100 != second {
		return "", fmt.Errorf("%w: financial year %q does not span consecutive years", ErrInvalidInput, s)
	}
	return FiscalYear(s), nil
}

// String implements fmt.Stringer
func (fy FiscalYear) String() string {
	return string(fy)
}

// StartDate returns 1 April of the first year, resolved within the century of ref.
func (fy FiscalYear) StartDate(ref time.Time, loc *time.Location) time.Time {
	yy, _ := strconv.Atoi(string(fy)[:2])
	century := ref.Year() - ref.Year()%100
	year := century + yy
	// "99-00" seen from 2000 belongs to 1999
	if year > ref.Year()+1 {
		year -= 100
	}
	return time.Date(year, FiscalYearStartMonth, 1, 0, 0, 0, 0, loc)
}

// EndDate returns the last instant of the financial year (31 March, 23:59:59.999999999).
func (fy FiscalYear) EndDate(ref time.Time, loc *time.Location) time.Time {
	return fy.StartDate(ref, loc).AddDate(1, 0, 0).Add(-time.Nanosecond)
}
