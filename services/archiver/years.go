package archiver

import "time"

// invoices for orders placed near year-end are often issued weeks into
// the next year, so the previous year stays in the window for the
// first 8 weeks.
const yearGraceDays = 56

// YearWindow computes which calendar years a run must scan. now is
// evaluated in the storefront timezone; floor is an optional minimum
// year (0 = unset). The result is ascending and deterministic.
func YearWindow(now time.Time, floor int) []int {
	year := now.Year()

	if floor > 0 {
		if floor >= year {
			return []int{year}
		}
		years := make([]int, 0, year-floor+1)
		for y := floor; y <= year; y++ {
			years = append(years, y)
		}
		return years
	}

	if now.YearDay() <= yearGraceDays {
		return []int{year - 1, year}
	}
	return []int{year}
}
