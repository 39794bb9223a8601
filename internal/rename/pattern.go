package rename

import (
	"regexp"
	"strconv"
	"time"
)

// Filename timestamp patterns, tried in order. Four digits mark the
// year on either side of a separated date, so 2024-01-31 and
// 31-01-2024 are both recognized. A date without a time of day gets
// noon, which keeps the renamed file sorted into the right day without
// pretending to know the hour.
var filenamePatterns = []struct {
	re        *regexp.Regexp
	yearFirst bool
	hasTime   bool
}{
	{regexp.MustCompile(`(?:^|[^0-9])(\d{4})(\d{2})(\d{2})[_-](\d{2})(\d{2})(\d{2})(?:[^0-9]|$)`), true, true},
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[ _](\d{2})[:._-](\d{2})[:._-](\d{2})`), true, true},
	{regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})[ _](\d{2})[:._-](\d{2})[:._-](\d{2})`), false, true},
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`), true, false},
	{regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`), false, false},
	{regexp.MustCompile(`(?:^|[^0-9])(\d{4})(\d{2})(\d{2})(?:[^0-9]|$)`), true, false},
}

// parseFilenameTime extracts a plausible timestamp embedded in a file
// name, like IMG_20240131_154500.jpg or scan 2024-01-31.png.
func parseFilenameTime(name string) (time.Time, bool) {
	for _, p := range filenamePatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		nums := make([]int, 0, 6)
		for _, s := range m[1:] {
			n, err := strconv.Atoi(s)
			if err != nil {
				return time.Time{}, false
			}
			nums = append(nums, n)
		}

		var year, month, day int
		if p.yearFirst {
			year, month, day = nums[0], nums[1], nums[2]
		} else {
			day, month, year = nums[0], nums[1], nums[2]
		}

		hour, minute, second := 12, 0, 0
		if p.hasTime {
			hour, minute, second = nums[3], nums[4], nums[5]
		}

		if !plausible(year, month, day, hour, minute, second) {
			continue
		}
		return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), true
	}
	return time.Time{}, false
}

func plausible(year, month, day, hour, minute, second int) bool {
	if year < 1900 || year > 2200 {
		return false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	return hour < 24 && minute < 60 && second < 60
}
