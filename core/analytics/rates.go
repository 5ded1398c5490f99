package analytics

import (
	"math"

	"github.com/trezcool/coursehub/core/assignment"
)

// SubmissionRate returns confirmed/expected as a percentage rounded to 2 decimals, 0 if nothing is expected.
func SubmissionRate(confirmed, expected int) float64 {
	return percent(confirmed, expected)
}

// CompletionRate returns completed/total as a percentage rounded to 2 decimals, 0 if total is 0.
func CompletionRate(completed, total int) float64 {
	return percent(completed, total)
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// ExpectedCount is the number of submissions an assignment expects:
// one per enrolled student if individual, one per group of the course otherwise.
func ExpectedCount(a assignment.Assignment, studentCount, groupCount int) int {
	if a.IsGroup() {
		return groupCount
	}
	return studentCount
}
