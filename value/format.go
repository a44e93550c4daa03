package value

import (
	"math"
	"strconv"
)

// DefaultPrecision is the number of decimals ReadableSizeDefault renders.
const DefaultPrecision = 2

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// ReadableSize renders n bytes in binary units with the given number of
// decimals. Byte counts below 1 KiB are rendered without decimals.
func ReadableSize(n int64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	if n < 1024 {
		return sign + strconv.FormatInt(n, 10) + " B"
	}

	size := float64(n)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return sign + strconv.FormatFloat(size, 'f', precision, 64) + " " + sizeUnits[unit]
}

// ReadableSizeDefault is ReadableSize with DefaultPrecision.
func ReadableSizeDefault(n int64) string {
	return ReadableSize(n, DefaultPrecision)
}

// PercentComplete returns done/total as a whole percentage rounded to the
// nearest integer. It returns 0 when nothing was processed and -1 when the
// total is unknown (negative).
func PercentComplete(done, total int64) int {
	switch {
	case done <= 0:
		return 0
	case total < 0:
		return -1
	case total == 0 || done >= total:
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// Percent renders PercentComplete for operators, e.g. "42%".
func Percent(done, total int64) string {
	p := PercentComplete(done, total)
	if p < 0 {
		return "unknown"
	}
	return strconv.Itoa(p) + "%"
}
