package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// BytesPerGB is the decimal gigabyte used for every traffic cap entered by a human
const BytesPerGB int64 = 1_000_000_000

// ExpiryDateLayout is the accepted payment date format
const ExpiryDateLayout = "02.01.2006"

// ParseGigabytes converts human input such as "5", "2.5" or "1,5" into bytes.
// Non-positive or non-numeric input yields ErrInvalidLimit.
func ParseGigabytes(input string) (int64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(input), ",", ".")
	gb, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(gb) || math.IsInf(gb, 0) {
		return 0, ErrInvalidLimit
	}
	return GigabytesToBytes(gb)
}

// GigabytesToBytes applies 1 GB = 1,000,000,000 bytes
func GigabytesToBytes(gb float64) (int64, error) {
	if gb <= 0 || gb > float64(math.MaxInt64/BytesPerGB) {
		return 0, ErrInvalidLimit
	}
	bytes := int64(math.Round(gb * float64(BytesPerGB)))
	if bytes <= 0 {
		return 0, ErrInvalidLimit
	}
	return bytes, nil
}

// FormatGB renders bytes in decimal gigabytes with one decimal, e.g. "2.0 GB"
func FormatGB(bytes int64) string {
	return fmt.Sprintf("%.1f GB", float64(bytes)/float64(BytesPerGB))
}

// FormatBytes renders a generic size with 1024 steps, e.g. "1.5 MB"
func FormatBytes(bytes int64) string {
	suffixes := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(suffixes)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", size, suffixes[i])
}

// ParseExpiryDate parses DD.MM.YYYY in loc and returns the last second of that day.
// Malformed input yields ErrInvalidDate, a day that already ended ErrDateInPast.
func ParseExpiryDate(input string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(ExpiryDateLayout, strings.TrimSpace(input), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	end := day.AddDate(0, 0, 1).Add(-time.Second)
	if end.Before(now) {
		return time.Time{}, ErrDateInPast
	}
	return end, nil
}

// DaysLeft returns whole days until t and whether t already passed
func DaysLeft(t, now time.Time) (int, bool) {
	if t.Before(now) {
		return 0, true
	}
	return int(t.Sub(now).Hours() / 24), false
}
