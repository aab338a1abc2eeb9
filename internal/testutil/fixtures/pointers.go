// Package fixtures provides test data builders and helpers.
package fixtures

import "time"

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(i int64) *int64 {
	return &i
}

// TimePtr returns a pointer to the given time.Time.
func TimePtr(t time.Time) *time.Time {
	return &t
}
