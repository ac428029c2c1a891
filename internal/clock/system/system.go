// Package system implements scraper.Clock with the real time.
package system

import "time"

// Clock returns UTC wall time.
type Clock struct{}

func New() *Clock {
	return &Clock{}
}

func (Clock) Now() time.Time {
	return time.Now().UTC()
}
