package clock

import "time"

// NowFunc returns the current time. Tests override it to pin the clock.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Since reports elapsed time against NowFunc so that stubbed clocks stay
// consistent across call sites.
func Since(t time.Time) time.Duration { return NowFunc().Sub(t) }
