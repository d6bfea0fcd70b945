// Package model holds the shared seismic data model: channels, channel
// segments, signal detections and events.
package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// osdTimeLayout is the millisecond ISO-8601 layout used on the wire.
const osdTimeLayout = "2006-01-02T15:04:05.000Z"

// Purpose: Render a float the way a JavaScript number converts to string.
// Key aspects: Shortest round-trip digits; exponent form outside [1e-6, 1e21).
// Upstream: ChannelSegmentDescriptor.String, export file names.
// Downstream: strconv.FormatFloat.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	abs := math.Abs(v)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		// Go pads the exponent to two digits; JavaScript does not.
		mant, exp, ok := strings.Cut(s, "e")
		if !ok {
			return s
		}
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ToOSDTime converts epoch seconds to a millisecond ISO-8601 UTC string.
func ToOSDTime(seconds float64) string {
	ms := int64(math.Round(seconds * 1000))
	return time.UnixMilli(ms).UTC().Format(osdTimeLayout)
}

// SecondsToDuration renders seconds as an ISO-8601 duration (PT<n>S).
func SecondsToDuration(seconds float64) string {
	return "PT" + strconv.FormatFloat(seconds, 'f', -1, 64) + "S"
}
