package status

import (
	"encoding/binary"
	"fmt"
)

// Uncalibrated is reported instead of a speed while no diameter is known.
const Uncalibrated = "Calibrate"

// SpeedString returns the speed characteristic value: "Calibrate" until a
// diameter is known, then the speed with two decimals.
func SpeedString(s Snapshot) string {
	if !s.Calibrated() {
		return Uncalibrated
	}
	return fmt.Sprintf("%.2f", s.Speed.Speed)
}

// PeriodBytes returns the period counter as 4 little-endian bytes.
func PeriodBytes(s Snapshot) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, s.Period.Ms)
	return b
}
