package adc

import "github.com/sweeney/speedometer/internal/logic"

// FrameBytes is the size of one TYPE1 conversion result.
const FrameBytes = 2

// DecodeType1 decodes a little-endian TYPE1 conversion result: the low 12
// bits carry the reading and the high 4 bits the channel.
func DecodeType1(lo, hi byte) logic.Sample {
	v := uint16(lo) | uint16(hi)<<8
	return logic.Sample{
		Channel: uint8(v >> 12),
		Value:   v & 0x0FFF,
	}
}

// EncodeType1 is the inverse of DecodeType1. Values are clamped to 12 bits.
func EncodeType1(s logic.Sample) (lo, hi byte) {
	val := s.Value
	if val > 0x0FFF {
		val = 0x0FFF
	}
	v := uint16(s.Channel&0x0F)<<12 | val
	return byte(v), byte(v >> 8)
}
