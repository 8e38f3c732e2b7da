package media

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// Encode a 16-bit linear PCM sample as G.711 μ-law, the payload of a PCMU track.
func linearToMulaw(sample int16) byte {
	s := int32(sample)

	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}
