package audio

// G.711 µ-law companding. 8kHz telephony audio arrives as 8-bit
// logarithmically compressed samples; these expand/compress against
// 16-bit linear PCM.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawToLinear expands one µ-law byte to a 16-bit linear sample.
func MulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F

	t := ((int(mant) << 3) + mulawBias) << exp
	if sign != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// LinearToMulaw compresses one 16-bit linear sample to a µ-law byte.
func LinearToMulaw(sample int16) byte {
	sign := byte(0)
	v := int(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exp := 7
	for mask := 0x4000; (v&mask) == 0 && exp > 0; exp-- {
		mask >>= 1
	}
	mant := (v >> (exp + 3)) & 0x0F

	return ^(sign | byte(exp)<<4 | byte(mant))
}
