package decode

// appendMono averages each frame of interleaved samples and appends the
// result to dst. A trailing partial frame is dropped.
func appendMono(dst, interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return append(dst, interleaved...)
	}
	frames := len(interleaved) / channels
	scale := 1 / float32(channels)
	for i := 0; i < frames; i++ {
		var sum float32
		for _, v := range interleaved[i*channels : (i+1)*channels] {
			sum += v
		}
		dst = append(dst, sum*scale)
	}
	return dst
}

// sampleDivisor is the full-scale value for signed PCM of the given depth.
func sampleDivisor(bitDepth int) float32 {
	switch bitDepth {
	case 8:
		return 128
	case 16:
		return 32768
	case 24:
		return 8388608
	case 32:
		return 2147483648
	default:
		return 0
	}
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
