package seismod

// float64ToFloat32 narrows a field into dst, which must be at least
// len(src). Used for OpenCL device buffers and for optional checkpoint
// compression, both of which trade precision for memory.
func float64ToFloat32(dst []float32, src []float64) {
	for i, v := range src {
		dst[i] = float32(v)
	}
}

// float32ToFloat64 widens device or compressed data back into dst,
// which must be at least len(src).
func float32ToFloat64(dst []float64, src []float32) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}
