package utils

// NextPowerOf2 returns the smallest power of two that is greater than or
// equal to value. Used for growing encoding buffers.
func NextPowerOf2(value int) int {
	result := value - 1
	result |= result >> 1
	result |= result >> 2
	result |= result >> 4
	result |= result >> 8
	result |= result >> 16
	result |= result >> 32
	return result + 1
}
