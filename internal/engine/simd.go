package engine

import "golang.org/x/sys/cpu"

// HostVectorBits reports the widest vector register width the compiling
// machine supports, used as the default lane width for vectorized loops.
// Every x86-64 CPU has SSE2, so 128 is the floor.
func HostVectorBits() int {
	if cpu.X86.HasAVX2 {
		return 256
	}

	return 128
}

// HostHasSSE41 reports whether pmulld (packed 32-bit multiply) can be used.
func HostHasSSE41() bool {
	return cpu.X86.HasSSE41
}

// VectorLanes returns how many elements of elemBits fit in a vector of vecBits.
func VectorLanes(vecBits, elemBits int) int {
	if elemBits <= 0 || vecBits < elemBits {
		return 0
	}

	return vecBits / elemBits
}
