package source

import "fmt"

// ringSize derives PACKET_MMAP ring geometry for a memory budget. Frames are
// aligned to TPACKET_ALIGNMENT and a block must be a multiple of both the
// page size and the frame size.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const (
		tpacketAlignment = 16
		tpacketHdrLen    = 52
		maxBlockSize     = 4 << 20
	)
	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Grow the frame to a power of two so one of them divides the other.
		frameSize = nextPow2(frameSize)
		blockSize = max(frameSize, pageSize)
		if blockSize > maxBlockSize {
			return 0, 0, 0, fmt.Errorf("frame size %d exceeds maximum block size", frameSize)
		}
	}
	numBlocks = max(bufferMB<<20/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
