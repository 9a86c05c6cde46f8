package source

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"firestige.xyz/tapcheck/internal/log"
)

const (
	// HelperEnv marks a process started by a forked source.
	HelperEnv       = "TAPCHECK_HELPER"
	helperBufferEnv = "TAPCHECK_HELPER_BUFFER"

	// Inherited descriptors: ExtraFiles start at 3.
	helperDeviceFd = 3
	helperConnFd   = 4
)

// IsHelper reports whether this process was started as a forked-source helper.
func IsHelper() bool { return os.Getenv(HelperEnv) != "" }

// RunHelper serves as a forked-source helper and exits when this process was
// started as one; otherwise it returns immediately. Call it first in main and
// in TestMain of packages that start forked sources.
func RunHelper() {
	if !IsHelper() {
		return
	}
	size, _ := strconv.Atoi(os.Getenv(helperBufferEnv))
	dev := os.NewFile(helperDeviceFd, "device")
	conn := os.NewFile(helperConnFd, "helper-conn")
	if err := ServeHelper(dev, conn, size); err != nil {
		log.GetLogger().WithError(err).Error("forked source helper stopped")
		os.Exit(1)
	}
	os.Exit(0)
}

// ServeHelper performs strictly blocking reads on dev and forwards every
// datagram to conn. End of stream and read errors are forwarded as terminal
// frames before it returns.
func ServeHelper(dev io.Reader, conn io.Writer, bufSize int) error {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	buf := make([]byte, bufSize)
	out := make([]byte, 0, bufSize+16)
	for {
		n, err := dev.Read(buf)
		if n > 0 {
			out = appendFrame(out[:0], frame{kind: frameData, data: buf[:n]})
			if _, werr := conn.Write(out); werr != nil {
				return fmt.Errorf("forward datagram: %w", werr)
			}
		}
		switch {
		case err == io.EOF || (err == nil && n == 0):
			_, werr := conn.Write(appendFrame(nil, frame{kind: frameEOF}))
			return werr
		case err != nil:
			_, _ = conn.Write(appendFrame(nil, frame{kind: frameError, err: err.Error()}))
			return err
		}
	}
}
