package broadcast

import "errors"

var (
	ErrNotReady           = errors.New("broadcast: not ready to stream")
	ErrNotStreaming       = errors.New("broadcast: not streaming")
	ErrNoFreeBuffer       = errors.New("broadcast: no free capture buffer")
	ErrForeignBuffer      = errors.New("broadcast: buffer not owned by this session")
	ErrInvalidVideoParams = errors.New("broadcast: invalid video parameters")
	ErrStreamLost         = errors.New("broadcast: stream lost")
)
