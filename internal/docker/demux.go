package docker

import "encoding/binary"

// Stream types used by the daemon's multiplexed attach protocol.
const (
	StreamStdin  byte = 0
	StreamStdout byte = 1
	StreamStderr byte = 2
)

// Frame is one decoded unit of the daemon's multiplexed stream protocol:
// a 1-byte stream type, 3 padding bytes, a 4-byte big-endian payload length,
// then the payload.
type Frame struct {
	StreamType byte
	Payload    []byte
}

// frameHeaderLen is the length of the multiplexed stream frame header.
const frameHeaderLen = 8

// DecodeFrames decodes as many complete frames as the buffer holds and
// returns them along with the number of bytes consumed. Trailing bytes that
// do not form a complete frame are left for the caller: they are either the
// prefix of the next frame (streaming) or malformed output (one-shot reads).
func DecodeFrames(buf []byte) ([]Frame, int) {
	var frames []Frame
	offset := 0
	for len(buf)-offset >= frameHeaderLen {
		header := buf[offset : offset+frameHeaderLen]
		payloadLen := int(binary.BigEndian.Uint32(header[4:8]))
		if len(buf)-offset-frameHeaderLen < payloadLen {
			break
		}
		frames = append(frames, Frame{
			StreamType: header[0],
			Payload:    buf[offset+frameHeaderLen : offset+frameHeaderLen+payloadLen],
		})
		offset += frameHeaderLen + payloadLen
	}
	return frames, offset
}

// DemuxToString concatenates the stdout and stderr payloads of a fully
// buffered multiplexed stream into one string. Malformed trailing bytes are
// appended as raw text rather than dropped, so partial daemon output is
// never lost.
func DemuxToString(buf []byte) string {
	frames, consumed := DecodeFrames(buf)
	var out []byte
	for _, f := range frames {
		if f.StreamType == StreamStdout || f.StreamType == StreamStderr {
			out = append(out, f.Payload...)
		}
	}
	if consumed < len(buf) {
		out = append(out, buf[consumed:]...)
	}
	return string(out)
}
