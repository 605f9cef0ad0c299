package recording

import (
	"bytes"
	"encoding/binary"
)

// MIMETypeWAV is the container every recording is stored in.
const MIMETypeWAV = "audio/wav"

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(f Format, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	blockAlign := f.Channels * f.BitDepth / 8
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(f.Channels))
	_ = binary.Write(&buf, le, uint32(f.SampleRate))
	_ = binary.Write(&buf, le, uint32(f.BytesPerSecond()))
	_ = binary.Write(&buf, le, uint16(blockAlign))
	_ = binary.Write(&buf, le, uint16(f.BitDepth))

	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
