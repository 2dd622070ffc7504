package analysis

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/runic-labs/rune/pkg/ids"
)

// WAVDecoder implements dsp.Decoder for canonical PCM WAV files. Real
// codec decoding (FLAC, MP3, Opus, ...) is an external collaborator per
// spec.md §1/§6 and is out of scope; WAV is parsed directly here (the
// RIFF/fmt/data chunk layout is a small, stable binary format with no
// ecosystem decoder anywhere in the retrieved pack) so internal/analysis
// has at least one concrete, testable Decoder rather than only an
// interface nothing implements.
type WAVDecoder struct{}

type riffHeader struct {
	ChunkID   [4]byte
	ChunkSize uint32
	Format    [4]byte
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Decode opens path, looking for "fmt " and "data" chunks, and returns
// interleaved PCM samples normalized to [-1, 1], per spec.md §4.5 step 1.
func (WAVDecoder) Decode(path string) (pcm []float32, sampleRate, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, ids.Wrap(ids.KindIO, "wav: open", err)
	}
	defer f.Close()
	return decodeWAV(f)
}

func decodeWAV(r io.Reader) (pcm []float32, sampleRate, channels int, err error) {
	var hdr riffHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: read riff header", err)
	}
	if string(hdr.ChunkID[:]) != "RIFF" || string(hdr.Format[:]) != "WAVE" {
		return nil, 0, 0, ids.New(ids.KindDecode, "wav: not a RIFF/WAVE stream")
	}

	var fc fmtChunk
	var dataLen uint32
	var gotFmt, gotData bool
	for !gotData {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: read chunk id", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: read chunk size", err)
		}
		switch string(id[:]) {
		case "fmt ":
			if err := binary.Read(r, binary.LittleEndian, &fc); err != nil {
				return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: read fmt chunk", err)
			}
			if extra := int64(size) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra); err != nil {
					return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: skip fmt extension", err)
				}
			}
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, 0, 0, ids.New(ids.KindDecode, "wav: data chunk before fmt chunk")
			}
			dataLen = size
			gotData = true
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: skip unknown chunk", err)
			}
		}
	}

	bytesPerSample := int(fc.BitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, 0, 0, ids.New(ids.KindDecode, "wav: unsupported bits-per-sample")
	}
	n := int(dataLen) / bytesPerSample
	samples := make([]float32, n)
	buf := make([]byte, bytesPerSample)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, 0, ids.Wrap(ids.KindDecode, "wav: read sample", err)
		}
		samples[i] = decodeSample(buf, int(fc.BitsPerSample))
	}

	return samples, int(fc.SampleRate), int(fc.NumChannels), nil
}

func decodeSample(buf []byte, bits int) float32 {
	switch bits {
	case 16:
		v := int16(binary.LittleEndian.Uint16(buf))
		return float32(v) / float32(1<<15)
	case 32:
		v := int32(binary.LittleEndian.Uint32(buf))
		return float32(v) / float32(1<<31)
	case 8:
		return (float32(buf[0]) - 128) / 128
	default:
		// Treat any other width as a packed little-endian signed
		// integer normalized by its maximum magnitude.
		var v int64
		for i := len(buf) - 1; i >= 0; i-- {
			v = v<<8 | int64(buf[i])
		}
		max := int64(1) << uint(bits-1)
		if v >= max {
			v -= max * 2
		}
		return float32(v) / float32(max)
	}
}
