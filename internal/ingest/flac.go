package ingest

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FLACInfo holds the subset of a FLAC STREAMINFO block this pipeline
// needs. Parsed by hand rather than through a FLAC container library,
// the same manual-binary-parse approach cmd/ingest/main.go's
// readFLACInfo takes.
type FLACInfo struct {
	SampleRate    int64
	Channels      int64
	BitsPerSample int64
	TotalSamples  int64
}

// DurationMS derives the track length from TotalSamples/SampleRate.
func (f FLACInfo) DurationMS() int64 {
	if f.SampleRate == 0 {
		return 0
	}
	return f.TotalSamples * 1000 / f.SampleRate
}

// ReadFLACInfo parses the STREAMINFO metadata block from a FLAC stream.
// Layout: 4-byte "fLaC" marker, then one or more metadata block headers
// (1 byte: is-last(1 bit) + block-type(7 bits), 3 bytes big-endian
// length), STREAMINFO is block type 0 and is always first.
func ReadFLACInfo(r io.Reader) (FLACInfo, error) {
	var marker [4]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return FLACInfo{}, fmt.Errorf("flac: read marker: %w", err)
	}
	if string(marker[:]) != "fLaC" {
		return FLACInfo{}, fmt.Errorf("flac: not a FLAC stream")
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return FLACInfo{}, fmt.Errorf("flac: read block header: %w", err)
	}
	blockType := header[0] & 0x7f
	length := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	if blockType != 0 {
		return FLACInfo{}, fmt.Errorf("flac: first metadata block is not STREAMINFO")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return FLACInfo{}, fmt.Errorf("flac: read STREAMINFO: %w", err)
	}
	if len(body) < 18 {
		return FLACInfo{}, fmt.Errorf("flac: STREAMINFO too short")
	}

	// bytes 10-17: sample_rate(20 bits) | channels-1(3 bits) |
	// bits_per_sample-1(5 bits) | total_samples(36 bits), packed MSB-first.
	packed := binary.BigEndian.Uint64(body[10:18])
	sampleRate := int64(packed >> 44)
	channels := int64((packed>>41)&0x7) + 1
	bitsPerSample := int64((packed>>36)&0x1f) + 1
	totalSamples := int64(packed & 0xfffffffff)

	return FLACInfo{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bitsPerSample,
		TotalSamples:  totalSamples,
	}, nil
}
