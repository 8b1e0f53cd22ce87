// Package bitstream rewrites the hardware encoder's length-prefixed output
// into start-code-delimited Annex B form ready for the network sink.
package bitstream

import (
	"encoding/binary"
	"errors"

	"github.com/nvail/framebridge/internal/media"
)

// startCode is the 4-byte Annex B NAL unit delimiter.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// ErrTruncated reports a NAL unit whose claimed length prefix exceeded the
// remaining sample bytes. Conversion stops at that point and the remainder
// of the sample is discarded. The condition drops the sample but is not
// fatal to the pipeline.
var ErrTruncated = errors.New("bitstream: NAL length exceeds remaining sample")

// ToAnnexB converts one encoded sample into a single contiguous Annex B
// buffer. Each length-prefixed unit in the payload is re-delimited with a
// start code; for keyframes the parameter sets are emitted first, in
// ascending format-description index order, each as its own delimited unit,
// so a decoder can join at any keyframe.
//
// On a bad length prefix the converted prefix is returned alongside
// ErrTruncated.
func ToAnnexB(sample *media.EncodedSample) ([]byte, error) {
	out := make([]byte, 0, annexBSize(sample))

	if sample.IsKeyframe {
		for _, ps := range sample.ParameterSets {
			out = append(out, startCode...)
			out = append(out, ps...)
		}
	}

	data := sample.Data
	for len(data) >= 4 {
		n := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint64(n) > uint64(len(data)) {
			return out, ErrTruncated
		}
		out = append(out, startCode...)
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return out, nil
}

// annexBSize estimates the converted size: the payload is the same length
// (start codes replace the 4-byte prefixes) plus a delimited unit per
// parameter set on keyframes.
func annexBSize(sample *media.EncodedSample) int {
	size := len(sample.Data)
	if sample.IsKeyframe {
		for _, ps := range sample.ParameterSets {
			size += len(startCode) + len(ps)
		}
	}
	return size
}
