package media

// #cgo LDFLAGS: -l:libopus.a -lm
// #include <opus.h>
import "C"

import (
	"fmt"
)

type opusDecoder struct {
	dec      *C.OpusDecoder
	rate     int
	channels int
}

// newOpusDecoder creates a decoder producing float samples at the given rate.
// libopus takes care of resampling and downmixing, whatever the encoded
// stream's rate and channels are.
func newOpusDecoder(rate, channels int) (*opusDecoder, error) {
	var errCode C.int

	d := &opusDecoder{
		rate:     rate,
		channels: channels,
	}

	d.dec = C.opus_decoder_create(C.int(rate), C.int(channels), &errCode)
	if errCode != 0 {
		return nil, fmt.Errorf("failed to create opus decoder: %d", errCode)
	}

	return d, nil
}

// decode decodes a single Opus packet into samples, returning the number of
// samples written per channel.
func (d *opusDecoder) decode(data []byte, samples []float32) (int, error) {
	if d.dec == nil {
		return 0, fmt.Errorf("decoder is not initialized")
	}

	if len(data) == 0 {
		return 0, fmt.Errorf("data should not be empty")
	}

	if len(samples) == 0 || cap(samples)%d.channels != 0 {
		return 0, fmt.Errorf("invalid samples buffer")
	}

	ret := int(C.opus_decode_float(d.dec, (*C.uchar)(&data[0]), C.int(len(data)),
		(*C.float)(&samples[0]), C.int(cap(samples)/d.channels), 0))
	if ret < 0 {
		return 0, fmt.Errorf("decode failed with code %d", ret)
	}

	return ret, nil
}

func (d *opusDecoder) destroy() error {
	if d.dec == nil {
		return fmt.Errorf("decoder is not initialized")
	}
	C.opus_decoder_destroy(d.dec)
	d.dec = nil
	return nil
}
