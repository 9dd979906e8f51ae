package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	oggPageHeaderLen       = 27
	oggPageHeaderSignature = "OggS"
	oggHeaderTypeEOS       = 0x04
	oggMaxLacingValue      = 255

	opusTagsSignature = "OpusTags"
	// Granule positions in Opus streams are always expressed at 48KHz.
	opusGranuleRate = 48000
	// Longest possible Opus packet duration.
	opusMaxPacketDuration = 120 * time.Millisecond
	// Anything shorter than a frame is jitter rather than a gap.
	opusGapThreshold = 20 * time.Millisecond
)

var (
	errNotOpus          = errors.New("not an ogg/opus stream")
	errBadPageSignature = errors.New("bad page signature")
	errChecksumMismatch = errors.New("expected and actual checksum do not match")
)

type oggPage struct {
	granulePosition uint64
	headerType      uint8
	serial          uint32
	segments        []byte
	payload         []byte
}

// oggPacketReader splits Ogg pages into the packets they carry, joining
// packets that span multiple pages.
type oggPacketReader struct {
	stream        io.Reader
	checksumTable *[256]uint32
	partial       []byte
}

func newOggPacketReader(in io.Reader) *oggPacketReader {
	return &oggPacketReader{
		stream:        in,
		checksumTable: generateChecksumTable(),
	}
}

func (o *oggPacketReader) readPage() (*oggPage, error) {
	h := make([]byte, oggPageHeaderLen)
	if _, err := io.ReadFull(o.stream, h); err != nil {
		return nil, err
	}

	if string(h[:4]) != oggPageHeaderSignature {
		return nil, errBadPageSignature
	}

	page := &oggPage{
		headerType:      h[5],
		granulePosition: binary.LittleEndian.Uint64(h[6 : 6+8]),
		serial:          binary.LittleEndian.Uint32(h[14 : 14+4]),
		segments:        make([]byte, h[26]),
	}

	if _, err := io.ReadFull(o.stream, page.segments); err != nil {
		return nil, err
	}

	var payloadSize int
	for _, s := range page.segments {
		payloadSize += int(s)
	}

	page.payload = make([]byte, payloadSize)
	if _, err := io.ReadFull(o.stream, page.payload); err != nil {
		return nil, err
	}

	var checksum uint32
	update := func(v byte) {
		checksum = (checksum << 8) ^ o.checksumTable[byte(checksum>>24)^v]
	}
	for i := range h {
		// The stored checksum is computed with its own field zeroed.
		if i > 21 && i < 26 {
			update(0)
			continue
		}
		update(h[i])
	}
	for _, s := range page.segments {
		update(s)
	}
	for _, b := range page.payload {
		update(b)
	}

	if binary.LittleEndian.Uint32(h[22:22+4]) != checksum {
		return nil, errChecksumMismatch
	}

	return page, nil
}

// packets returns the packets completed in page. A packet whose last lacing
// value is 255 continues on the next page and is held back until then.
func (o *oggPacketReader) packets(page *oggPage) [][]byte {
	var pkts [][]byte
	var off int
	for _, s := range page.segments {
		o.partial = append(o.partial, page.payload[off:off+int(s)]...)
		off += int(s)
		if s < oggMaxLacingValue {
			pkts = append(pkts, o.partial)
			o.partial = nil
		}
	}
	return pkts
}

func generateChecksumTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if (r & 0x80000000) != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
			table[i] = r
		}
	}
	return &table
}

// decodeOggOpus decodes an Ogg/Opus stream into 16KHz mono PCM. Gaps in the
// granule positions (e.g. muted sections in call recordings) are filled with
// silence so that the PCM timeline matches the source's.
func decodeOggOpus(ctx context.Context, in io.Reader) (*PCM, error) {
	// The identification header is parsed and validated first, which also
	// tells us whether this is Opus at all.
	_, hdr, err := oggreader.NewWith(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotOpus, err)
	}

	dec, err := newOpusDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := dec.destroy(); err != nil {
			slog.Error("failed to destroy decoder", slog.String("err", err.Error()))
		}
	}()

	rd := newOggPacketReader(in)
	buf := make([]float32, durationToSamples(opusMaxPacketDuration))
	gapThreshold := durationToSamples(opusGapThreshold)

	var samples []float32
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := rd.readPage()
		if errors.Is(err, io.EOF) {
			break
		} else if errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Warn("truncated ogg stream", slog.Int("decodedSamples", len(samples)))
			break
		} else if errors.Is(err, errChecksumMismatch) {
			slog.Warn("skipping corrupted ogg page")
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to read ogg page: %w", err)
		}

		pageStart := len(samples)
		for _, pkt := range rd.packets(page) {
			if len(pkt) == 0 || bytes.HasPrefix(pkt, []byte(opusTagsSignature)) {
				continue
			}

			n, err := dec.decode(pkt, buf)
			if err != nil {
				slog.Warn("failed to decode audio data", slog.String("err", err.Error()))
				continue
			}
			samples = append(samples, buf[:n]...)
		}

		// No packet ends on this page.
		if page.granulePosition == 0 || page.granulePosition == ^uint64(0) {
			continue
		}

		expected := int(page.granulePosition * SampleRate / opusGranuleRate)
		if gap := expected - len(samples); gap > gapThreshold {
			slog.Debug("gap in audio samples", slog.Duration("gap", samplesToDuration(gap)))
			samples = slices.Insert(samples, pageStart, make([]float32, gap)...)
		}

		if page.headerType&oggHeaderTypeEOS != 0 && len(samples) > expected {
			samples = samples[:expected]
		}
	}

	preSkip := min(int(hdr.PreSkip)*SampleRate/opusGranuleRate, len(samples))
	samples = samples[preSkip:]

	if len(samples) == 0 {
		return nil, ErrNoAudioTrack
	}

	return NewPCM(samples), nil
}
