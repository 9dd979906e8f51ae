package whisper

// #cgo linux LDFLAGS: -l:libwhisper.a -lm -lstdc++
// #cgo darwin LDFLAGS: -lwhisper -lstdc++ -framework Accelerate
// #include <whisper.h>
// #include <stdlib.h>
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/mattermost/media-transcriber/cmd/transcriber/transcribe"
)

type Config struct {
	// The path to the GGML model file to use.
	ModelFile string
	// The number of system threads to use to perform the transcription.
	NumThreads int
	// 512 = a bit more than 10s. Use multiples of 64. Results in a speedup of 3x at 512, b/c whisper was tuned for 30s chunks. See: https://github.com/ggerganov/whisper.cpp/pull/141
	AudioContext int
	// Whether or not to print progress to stdout (default false).
	PrintProgress bool
}

func (c Config) IsValid() error {
	if c == (Config{}) {
		return fmt.Errorf("invalid empty config")
	}

	if c.ModelFile == "" {
		return fmt.Errorf("invalid ModelFile: should not be empty")
	}

	if _, err := os.Stat(c.ModelFile); err != nil {
		return fmt.Errorf("invalid ModelFile: failed to stat model file: %w", err)
	}

	if numCPU := runtime.NumCPU(); c.NumThreads == 0 || c.NumThreads > numCPU {
		return fmt.Errorf("invalid NumThreads: should be in the range [1, %d]", numCPU)
	}

	if c.AudioContext < 0 || c.AudioContext%64 != 0 {
		return fmt.Errorf("invalid AudioContext: should be a non negative multiple of 64")
	}

	return nil
}

// Context wraps a whisper.cpp model. A whisper context can only run one
// inference at a time so calls to Transcribe are serialized.
type Context struct {
	mut     sync.Mutex
	cfg     Config
	ctx     *C.struct_whisper_context
	cparams C.struct_whisper_context_params
	params  C.struct_whisper_full_params
}

func NewContext(cfg Config) (*Context, error) {
	var c Context

	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	c.cfg = cfg

	slog.Debug("creating transcription context", slog.Any("cfg", cfg))

	path := C.CString(cfg.ModelFile)
	defer C.free(unsafe.Pointer(path))

	c.cparams = C.whisper_context_default_params()
	c.ctx = C.whisper_init_from_file_with_params(path, c.cparams)
	if c.ctx == nil {
		return nil, fmt.Errorf("failed to load model file")
	}

	// Every segment is decoded on its own: no prompt carried over from
	// previous calls and no temperature fallback, so that retrying a segment
	// gives back the same output.
	c.params = C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	c.params.no_context = C.bool(true)
	c.params.temperature_inc = 0
	c.params.token_timestamps = C.bool(true)
	c.params.audio_ctx = C.int(c.cfg.AudioContext)
	c.params.n_threads = C.int(c.cfg.NumThreads)
	c.params.print_progress = C.bool(c.cfg.PrintProgress)
	c.params.print_realtime = C.bool(false)

	return &c, nil
}

func (c *Context) Destroy() error {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.ctx == nil {
		return fmt.Errorf("context is not initialized")
	}
	C.whisper_free(c.ctx)
	c.ctx = nil
	return nil
}

// Transcribe runs the model over samples. An empty language means the
// language gets detected.
func (c *Context) Transcribe(ctx context.Context, samples []float32, language string) (transcribe.Result, error) {
	if len(samples) == 0 {
		return transcribe.Result{}, fmt.Errorf("samples should not be empty")
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	if c.ctx == nil {
		return transcribe.Result{}, fmt.Errorf("context is not initialized")
	}

	if err := ctx.Err(); err != nil {
		return transcribe.Result{}, err
	}

	if language == "" {
		language = "auto"
	}
	lang := C.CString(language)
	defer C.free(unsafe.Pointer(lang))

	if language != "auto" && C.whisper_lang_id(lang) < 0 {
		return transcribe.Result{}, fmt.Errorf("unsupported language %q", language)
	}

	params := c.params
	params.language = lang

	ret := C.whisper_full(c.ctx, params, (*C.float)(&samples[0]), C.int(len(samples)))
	if ret != 0 {
		return transcribe.Result{}, fmt.Errorf("%w: whisper_full failed with code %d", transcribe.ErrTranscription, ret)
	}

	res := transcribe.Result{
		Language: C.GoString(C.whisper_lang_str(C.whisper_full_lang_id(c.ctx))),
	}

	eot := C.whisper_token_eot(c.ctx)

	var text strings.Builder
	var tks []token
	n := int(C.whisper_full_n_segments(c.ctx))
	for i := 0; i < n; i++ {
		text.WriteString(C.GoString(C.whisper_full_get_segment_text(c.ctx, C.int(i))))

		for j := 0; j < int(C.whisper_full_n_tokens(c.ctx, C.int(i))); j++ {
			data := C.whisper_full_get_token_data(c.ctx, C.int(i), C.int(j))
			// Special tokens (timestamps, language, etc.) come after EOT.
			if data.id >= eot {
				continue
			}
			tks = append(tks, token{
				text:  C.GoString(C.whisper_full_get_token_text(c.ctx, C.int(i), C.int(j))),
				t0:    int64(data.t0) * 10,
				t1:    int64(data.t1) * 10,
				p:     float32(data.p),
				first: j == 0,
			})
		}
	}

	res.Text = strings.TrimSpace(text.String())
	res.Words = mergeTokens(tks)

	return res, nil
}
