// Package pipeline decompresses .xz files with one reader, decoder and
// writer coroutine per file. Stages exchange core.Buffer values over
// bounded channels and hand spent buffers back over return channels, so a
// file never has more than Buffers buffers in flight per direction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-coro/core"
	"github.com/ulikunitz/xz"
)

const (
	DefaultBuffers    = 8
	DefaultBufferSize = 100 * 1024
)

// Options configures a Pipeline.
type Options struct {
	Buffers    int
	BufferSize int
	Logger     core.Logger
}

// Stats counts pipeline progress.
type Stats struct {
	Files    int64 // inputs read to the end or to a failure
	BytesIn  int64
	BytesOut int64
	Failed   int64
}

// Pipeline runs decompression jobs on a scheduler.
type Pipeline struct {
	buffers    int
	bufferSize int
	logger     core.Logger

	files    atomic.Int64
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	failed   atomic.Int64

	errMu sync.Mutex
	errs  []error
}

// New creates a Pipeline. Zero options take the defaults.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		buffers:    opts.Buffers,
		bufferSize: opts.BufferSize,
		logger:     opts.Logger,
	}
	if p.buffers < 1 {
		p.buffers = DefaultBuffers
	}
	if p.bufferSize < 1 {
		p.bufferSize = DefaultBufferSize
	}
	if p.logger == nil {
		p.logger = core.NewNoOpLogger()
	}
	return p
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Files:    p.files.Load(),
		BytesIn:  p.bytesIn.Load(),
		BytesOut: p.bytesOut.Load(),
		Failed:   p.failed.Load(),
	}
}

// Err joins every error recorded so far.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.errs...)
}

func (p *Pipeline) fail(stage, path string, err error) {
	p.failed.Add(1)
	p.logger.Error("pipeline stage failed",
		core.F("stage", stage),
		core.F("path", path),
		core.F("error", err))
	p.errMu.Lock()
	p.errs = append(p.errs, fmt.Errorf("%s %s: %w", stage, path, err))
	p.errMu.Unlock()
}

// ProcessDir spawns ProcessFile for every regular *.xz file in inDir. The
// output name drops the .xz extension. It returns the number of files
// spawned; call s.Wait to wait for them.
func (p *Pipeline) ProcessDir(s *core.Scheduler, inDir, outDir string) (int, error) {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list input directory: %w", err)
	}

	spawned := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != ".xz" {
			continue
		}
		in := filepath.Join(inDir, entry.Name())
		out := filepath.Join(outDir, strings.TrimSuffix(entry.Name(), ".xz"))
		if s.Spawn("process_file "+in, func(ctx context.Context) {
			p.ProcessFile(ctx, in, out)
		}) != nil {
			spawned++
		}
	}
	return spawned, nil
}

// ProcessFile decompresses in to out. It must run inside a coroutine: it
// spawns the writer and decoder next to itself and reads the input in the
// calling coroutine.
func (p *Pipeline) ProcessFile(ctx context.Context, in, out string) {
	compressedR, compressedW := core.MakeBufferChannel(p.buffers, "compressed")
	decompressedR, decompressedW := core.MakeBufferChannel(p.buffers, "decompressed")
	compressedRetR, compressedRetW := core.MakeBufferChannel(p.buffers, "compressed_return")
	decompressedRetR, decompressedRetW := core.MakeBufferChannel(p.buffers, "decompressed_return")

	core.Go(ctx, "write_output "+out, func(ctx context.Context) {
		p.writeOutput(ctx, decompressedR, decompressedRetW, out)
	})
	core.Go(ctx, "xz_decompress "+in, func(ctx context.Context) {
		p.decompress(ctx, compressedR, compressedRetW, decompressedRetR, decompressedW, in)
	})

	p.readInput(ctx, compressedW, compressedRetR, in)
	p.files.Add(1)
}

// readInput fills buffers from the file and sends them downstream. The
// first Buffers buffers are fresh; after that it reuses spent ones.
func (p *Pipeline) readInput(ctx context.Context, compressed *core.BufferWriter, compressedReturn *core.BufferReader, path string) {
	defer compressed.Close()

	f, err := core.BlockingCall(ctx, "open "+path, func() (*os.File, error) {
		return os.Open(path)
	})
	if err != nil {
		p.fail("read", path, err)
		return
	}
	defer f.Close()

	for counter := 0; ; counter++ {
		var b *core.Buffer
		if counter < p.buffers {
			b = core.NewBuffer(p.bufferSize)
		} else if b, err = compressedReturn.Get(ctx); err != nil {
			// decoder gave up
			return
		}

		n, err := core.BlockingCall(ctx, "read "+path, func() (int, error) {
			return io.ReadFull(f, b.Storage())
		})
		if n > 0 {
			b.SetSize(n)
			p.bytesIn.Add(int64(n))
			if compressed.Put(ctx, b) != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return
		}
		if err != nil {
			p.fail("read", path, err)
			return
		}
	}
}

// decompress decodes the compressed stream into buffers borrowed from the
// writer. Coroutine reads from channels stay outside Block.
func (p *Pipeline) decompress(ctx context.Context,
	compressed *core.BufferReader, compressedReturn *core.BufferWriter,
	decompressedReturn *core.BufferReader, decompressed *core.BufferWriter,
	path string,
) {
	defer compressed.Close()
	defer decompressed.Close()
	defer compressedReturn.Close()

	src := &channelSource{ctx: ctx, in: compressed, spent: compressedReturn}
	zr, err := xz.NewReader(src)
	if err != nil {
		p.fail("decompress", path, err)
		return
	}

	for {
		b, err := decompressedReturn.Get(ctx)
		if err != nil {
			// writer gave up
			return
		}
		n, err := io.ReadFull(zr, b.Storage())
		if n > 0 {
			b.SetSize(n)
			if decompressed.Put(ctx, b) != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return
		}
		if err != nil {
			p.fail("decompress", path, err)
			return
		}
	}
}

// writeOutput primes the decoder with empty buffers and writes whatever
// comes back filled, until the decompressed channel is closed and drained.
func (p *Pipeline) writeOutput(ctx context.Context, decompressed *core.BufferReader, decompressedReturn *core.BufferWriter, path string) {
	defer decompressedReturn.Close()

	f, err := core.BlockingCall(ctx, "create "+path, func() (*os.File, error) {
		return os.Create(path)
	})
	if err != nil {
		p.fail("write", path, err)
		decompressed.Close()
		return
	}
	defer f.Close()

	for range p.buffers {
		if decompressedReturn.Put(ctx, core.NewBuffer(p.bufferSize)) != nil {
			return
		}
	}

	for {
		b, err := decompressed.Get(ctx)
		if err != nil {
			return
		}
		n, err := core.BlockingCall(ctx, "write "+path, func() (int, error) {
			return f.Write(b.Bytes())
		})
		p.bytesOut.Add(int64(n))
		if err != nil {
			p.fail("write", path, err)
			decompressed.Close()
			return
		}
		b.Reset()
		decompressedReturn.PutOrDrop(ctx, b)
	}
}

// channelSource is an io.Reader over a channel of buffers. Each drained
// buffer goes back on spent.
type channelSource struct {
	ctx   context.Context
	in    *core.BufferReader
	spent *core.BufferWriter
	cur   *core.Buffer
	off   int
}

func (s *channelSource) Read(dst []byte) (int, error) {
	for s.cur == nil || s.off == s.cur.Size() {
		if s.cur != nil {
			s.cur.Reset()
			s.spent.PutOrDrop(s.ctx, s.cur)
			s.cur = nil
		}
		b, err := s.in.Get(s.ctx)
		if errors.Is(err, core.ErrChannelClosed) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		s.cur, s.off = b, 0
	}
	n := copy(dst, s.cur.Bytes()[s.off:])
	s.off += n
	return n, nil
}
