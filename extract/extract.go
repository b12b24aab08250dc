// Package extract implements the extraction protocol of spec.md §4.6: the
// sole externally-visible way to drain a capture engine's arena once
// tracing has been turned off and flushed. It mirrors the on-wire dump
// format byte for byte (spec.md §6) and, like perffile's buffered
// section reader over a perf.data file, walks a large, block-structured
// binary region in fixed-size chunks rather than materializing the whole
// thing in one pass.
//
// Everything here operates on an already-stopped arena; nothing in this
// package is reachable from the trace hot path.
package extract

import (
	"encoding/binary"
	"io"

	"github.com/kutrace/kutrace/arena"
	"github.com/kutrace/kutrace/wire"
)

// ChunkWords is the number of trace words one GET4KB-style bulk read
// transfers (4KB of trace data), matching spec.md §4.5's SET4KB/GET4KB
// control commands.
const ChunkWords = 512

// IPCChunkBytes is the number of IPC sidecar bytes one GETIPC4KB-style
// bulk read transfers. Because the sidecar holds one byte per trace
// word, a 4KB IPC chunk spans 8x as many trace-word positions as a 4KB
// trace chunk, the same 1-byte-per-word, 1/8-sized relationship that
// governs the sidecar's placement in the arena (spec.md §3, §4.4).
const IPCChunkBytes = 4096

// Extractor drains one Arena per spec.md §4.6. cursor is shared between
// Get4KB and GetIPC4KB: both index the same top-down linear trace-word
// address space WordAt/IPCByteAt use, just at different step sizes
// (512 words vs 4096 word-positions per call); a caller alternates
// SetCursor/Get4KB/GetIPC4KB to drain a block's trace words and its IPC
// sidecar at their natural relative sizes without a second cursor field.
type Extractor struct {
	a      *arena.Arena
	cursor uint64
}

// New returns an Extractor over a.
func New(a *arena.Arena) *Extractor {
	return &Extractor{a: a}
}

// SetCursor positions the bulk-read cursor at word-index offset in the
// top-down linear GETWORD address space, matching the SET4KB control
// command.
func (x *Extractor) SetCursor(offset uint64) { x.cursor = offset }

// Get4KB copies up to one 4KB chunk (512 trace words, little-endian)
// starting at the cursor into dst and advances the cursor by 512,
// matching the GET4KB control command. dst must be at least 4096 bytes;
// it returns the number of trailing bytes of dst left unfilled because
// the cursor ran past the end of the filled trace ("bytes uncopied").
func (x *Extractor) Get4KB(dst []byte) (uncopied uint64) {
	n := ChunkWords
	if len(dst) < n*8 {
		n = len(dst) / 8
	}
	var i int
	for ; i < n; i++ {
		word, ok := x.a.WordAt(x.cursor + uint64(i))
		if !ok {
			break
		}
		binary.LittleEndian.PutUint64(dst[i*8:], word)
	}
	x.cursor += ChunkWords
	for j := i * 8; j < len(dst); j++ {
		dst[j] = 0
	}
	return uint64(len(dst) - i*8)
}

// GetIPC4KB copies up to one 4KB chunk of IPC sidecar bytes starting at
// the cursor into dst and advances the cursor by 4096, matching the
// GETIPC4KB control command.
func (x *Extractor) GetIPC4KB(dst []byte) (uncopied uint64) {
	n := IPCChunkBytes
	if len(dst) < n {
		n = len(dst)
	}
	var i int
	for ; i < n; i++ {
		b, ok := x.a.IPCByteAt(x.cursor + uint64(i))
		if !ok {
			break
		}
		dst[i] = b
	}
	x.cursor += IPCChunkBytes
	for j := i; j < len(dst); j++ {
		dst[j] = 0
	}
	return uint64(len(dst) - i)
}

// blockCycles reads the full 56-bit cycle counter stamped in a block's
// header word 0, masking off the CPU-number byte.
func blockCycles(word0 uint64) uint64 {
	return word0 & wire.FullTimestampMask
}

// blockFlags reads a block's header flags byte (word 1, high byte).
func blockFlags(word1 uint64) byte {
	return byte(word1 >> wire.CPUNumberShift)
}

// patchFirstBlock applies spec.md §4.6 step 2: stamps the wire-format
// version, clears the WRAP flag if the run never actually wrapped, and
// writes the four start/stop anchor words into the reserved header
// slots. words is the live, mutable view of the very first block.
func patchFirstBlock(words []uint64, didWrap bool, start, stop Anchor) {
	flags := blockFlags(words[1])
	flags = (flags &^ wire.FlagVersionMask) | (wire.Version & wire.FlagVersionMask)
	if !didWrap {
		flags &^= wire.FlagWrap
	}
	words[1] = (words[1] &^ (uint64(0xFF) << wire.CPUNumberShift)) | uint64(flags)<<wire.CPUNumberShift

	words[wire.FirstBlockAnchorStartCycles] = start.Cycles
	words[wire.FirstBlockAnchorStartUsec] = start.Usec
	words[wire.FirstBlockAnchorStopCycles] = stop.Cycles
	words[wire.FirstBlockAnchorStopUsec] = stop.Usec
}

// patchGettimeofday applies spec.md §4.6 step 3: overwrites the low 56
// bits of a block's header word 1 with its reconstructed wall-clock
// microsecond value, leaving the flags byte (the high 8 bits) untouched.
func patchGettimeofday(words []uint64, start, stop Anchor) {
	usec := gettimeofday(start, stop, blockCycles(words[0]))
	words[1] = (words[1] &^ wire.FullTimestampMask) | (usec & wire.FullTimestampMask)
}

// Dump walks the arena from its very first block to its last-filled
// block (chronological, high-to-low address order) and writes the
// complete on-wire tracefile to w: each 64KB traceblock, patched per
// spec.md §4.6, followed by its 8KB IPC sidecar block whenever that
// block's header has the IPC flag set. start and stop are the
// (cycle, gettimeofday-usec) anchor pairs the caller sampled when it
// issued the ON and OFF control commands; Dump itself never calls
// gettimeofday (spec.md §1 names wall-clock reconstruction a
// non-goal of the hot engine; it is purely arithmetic here).
//
// Callers must have already issued OFF followed by FLUSH; Dump does not
// do so itself (it has no access to the control surface's privilege
// gate).
func (x *Extractor) Dump(w io.Writer, start, stop Anchor) error {
	return x.dump(w, start, stop, x.a.FilledBlocks())
}

// LiveDump is Dump's bounded variant for extracting a prefix of the
// trace while tracing may still be on, e.g. for a live monitoring view.
// It never reads more than maxBlocks traceblocks, oldest first. Each
// block is written whole, as in Dump, so a current block that has not
// been flushed is written with whatever its unfilled tail holds.
func (x *Extractor) LiveDump(w io.Writer, start, stop Anchor, maxBlocks uint64) error {
	n := x.a.FilledBlocks()
	if n > maxBlocks {
		n = maxBlocks
	}
	return x.dump(w, start, stop, n)
}

func (x *Extractor) dump(w io.Writer, start, stop Anchor, numBlocks uint64) error {
	words := x.a.Words()
	ipc := x.a.IPCBytes()

	for i := uint64(0); i < numBlocks; i++ {
		addr, ok := x.a.BlockStart(i)
		if !ok {
			break
		}
		block := words[addr : addr+wire.BlockWords]

		if i == 0 {
			patchFirstBlock(block, x.a.DidWrap(), start, stop)
		}
		patchGettimeofday(block, start, stop)

		if err := writeWords(w, block); err != nil {
			return err
		}

		if blockFlags(block[1])&wire.FlagIPC != 0 {
			lo, hi := addr, addr+wire.BlockWords
			if hi > uint64(len(ipc)) {
				hi = uint64(len(ipc))
			}
			if lo < hi {
				if _, err := w.Write(ipc[lo:hi]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeWords writes words as little-endian 8-byte records.
func writeWords(w io.Writer, words []uint64) error {
	var buf [8]byte
	for _, word := range words {
		binary.LittleEndian.PutUint64(buf[:], word)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}
