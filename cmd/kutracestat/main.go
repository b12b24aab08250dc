// Command kutracestat is a minimal status/version dumper over the
// capture engine, the one concession in this repo to having something
// runnable (spec.md §1 names the real control CLI and post-processing
// tools out of scope; this exercises engine+extract end to end the way
// cmd/dump exercises perffile in the teacher).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/kutrace/kutrace/config"
	"github.com/kutrace/kutrace/engine"
	"github.com/kutrace/kutrace/extract"
	"github.com/kutrace/kutrace/timesource"
	"github.com/kutrace/kutrace/wire"
)

func main() {
	var (
		flagCPUs    = flag.Int("cpus", runtime.NumCPU(), "number of logical CPUs to trace")
		flagTraceMB = flag.Int("tracemb", 2, "arena size in megabytes")
		flagOutput  = flag.String("o", "", "dump the trace to this `file` after running (demo subcommand only)")
	)
	flag.Parse()

	sub := "version"
	if flag.NArg() > 0 {
		sub = flag.Arg(0)
	}

	cfg := config.Default()
	cfg.TraceMB = *flagTraceMB

	sources := make([]timesource.Source, *flagCPUs)
	for i := range sources {
		sources[i] = timesource.New(i)
	}
	namePID := func() (uint64, [wire.ProcessNameBytes]byte) {
		var name [wire.ProcessNameBytes]byte
		copy(name[:], "kutracestat")
		return uint64(os.Getpid()), name
	}
	e := engine.New(cfg, sources, namePID, nil)

	switch sub {
	case "version":
		fmt.Println(e.Control(0, engine.CmdVersion, 0, true, nil))
	case "stat":
		fmt.Printf("filled blocks: %d\n", e.Control(0, engine.CmdStat, 0, true, nil))
	case "demo":
		runDemo(e, *flagOutput)
	default:
		log.Fatalf("kutracestat: unknown subcommand %q (want version, stat, or demo)", sub)
	}
}

// runDemo exercises RESET, ON, a handful of marks on CPU 0, OFF, FLUSH,
// and, when outputPath is set, a full Dump, end to end, the same
// lifecycle an embedding program
// drives, just compressed into one process instead of two.
func runDemo(e *engine.Engine, outputPath string) {
	e.Control(0, engine.CmdReset, 0x1, true, nil) // DO_IPC, wrap off
	e.Control(0, engine.CmdOn, 0, true, nil)
	startAnchor := extract.Anchor{Cycles: e.NowCycles(0), Usec: nowUsec()}

	for i := 0; i < 8; i++ {
		e.Trace1(0, wire.EventMarkA, uint64(i))
		time.Sleep(time.Microsecond)
	}

	stopAnchor := extract.Anchor{Cycles: e.NowCycles(0), Usec: nowUsec()}
	e.Control(0, engine.CmdOff, 0, true, nil)
	e.Control(0, engine.CmdFlush, 0, true, nil)

	count := e.Control(0, engine.CmdGetCount, 0, true, nil)
	fmt.Printf("captured %d words\n", count)

	if outputPath == "" {
		return
	}
	f, err := os.Create(outputPath)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	x := extract.New(e.Arena())
	if err := x.Dump(f, startAnchor, stopAnchor); err != nil {
		log.Fatal(err)
	}
}

func nowUsec() uint64 {
	return uint64(time.Now().UnixMicro())
}
