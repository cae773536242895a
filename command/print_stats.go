package command

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"
)

// tailCommands mirrors the original's TAIL_COMMANDS: the last few gcode
// lines of a file are typically end-of-print housekeeping (cooldown,
// parking) that shouldn't be counted toward "100% done" or the estimate
// goes negative right at the end.
const tailCommands = 3

// PrintStats tracks elapsed/remaining time and percent-done for the
// current job from a gcode-line cursor, grounded on
// printer_adapter/print_stats.py. It is in-memory, live-tracking state for
// the current job only — spec.md's Non-goal "storage of print history"
// does not exclude it (SPEC_FULL.md §4).
type PrintStats struct {
	mu sync.Mutex

	totalGcodeCount int
	hasInbuiltStats bool
	printTime       time.Duration
	segmentStart    time.Time
}

// NewPrintStats builds an idle PrintStats; call TrackNewPrint to start
// counting a file.
func NewPrintStats(now time.Time) *PrintStats {
	return &PrintStats{segmentStart: now}
}

// TrackNewPrint counts the gcode lines in filePath and notes whether the
// file carries its own M73 percent/time reporting, resetting the elapsed
// timer.
func (p *PrintStats) TrackNewPrint(filePath string, now time.Time) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	count := 0
	hasInbuilt := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		gcode := gcodeOf(scanner.Text())
		if gcode == "" {
			continue
		}
		count++
		if strings.Contains(gcode, "M73") {
			hasInbuilt = true
		}
	}

	p.mu.Lock()
	p.totalGcodeCount = count
	p.hasInbuiltStats = hasInbuilt
	p.printTime = 0
	p.segmentStart = now
	p.mu.Unlock()
	return scanner.Err()
}

// gcodeOf strips a line down to its command (before any ';' comment),
// mirroring the original's get_gcode.
func gcodeOf(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// EndTimeSegment folds elapsed wall time since the last segment start into
// PrintTime, e.g. right before a pause.
func (p *PrintStats) EndTimeSegment(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printTime += now.Sub(p.segmentStart)
}

// StartTimeSegment resets the segment clock, e.g. right after a resume.
func (p *PrintStats) StartTimeSegment(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segmentStart = now
}

// HasInbuiltStats reports whether the tracked file carries its own M73
// percent/time reporting (in which case callers should prefer that over
// this estimate).
func (p *PrintStats) HasInbuiltStats() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasInbuiltStats
}

// Stats returns (percentDone, minutesRemaining) given how many gcode lines
// have been executed so far, ending and restarting the current time
// segment as a side effect (mirrors get_stats).
func (p *PrintStats) Stats(gcodeNumber int, now time.Time) (percentDone int, minutesRemaining int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.printTime += now.Sub(p.segmentStart)
	p.segmentStart = now

	if p.totalGcodeCount == 0 || gcodeNumber == 0 {
		return 0, 0
	}

	timePerCommand := p.printTime.Seconds() / float64(gcodeNumber)
	totalTime := timePerCommand * float64(p.totalGcodeCount)
	secRemaining := totalTime - p.printTime.Seconds()
	minutesRemaining = int(secRemaining/60 + 0.5)

	fractionDone := float64(gcodeNumber) / float64(p.totalGcodeCount)
	percentDone = int(fractionDone*100 + 0.5)

	if gcodeNumber == p.totalGcodeCount-tailCommands {
		return 100, minutesRemaining
	}
	return percentDone, minutesRemaining
}

// TimePrinting returns total elapsed print time, including the
// in-progress segment.
func (p *PrintStats) TimePrinting(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printTime + now.Sub(p.segmentStart)
}
