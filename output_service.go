package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const levelMeterWidth = 30

// painter colours text for a presentation so tests can render plain text.
type painter interface {
	Paint(p Presentation, s string) string
}

// colorPainter uses ANSI colours; fatih/color disables them when stdout is not a terminal.
type colorPainter struct {
	success, caution, attention func(a ...interface{}) string
}

func newColorPainter() *colorPainter {
	return &colorPainter{
		success:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		caution:   color.New(color.FgYellow).SprintFunc(),
		attention: color.New(color.FgRed, color.Bold).SprintFunc(),
	}
}

func (c *colorPainter) Paint(p Presentation, s string) string {
	switch p {
	case PresentationSuccess:
		return c.success(s)
	case PresentationCaution:
		return c.caution(s)
	case PresentationAttention:
		return c.attention(s)
	default:
		return s
	}
}

type plainPainter struct{}

func (plainPainter) Paint(_ Presentation, s string) string { return s }

// OutputService draws the practice prompt, the input level, session
// transitions and results on a terminal.
type OutputService struct {
	mu    sync.Mutex
	w     io.Writer
	paint painter
	rate  int

	// meterShown is set while the level meter occupies the current line.
	meterShown bool
}

// NewOutputService renders to color.Output, which handles Windows consoles.
// sampleRate converts sample counts to seconds.
func NewOutputService(sampleRate int) *OutputService {
	return &OutputService{w: color.Output, paint: newColorPainter(), rate: sampleRate}
}

// newOutputServiceWithWriter renders uncoloured text to w (tests only).
func newOutputServiceWithWriter(w io.Writer) *OutputService {
	return &OutputService{w: w, paint: plainPainter{}, rate: audioSampleRate}
}

// RenderPrompt shows the phrase to read and the available keys.
func (s *OutputService) RenderPrompt(target TargetPhrase, hotkeyCombo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeterLocked()

	fmt.Fprintf(s.w, "\nRead aloud:\n  %s\n\n", target.Text())
	keys := "[Enter] record/stop"
	if hotkeyCombo != "" {
		keys += " (or " + FormatHotkey(hotkeyCombo) + ")"
	}
	fmt.Fprintf(s.w, "%s  [r] reference  [h] history  [s] status  [q] quit\n", keys)
}

// RenderLevel redraws the input meter for one live frame.
func (s *OutputService) RenderLevel(frame []float32) {
	level := rms(frame)
	filled := int(math.Round(level * levelMeterWidth))
	if filled > levelMeterWidth {
		filled = levelMeterWidth
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r  %s%s %3.0f%%",
		strings.Repeat("█", filled), strings.Repeat("░", levelMeterWidth-filled), level*100)
	s.meterShown = true
}

// RenderState reports a session transition.
func (s *OutputService) RenderState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeterLocked()

	switch snap.State {
	case StateIdle:
		fmt.Fprintln(s.w, "ready")
	case StateRecording:
		fmt.Fprintln(s.w, s.paint.Paint(PresentationAttention, "●")+" recording, press Enter to stop")
	case StateStopped:
		fmt.Fprintf(s.w, "stopped (%.1fs of audio)\n", float64(snap.Samples)/float64(s.rate))
	case StateUploading:
		fmt.Fprintln(s.w, "evaluating…")
	case StateCompleted:
		s.renderWordsLocked(snap.Words, snap.Result)
	case StateFailed:
		msg := "recording failed"
		if snap.Err != nil {
			msg = snap.Err.Kind.UserMessage()
		}
		fmt.Fprintln(s.w, s.paint.Paint(PresentationAttention, msg))
	}
}

// RenderWords prints the coloured word list followed by a label summary.
func (s *OutputService) RenderWords(words []MappedWord, result EvaluationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeterLocked()
	s.renderWordsLocked(words, result)
}

func (s *OutputService) renderWordsLocked(words []MappedWord, result EvaluationResult) {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		text := w.Word
		if w.Result != nil {
			text = fmt.Sprintf("%s(%.2f)", w.Word, w.Result.Score)
		}
		parts = append(parts, s.paint.Paint(w.Presentation(), text))
	}
	fmt.Fprintf(s.w, "\n  %s\n", strings.Join(parts, " "))

	c := CountLabels(result)
	fmt.Fprintf(s.w, "  passed %d  average %d  failed %d  score %.2f\n",
		c.Passed, c.Average, c.Failed, AverageScore(result))
}

// RenderHistory lists past attempts, newest first, each with the id that
// --attempt accepts.
func (s *OutputService) RenderHistory(attempts []Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeterLocked()

	if len(attempts) == 0 {
		fmt.Fprintln(s.w, "no attempts yet")
		return
	}
	for _, a := range attempts {
		score := fmt.Sprintf("%6.2f", a.AverageScore)
		fmt.Fprintf(s.w, "%s  %s  %s/%s/%s  %s  [%s]\n",
			a.CreatedAt.Local().Format("2006-01-02 15:04"),
			score,
			s.paint.Paint(PresentationSuccess, fmt.Sprint(a.Passed)),
			s.paint.Paint(PresentationCaution, fmt.Sprint(a.Average)),
			s.paint.Paint(PresentationAttention, fmt.Sprint(a.Failed)),
			a.TargetText,
			a.ID)
	}
}

// Notice prints a one-line message; err != nil renders it as an error.
func (s *OutputService) Notice(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeterLocked()

	if err != nil {
		fmt.Fprintln(s.w, s.paint.Paint(PresentationAttention, fmt.Sprintf("%s: %v", msg, err)))
		return
	}
	fmt.Fprintln(s.w, msg)
}

func (s *OutputService) clearMeterLocked() {
	if s.meterShown {
		fmt.Fprintln(s.w)
		s.meterShown = false
	}
}

// rms is the root mean square of frame, in [0, 1] for normalized input.
func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, v := range frame {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
