// Package srt parses and formats SubRip timed captions.
package srt

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrEmpty is returned when a document contains no caption blocks
var ErrEmpty = errors.New("srt: no caption blocks")

// Cue is one numbered caption block
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Lines []string
}

// Text joins the caption lines with newlines
func (c Cue) Text() string {
	return strings.Join(c.Lines, "\n")
}

// Parse reads an SRT document. Indexes in the input are ignored and
// renumbered from 1 so that Format always produces a canonical document.
func Parse(doc string) ([]Cue, error) {
	doc = strings.TrimPrefix(doc, "\ufeff")
	doc = strings.ReplaceAll(doc, "\r\n", "\n")

	var cues []Cue
	scanner := bufio.NewScanner(strings.NewReader(doc))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var block []string
	lineNo := 0
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		cue, err := parseBlock(block)
		if err != nil {
			return fmt.Errorf("srt: block ending at line %d: %w", lineNo, err)
		}
		cue.Index = len(cues) + 1
		cues = append(cues, cue)
		block = block[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("srt: read: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, ErrEmpty
	}
	return cues, nil
}

func parseBlock(lines []string) (Cue, error) {
	var cue Cue
	// The numeric index line is optional; some providers omit it.
	if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return cue, errors.New("missing timing line")
	}
	start, end, err := parseTiming(lines[0])
	if err != nil {
		return cue, err
	}
	cue.Start = start
	cue.End = end
	cue.Lines = append([]string(nil), lines[1:]...)
	return cue, nil
}

func parseTiming(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := ParseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	// Position hints may follow the end timestamp.
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	end, err := ParseTimestamp(endField[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("end %s before start %s", FormatTimestamp(end), FormatTimestamp(start))
	}
	return start, end, nil
}

// ParseTimestamp parses HH:MM:SS,mmm. A dot separator is also accepted.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.Replace(s, ".", ",", 1)
	hms, msPart, ok := strings.Cut(s, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	fields := strings.Split(hms, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var vals [4]int
	for i, f := range append(fields, msPart) {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		vals[i] = n
	}
	if vals[1] > 59 || vals[2] > 59 || vals[3] > 999 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second +
		time.Duration(vals[3])*time.Millisecond, nil
}

// FormatTimestamp renders d as HH:MM:SS,mmm
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Format renders cues as a canonical SRT document
func Format(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, FormatTimestamp(c.Start), FormatTimestamp(c.End))
		for _, line := range c.Lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Normalize parses and re-serializes a document
func Normalize(doc string) (string, error) {
	cues, err := Parse(doc)
	if err != nil {
		return "", err
	}
	return Format(cues), nil
}

// Texts returns only the caption text of each cue, in order
func Texts(cues []Cue) []string {
	out := make([]string, len(cues))
	for i, c := range cues {
		out[i] = c.Text()
	}
	return out
}

// ReplaceTexts returns a copy of cues with caption text swapped in.
// Timings are kept, so a translation can never shift the track.
func ReplaceTexts(cues []Cue, texts []string) ([]Cue, error) {
	if len(texts) != len(cues) {
		return nil, fmt.Errorf("srt: got %d texts for %d cues", len(texts), len(cues))
	}
	out := make([]Cue, len(cues))
	for i, c := range cues {
		c.Lines = strings.Split(strings.TrimSpace(texts[i]), "\n")
		out[i] = c
	}
	return out, nil
}
