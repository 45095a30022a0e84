package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Color modes accepted by --color.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ValidColorModes defines the allowed --color values.
var ValidColorModes = []string{ColorAuto, ColorAlways, ColorNever}

// Some color ANSI codes
var (
	reset        = []byte("\033[0m")
	green        = []byte("\033[32m")
	yellow       = []byte("\033[33m")
	dimWhite     = []byte("\033[37;2m")
	brightBlue   = []byte("\033[34;1m")
	brightYellow = []byte("\033[33;1m")
)

// outputWriter returns the writer commands print to and whether JSON should
// be colorized. Auto colorizes only when w is the process stdout attached
// to a terminal.
func outputWriter(mode string, w io.Writer) (io.Writer, bool, error) {
	switch mode {
	case ColorNever, "":
		return w, false, nil
	case ColorAlways:
		if w == os.Stdout {
			return colorable.NewColorableStdout(), true, nil
		}
		return w, true, nil
	case ColorAuto:
		if w == os.Stdout && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())) {
			return colorable.NewColorableStdout(), true, nil
		}
		return w, false, nil
	}
	return nil, false, fmt.Errorf("invalid color mode %q: must be one of %v", mode, ValidColorModes)
}

// colorizeJSON wraps keys, strings, numbers and literals of an encoded JSON
// document in ANSI color codes.
func colorizeJSON(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data) * 2)
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '"':
			end := stringEnd(data, i)
			color := green
			if isKey(data, end) {
				color = brightBlue
			}
			out.Write(color)
			out.Write(data[i:end])
			out.Write(reset)
			i = end
		case c == '-' || (c >= '0' && c <= '9'):
			end := i + 1
			for end < len(data) && bytes.IndexByte([]byte("0123456789.eE+-"), data[end]) >= 0 {
				end++
			}
			out.Write(yellow)
			out.Write(data[i:end])
			out.Write(reset)
			i = end
		case c == 't' || c == 'f' || c == 'n':
			end := i + 1
			for end < len(data) && data[end] >= 'a' && data[end] <= 'z' {
				end++
			}
			color := brightYellow
			if c == 'n' {
				color = dimWhite
			}
			out.Write(color)
			out.Write(data[i:end])
			out.Write(reset)
			i = end
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.Bytes()
}

// stringEnd returns the index just past the string literal starting at i.
func stringEnd(data []byte, i int) int {
	for j := i + 1; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(data)
}

func isKey(data []byte, end int) bool {
	for j := end; j < len(data); j++ {
		switch data[j] {
		case ' ', '\n', '\t', '\r':
			continue
		case ':':
			return true
		default:
			return false
		}
	}
	return false
}
