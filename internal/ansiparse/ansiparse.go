// Package ansiparse compiles the in-band "$C"/"$c" markup language into
// ANSI SGR escape sequences. The compiler is a pure function of its input
// string and an ansi_mode flag: it never fails, and unparseable codes fall
// back to the default style rather than producing an error.
package ansiparse

import (
	"strconv"
	"strings"
)

// Style is one SGR attribute flag.
type Style int

const (
	StyleNone Style = iota
	StyleBold
	StyleFaint
	StyleItalic
	StyleUnderline
	StyleBlink
	StyleReverse
)

// styleTable maps the markup's single-digit style selector (0-6) to a Style.
var styleTable = [...]Style{
	0: StyleNone,
	1: StyleBold,
	2: StyleFaint,
	3: StyleItalic,
	4: StyleUnderline,
	5: StyleBlink,
	6: StyleReverse,
}

// Color is a slot in the 8-color table shared by foreground and background.
type Color int

const (
	ColorBlack Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorPurple
	ColorCyan
	ColorWhite
)

// colorTable maps the markup's single-digit background selector (0-7) to a
// Color; the same table gives the numeric base of a foreground entry.
var colorTable = [...]Color{
	0: ColorBlack,
	1: ColorRed,
	2: ColorGreen,
	3: ColorYellow,
	4: ColorBlue,
	5: ColorPurple,
	6: ColorCyan,
	7: ColorWhite,
}

type fgEntry struct {
	intrinsic Style
	color     Color
}

// fgTable is the 32-entry foreground lookup: two-digit codes "00".."15" and
// their named-letter aliases, where the "08"-"15" numeric range, the
// uppercase letters R/G/Y/B/P/C/W, and the lowercase "x" carry an intrinsic
// Bold ("0X" is plain black).
var fgTable = map[string]fgEntry{
	"00": {StyleNone, ColorBlack}, "0X": {StyleNone, ColorBlack}, "0x": {StyleBold, ColorBlack},
	"01": {StyleNone, ColorRed}, "0r": {StyleNone, ColorRed}, "0R": {StyleBold, ColorRed},
	"02": {StyleNone, ColorGreen}, "0g": {StyleNone, ColorGreen}, "0G": {StyleBold, ColorGreen},
	"03": {StyleNone, ColorYellow}, "0y": {StyleNone, ColorYellow}, "0Y": {StyleBold, ColorYellow},
	"04": {StyleNone, ColorBlue}, "0b": {StyleNone, ColorBlue}, "0B": {StyleBold, ColorBlue},
	"05": {StyleNone, ColorPurple}, "0p": {StyleNone, ColorPurple}, "0P": {StyleBold, ColorPurple},
	"06": {StyleNone, ColorCyan}, "0c": {StyleNone, ColorCyan}, "0C": {StyleBold, ColorCyan},
	"07": {StyleNone, ColorWhite}, "0w": {StyleNone, ColorWhite}, "0W": {StyleBold, ColorWhite},
	"08": {StyleBold, ColorBlack},
	"09": {StyleBold, ColorRed},
	"10": {StyleBold, ColorGreen},
	"11": {StyleBold, ColorYellow},
	"12": {StyleBold, ColorBlue},
	"13": {StyleBold, ColorPurple},
	"14": {StyleBold, ColorCyan},
	"15": {StyleBold, ColorWhite},
}

// DefaultCode is applied to any text that precedes the first marker, falls
// between two markers with no marker of its own, or follows a parse
// failure.
const DefaultCode = "0007"

// Params is a compiled style: the set of active attribute flags plus a
// background and foreground color.
type Params struct {
	Styles []Style
	Bg     Color
	Fg     Color
}

func (p Params) equal(o Params) bool {
	if p.Bg != o.Bg || p.Fg != o.Fg || len(p.Styles) != len(o.Styles) {
		return false
	}
	for i := range p.Styles {
		if p.Styles[i] != o.Styles[i] {
			return false
		}
	}
	return true
}

// Compile turns a four-character code (style digit, background digit,
// two-character foreground selector) into Params. Any component that fails
// to parse falls back to its default rather than erroring.
func Compile(code string) Params {
	if len(code) != 4 {
		code = DefaultCode
	}

	styleDigit, err := strconv.Atoi(code[0:1])
	style := StyleNone
	if err == nil && styleDigit >= 0 && styleDigit < len(styleTable) {
		style = styleTable[styleDigit]
	}

	bgDigit, err := strconv.Atoi(code[1:2])
	bg := ColorBlack
	if err == nil && bgDigit >= 0 && bgDigit < len(colorTable) {
		bg = colorTable[bgDigit]
	}

	fgCode := code[2:4]
	fg, ok := fgTable[fgCode]
	if !ok {
		fg = fgTable[DefaultCode[2:4]]
	}

	var styles []Style
	switch {
	case fg.intrinsic == StyleNone && style == StyleBold:
		styles = []Style{StyleNone}
	case style == StyleNone:
		styles = []Style{fg.intrinsic}
	default:
		styles = []Style{style, fg.intrinsic}
	}

	return Params{Styles: styles, Bg: bg, Fg: fg.color}
}

// part is one segment produced by Scan: text styled uniformly by code,
// followed by the line terminator (if any) that ended the segment.
type part struct {
	code string
	text string
	eol  string
}

// scan splits message into parts per the markup grammar: a marker is
// "$C" or "$c" followed by a style digit, a background digit, and a
// two-character foreground selector. A styled run ends at the next marker,
// the next CR/LF run, or end of string, whichever comes first. Text outside
// any marker — including everything before the first one — is assigned
// DefaultCode.
func scan(message string) []part {
	var parts []part
	pos := 0
	n := len(message)

	for pos < n {
		markerPos, code, markerLen := findMarker(message, pos)
		if markerPos < 0 {
			parts = append(parts, part{code: DefaultCode, text: message[pos:]})
			break
		}
		if markerPos > pos {
			parts = append(parts, part{code: DefaultCode, text: message[pos:markerPos]})
		}

		contentStart := markerPos + markerLen
		nlStart, nlEnd := findNewlineRun(message, contentStart)
		nextMarkerPos, _, _ := findMarker(message, contentStart)

		var end int
		var eol string
		switch {
		case nlStart >= 0 && (nextMarkerPos < 0 || nlStart <= nextMarkerPos):
			end = nlStart
			eol = message[nlStart:nlEnd]
			pos = nlEnd
		case nextMarkerPos >= 0:
			end = nextMarkerPos
			pos = nextMarkerPos
		default:
			end = n
			pos = n
		}

		parts = append(parts, part{code: code, text: message[contentStart:end], eol: eol})
	}

	if len(parts) == 0 {
		parts = append(parts, part{code: DefaultCode, text: message})
	}
	return parts
}

// findMarker locates the next "$C"/"$c" marker at or after from, validating
// that it is followed by three digits and one non-whitespace byte. It
// returns the marker's start index, its 4-character code, and the total
// byte length consumed ("$C" plus the code), or -1 if none is found.
func findMarker(message string, from int) (int, string, int) {
	for i := from; i < len(message)-1; i++ {
		if (message[i] != '$') || (message[i+1] != 'C' && message[i+1] != 'c') {
			continue
		}
		codeStart := i + 2
		if codeStart+4 > len(message) {
			continue
		}
		code := message[codeStart : codeStart+4]
		if !isDigit(code[0]) || !isDigit(code[1]) || !isDigit(code[2]) || isSpace(code[3]) {
			continue
		}
		return i, code, 2 + 4
	}
	return -1, "", 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

// findNewlineRun finds the first contiguous run of CR/LF bytes at or after
// from, returning its [start, end) or (-1, -1) if there is none.
func findNewlineRun(message string, from int) (int, int) {
	start := -1
	for i := from; i < len(message); i++ {
		if message[i] == '\r' || message[i] == '\n' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return start, i
		}
	}
	if start >= 0 {
		return start, len(message)
	}
	return -1, -1
}

var styleCodes = map[Style]string{
	StyleNone:      "",
	StyleBold:      "1",
	StyleFaint:     "2",
	StyleItalic:    "3",
	StyleUnderline: "4",
	StyleBlink:     "5",
	StyleReverse:   "7",
}

// sgr renders Params as a single SGR escape sequence, e.g. "\x1b[0;1;44;37m".
func sgr(p Params) string {
	codes := []string{"0"}
	for _, s := range p.Styles {
		if c := styleCodes[s]; c != "" {
			codes = append(codes, c)
		}
	}
	codes = append(codes, strconv.Itoa(40+int(p.Bg)), strconv.Itoa(30+int(p.Fg)))
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

// CompileMessage renders a message for output. With ansiMode false, it is the
// identity function over the markup-free reconstruction: markers are
// removed but no escape sequences are produced. With ansiMode true,
// adjacent parts that compile to identical Params share a single SGR
// prefix, per the idempotency and no-duplicate-prefix invariants.
func CompileMessage(message string, ansiMode bool) []byte {
	parts := scan(message)

	var out []byte
	var prev Params
	havePrev := false

	for _, pt := range parts {
		if !ansiMode {
			out = append(out, pt.text...)
			out = append(out, pt.eol...)
			continue
		}

		params := Compile(pt.code)
		if havePrev && params.equal(prev) {
			out = append(out, pt.text...)
		} else {
			out = append(out, sgr(params)...)
			out = append(out, pt.text...)
		}
		out = append(out, pt.eol...)
		prev = params
		havePrev = true
	}

	return out
}
