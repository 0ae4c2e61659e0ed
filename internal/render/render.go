// Package render prints conversation turns and session rows for a
// terminal.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

var (
	colorUser   = lipgloss.Color("12")  // bright blue
	colorAssist = lipgloss.Color("10")  // bright green
	colorTool   = lipgloss.Color("11")  // bright yellow
	colorDim    = lipgloss.Color("240") // gray

	styleUser   = lipgloss.NewStyle().Foreground(colorUser).Bold(true)
	styleAssist = lipgloss.NewStyle().Foreground(colorAssist).Bold(true)
	styleTool   = lipgloss.NewStyle().Foreground(colorTool).Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
	styleHit    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

const timeLayout = "2006-01-02 15:04:05"

type Options struct {
	Width int    // wrap width (0 = no wrap)
	Query string // highlighted when Color is set
	Color bool
	// Hide drops events of these kinds.
	Hide []model.VisibilityKind
}

func (o Options) style(s lipgloss.Style, text string) string {
	if !o.Color {
		return text
	}
	return s.Render(text)
}

func (o Options) hidden(k model.VisibilityKind) bool {
	for _, h := range o.Hide {
		if h == k {
			return true
		}
	}
	return false
}

// highlightKeywords marks case-insensitive matches of the query terms.
func highlightKeywords(text, query string, o Options) string {
	if query == "" || !o.Color {
		return text
	}
	for _, term := range strings.Fields(query) {
		lower := strings.ToLower(term)
		i := 0
		for i < len(text) {
			idx := strings.Index(strings.ToLower(text[i:]), lower)
			if idx < 0 || len(strings.ToLower(text[i:])) != len(text[i:]) {
				break
			}
			pos := i + idx
			replacement := styleHit.Render(text[pos : pos+len(term)])
			text = text[:pos] + replacement + text[pos+len(term):]
			i = pos + len(replacement)
		}
	}
	return text
}

// indentLines prepends each line of text with the given prefix.
func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// wrapLine breaks a single line into multiple lines that fit within maxWidth
// visible columns, correctly skipping ANSI escape sequences when measuring width.
func wrapLine(line string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{line}
	}

	var result []string
	var cur strings.Builder
	visW := 0

	i := 0
	for i < len(line) {
		// check for ANSI escape sequence: ESC[ ... m
		if i+1 < len(line) && line[i] == '\033' && line[i+1] == '[' {
			j := i + 2
			for j < len(line) && line[j] != 'm' {
				j++
			}
			if j < len(line) {
				j++ // include 'm'
			}
			cur.WriteString(line[i:j])
			i = j
			continue
		}

		r, size := utf8.DecodeRuneInString(line[i:])
		rw := runewidth.RuneWidth(r)

		if visW+rw > maxWidth {
			result = append(result, cur.String())
			cur.Reset()
			visW = 0
		}

		cur.WriteRune(r)
		visW += rw
		i += size
	}

	if cur.Len() > 0 {
		result = append(result, cur.String())
	}

	if len(result) == 0 {
		return []string{""}
	}
	return result
}

func (o Options) label(ev model.TimelineEvent) string {
	switch ev.Kind {
	case model.KindUserMessage:
		return o.style(styleUser, "USER")
	case model.KindAssistantMessage:
		return o.style(styleAssist, "ASST")
	case model.KindReasoning:
		return o.style(styleDim, "THINK")
	case model.KindToolCall, model.KindCodeEdit:
		name := "TOOL"
		if ev.Title != "" {
			name += " " + ev.Title
		}
		return o.style(styleTool, name)
	case model.KindTokenUsage:
		return o.style(styleDim, "TOKENS")
	case model.KindEnvironmentContext:
		return o.style(styleDim, "ENV")
	}
	if ev.Title != "" {
		return o.style(styleDim, strings.ToUpper(ev.Title))
	}
	return o.style(styleDim, strings.ToUpper(string(ev.Actor)))
}

// Conversation renders a session header followed by its turns.
func Conversation(sum model.SessionSummary, turns []model.ConversationTurn, o Options) string {
	var b strings.Builder
	writeLine := func(s string) {
		for _, wl := range wrapLine(s, o.Width) {
			b.WriteString(wl)
			b.WriteString("\n")
		}
	}

	writeLine(o.style(styleDim, fmt.Sprintf("--- %s [%s] %s ---", sum.ID, sum.Source, sum.Cwd)))
	if sum.Title != "" {
		writeLine(sum.Title)
	}
	if len(turns) == 0 {
		writeLine("(empty session)")
		return b.String()
	}

	separator := o.style(styleDim, strings.Repeat("-", 50))
	writeEvent := func(ev model.TimelineEvent) {
		if o.hidden(ev.Kind) {
			return
		}
		header := fmt.Sprintf("%s > %s", o.label(ev), o.style(styleDim, ev.Timestamp.Local().Format(timeLayout)))
		if ev.RepeatCount > 1 {
			header += o.style(styleDim, fmt.Sprintf(" (x%d)", ev.RepeatCount))
		}
		writeLine(header)
		text := ev.Text
		if ev.Kind == model.KindReasoning {
			text = o.style(styleDim, text)
		}
		text = highlightKeywords(text, o.Query, o)
		for _, l := range strings.Split(indentLines(text, "  "), "\n") {
			writeLine(l)
		}
	}

	for i, t := range turns {
		if i > 0 {
			writeLine(separator)
		}
		if t.UserMessage != nil {
			writeEvent(*t.UserMessage)
		}
		for _, ev := range t.Outputs {
			writeEvent(ev)
		}
	}
	return b.String()
}

// SessionLine is a one-line listing of a session, truncated to width
// columns when width is positive.
func SessionLine(s model.SessionSummary, width int, color bool) string {
	o := Options{Color: color}
	src := fmt.Sprintf("%-6s", s.Source)
	switch s.Source {
	case model.SourceClaude:
		src = o.style(styleUser, src)
	case model.SourceCodex:
		src = o.style(styleAssist, src)
	default:
		src = o.style(styleTool, src)
	}
	title := s.Title
	if title == "" {
		title = s.ID
	}
	ts := s.UpdatedAt().Local().Format("2006-01-02 15:04")
	prefix := ts + "  " + src + "  "
	if width > 0 {
		room := width - runewidth.StringWidth(ts) - 6 - 4
		title = runewidth.Truncate(title, max(room, 1), "…")
	}
	return prefix + title
}
