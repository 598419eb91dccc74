package chat

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const goodbye = "Goodbye! 👋"

// Renderer writes styled console output. Colors follow the terminal
// capabilities of out; Markdown rendering is optional.
type Renderer struct {
	out      io.Writer
	markdown *glamour.TermRenderer

	panel    lipgloss.Style
	title    lipgloss.Style
	prompt   lipgloss.Style
	label    lipgloss.Style
	reply    lipgloss.Style
	system   lipgloss.Style
	dim      lipgloss.Style
	farewell lipgloss.Style
}

// NewRenderer builds a renderer for out. When markdown is set, replies are
// rendered through glamour with an automatic dark/light style.
func NewRenderer(out io.Writer, markdown bool) *Renderer {
	lr := lipgloss.NewRenderer(out)
	r := &Renderer{
		out:      out,
		panel:    lr.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#8BC34A")).Padding(0, 1),
		title:    lr.NewStyle().Bold(true).Foreground(lipgloss.Color("#5C9CF5")),
		prompt:   lr.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		label:    lr.NewStyle().Bold(true).Foreground(lipgloss.Color("#5C9CF5")),
		reply:    lr.NewStyle().Foreground(lipgloss.Color("#5C9CF5")),
		system:   lr.NewStyle().Foreground(lipgloss.Color("#F5C542")),
		dim:      lr.NewStyle().Faint(true),
		farewell: lr.NewStyle().Bold(true).Foreground(lipgloss.Color("#F5C542")),
	}
	if markdown {
		tr, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			r.markdown = tr
		}
	}
	return r
}

// Welcome prints the banner and the usage hints.
func (r *Renderer) Welcome(agentName string) {
	banner := r.panel.Render(r.title.Render(fmt.Sprintf("🤖 %s Terminal Chat", agentName)))
	fmt.Fprintln(r.out, banner)
	fmt.Fprintln(r.out, "Type your messages and press Enter. Type 'quit' or 'exit' to stop.")
	fmt.Fprintln(r.out, "Commands: 'history' - show recent conversation")
	fmt.Fprintln(r.out)
}

// Prompt prints the input prompt without a trailing newline.
func (r *Renderer) Prompt() {
	fmt.Fprint(r.out, r.prompt.Render("You")+": ")
}

// Reply prints a model reply, as Markdown when enabled.
func (r *Renderer) Reply(text string) {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(r.out, r.label.Render("AI:")+" "+r.dim.Render("(no response)"))
		fmt.Fprintln(r.out)
		return
	}
	if r.markdown != nil {
		if rendered, err := r.markdown.Render(text); err == nil {
			fmt.Fprintln(r.out, r.label.Render("AI:"))
			fmt.Fprint(r.out, rendered)
			fmt.Fprintln(r.out)
			return
		}
	}
	fmt.Fprintln(r.out, r.label.Render("AI:")+" "+r.reply.Render(text))
	fmt.Fprintln(r.out)
}

// System prints a bracketed system note.
func (r *Renderer) System(format string, args ...any) {
	fmt.Fprintln(r.out, r.system.Render("[System] "+fmt.Sprintf(format, args...)))
	fmt.Fprintln(r.out)
}

// Line prints plain text.
func (r *Renderer) Line(text string) {
	fmt.Fprintln(r.out, text)
}

// Goodbye prints the farewell. leadingNewline is used when the prompt line
// was left open by an interrupted read.
func (r *Renderer) Goodbye(leadingNewline bool) {
	prefix := ""
	if leadingNewline {
		prefix = "\n"
	}
	fmt.Fprintln(r.out, prefix+r.farewell.Render(goodbye))
}
