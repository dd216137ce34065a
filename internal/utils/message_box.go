package utils

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// MessageType selects the colour and icon of a message box
type MessageType int

const (
	InfoMessage MessageType = iota
	SuccessMessage
	WarningMessage
	ErrorMessage
)

var boxStyles = map[MessageType]struct {
	color lipgloss.Color
	icon  string
}{
	InfoMessage:    {lipgloss.Color("86"), "ℹ"},
	SuccessMessage: {lipgloss.Color("42"), "✓"},
	WarningMessage: {lipgloss.Color("178"), "⚠"},
	ErrorMessage:   {lipgloss.Color("196"), "✗"},
}

// Box is a builder for bordered status messages
type Box struct {
	messageType MessageType
	title       string
	lines       []string
	width       int
}

// NewBox creates a message box sized to the terminal
func NewBox(messageType MessageType, title string) *Box {
	return &Box{
		messageType: messageType,
		title:       title,
		width:       terminalWidth() - 8,
	}
}

// WithWidth overrides the maximum box width
func (b *Box) WithWidth(width int) *Box {
	b.width = width
	return b
}

// AddLine adds a line of text
func (b *Box) AddLine(text string) *Box {
	b.lines = append(b.lines, text)
	return b
}

// AddKeyValue adds an aligned "key: value" line
func (b *Box) AddKeyValue(key, value string) *Box {
	return b.AddLine(key + ": " + value)
}

// AddBullet adds a bulleted line
func (b *Box) AddBullet(text string) *Box {
	return b.AddLine("• " + text)
}

// Render returns the box as a string
func (b *Box) Render() string {
	s, ok := boxStyles[b.messageType]
	if !ok {
		s = boxStyles[InfoMessage]
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(s.color).Render(s.icon + " " + b.title)
	body := append([]string{title}, b.lines...)

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.color).
		Padding(0, 1)
	if b.width > 10 {
		// lipgloss width includes padding but not the border
		style = style.Width(b.width - 2)
	}
	return style.Render(strings.Join(body, "\n"))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
