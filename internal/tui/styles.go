package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-relay/core/transcript"
)

var (
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	statusStyle         = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	pendingStyle        = lipgloss.NewStyle().Faint(true)
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func label(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return userLabelStyle.Render("You")
	case transcript.RoleStatus:
		return ""
	default:
		return assistantLabelStyle.Render("Assistant")
	}
}
