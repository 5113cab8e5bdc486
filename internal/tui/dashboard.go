package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/netscan/internal/engine"
	"github.com/user/netscan/internal/probes"
)

// View renders the UI.
func (m scanModel) View() string {
	var sb strings.Builder

	width := m.width
	if width < 60 {
		width = 60
	}

	sb.WriteString(HeaderStyle.Width(width).Render("netscan: " + m.req.Mode.Label()))
	sb.WriteString("\n\n")

	sb.WriteString(m.renderSummary(width - 4))
	sb.WriteString("\n")

	if len(m.hosts) == 0 {
		if m.running {
			sb.WriteString(DimStyle.Render("No hosts discovered yet"))
		} else {
			sb.WriteString(DimStyle.Render("No hosts found"))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString(m.table.View())
		sb.WriteString("\n")
		sb.WriteString(m.renderSelected())
	}

	if m.err != nil {
		sb.WriteString("\n")
		sb.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
	}
	if m.notice != "" {
		sb.WriteString("\n")
		sb.WriteString(WarningStyle.Render(m.notice))
	}

	sb.WriteString("\n")
	sb.WriteString(HelpStyle.Render(m.help()))
	return sb.String()
}

func (m scanModel) renderSummary(width int) string {
	target, subnet := "-", "-"
	if m.req.Range != nil {
		target = m.req.Range.String()
		subnet = m.req.Range.Network().String()
	}

	rows := []string{
		line("Range:", target),
		line("Subnet:", subnet),
		line("Hosts:", fmt.Sprintf("%d", len(m.hosts))),
		line("Open Ports:", fmt.Sprintf("%d", m.openPorts())),
	}
	if m.req.StartPort > 0 {
		rows = append(rows, line("Port Range:", fmt.Sprintf("%d-%d", m.req.StartPort, m.req.EndPort)))
	}
	rows = append(rows, LabelStyle.Render("Status:")+" "+m.status())

	return SectionStyle.Width(width).Render(strings.Join(rows, "\n"))
}

func line(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

func (m scanModel) status() string {
	if m.running {
		stage := m.stage
		if stage == "" {
			stage = "starting"
		}
		return m.spinner.View() + " " + ValueStyle.Render("running ("+stage+")")
	}
	if m.outcome == nil {
		return DimStyle.Render("idle")
	}

	out := m.outcome
	summary := fmt.Sprintf("%s in %s", out.Status, out.Duration.Round(time.Millisecond))
	switch out.Status {
	case engine.StatusCompleted:
		return RenderStatus(true, summary, "")
	case engine.StatusAborted:
		return WarningStyle.Render("■ " + summary)
	default:
		return RenderStatus(false, "", summary+": "+out.Reason)
	}
}

func (m scanModel) openPorts() int {
	n := 0
	for _, h := range m.hosts {
		n += len(h.OpenPorts)
	}
	return n
}

// renderSelected lists the open ports of the highlighted host with their
// well-known service names.
func (m scanModel) renderSelected() string {
	h, ok := m.selected()
	if !ok || len(h.OpenPorts) == 0 {
		return ""
	}

	parts := make([]string, len(h.OpenPorts))
	for i, p := range h.OpenPorts {
		if name := probes.ServiceName(p); name != "" {
			parts[i] = fmt.Sprintf("%d/%s", p, name)
		} else {
			parts[i] = fmt.Sprintf("%d", p)
		}
	}
	return SectionTitleStyle.Render(h.IP) + " " + ValueStyle.Render(strings.Join(parts, "  "))
}

func (m scanModel) help() string {
	keys := []string{"↑/↓ select"}
	if m.running {
		keys = append(keys, "'a' abort")
	} else if m.exportPath != "" {
		keys = append(keys, "'e' export to "+m.exportPath)
	}
	keys = append(keys, "'q' quit")
	return strings.Join(keys, " • ")
}
