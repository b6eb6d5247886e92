package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"fieldtriage/internal/agents"
	"fieldtriage/internal/domain"
)

const UrgentBanner = "Urgent alert: immediate referral recommended."

// Printer renders cases and agent boards as terminal tables.
type Printer struct {
	// Color enables ANSI colours for the urgent banner and risk chip.
	Color bool
}

// RenderCase prints the structured case summary.
func (p Printer) RenderCase(w io.Writer, result domain.CaseResult) error {
	var b strings.Builder
	if result.UrgentAlert {
		b.WriteString(p.paint(UrgentBanner, text.Colors{text.Bold, text.FgHiRed}))
		b.WriteString("\n")
	}

	tw := newTable()
	tw.SetTitle("Case summary")
	if result.CaseID != "" {
		tw.AppendRow(table.Row{"Case", result.CaseID})
	}
	tw.AppendRow(table.Row{"Symptoms", bullets(result.Symptoms, "None reported")})
	tw.AppendRow(table.Row{"Risk level", p.risk(result.RiskLevel)})
	if pattern := strings.TrimSpace(result.PossibleRiskPattern); pattern != "" {
		tw.AppendRow(table.Row{"Pattern", pattern})
	}
	tw.AppendRow(table.Row{"Referral needed", yesNo(result.ReferralNeeded)})
	if len(result.GraphInsights) > 0 {
		tw.AppendRow(table.Row{"Cross-referenced risks", strings.Join(result.GraphInsights, ", ")})
	}
	tw.AppendRow(table.Row{"Retrieved guidelines", guidelines(result.RetrievedContexts)})
	tw.AppendRow(table.Row{"Recommended actions", bullets(result.RecommendedActions, "None")})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, WidthMax: 72},
	})
	b.WriteString(tw.Render())
	b.WriteString("\n")

	if !result.SOAPNote.Empty() {
		soap := newTable()
		soap.SetTitle("SOAP note")
		for _, section := range soapSections(result.SOAPNote) {
			soap.AppendRow(table.Row{section.label, strings.TrimSpace(section.text)})
		}
		soap.SetColumnConfigs([]table.ColumnConfig{{Number: 2, WidthMax: 72}})
		b.WriteString(soap.Render())
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderBoard prints the agent pipeline and the risk chip.
func (p Printer) RenderBoard(w io.Writer, board agents.Board) error {
	tw := newTable()
	tw.AppendHeader(table.Row{"Agent", "Activity", "State"})
	for _, status := range board.Agents {
		tw.AppendRow(table.Row{status.Name, status.Activity, status.Label})
	}
	chip := board.Risk.Text
	if board.Risk.Set {
		chip = p.risk(board.Risk.Level)
	}
	tw.AppendFooter(table.Row{"Risk", chip, board.Risk.Caption})
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

// RenderNarration prints entries in the order given.
func (p Printer) RenderNarration(w io.Writer, entries []domain.NarrationEntry) error {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Time", "Message"})
	for _, entry := range entries {
		tw.AppendRow(table.Row{entry.Sequence, entry.Timestamp.Local().Format("15:04:05"), entry.Message})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Align: text.AlignRight}})
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	style := tw.Style()
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	style.Title.Format = text.FormatDefault
	return tw
}

func (p Printer) risk(level domain.RiskLevel) string {
	label := "unknown"
	if level.Known() {
		label = string(level)
	}
	switch agents.SeverityFor(level) {
	case agents.SeverityDanger:
		return p.paint(label, text.Colors{text.Bold, text.FgHiRed})
	case agents.SeverityWarn:
		return p.paint(label, text.Colors{text.FgHiYellow})
	case agents.SeverityOK:
		return p.paint(label, text.Colors{text.FgHiGreen})
	default:
		return label
	}
}

func (p Printer) paint(s string, colors text.Colors) string {
	if !p.Color {
		return s
	}
	return colors.Sprint(s)
}

func bullets(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "• "+item)
	}
	return strings.Join(lines, "\n")
}

func guidelines(contexts []domain.RetrievedContext) string {
	if len(contexts) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(contexts))
	for _, c := range contexts {
		risk := string(c.RiskLevel)
		if risk == "" {
			risk = "unknown"
		}
		lines = append(lines, fmt.Sprintf("• %s (risk: %s, referral: %s)", c.Title, risk, yesNo(c.ReferralNeeded)))
	}
	return strings.Join(lines, "\n")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
