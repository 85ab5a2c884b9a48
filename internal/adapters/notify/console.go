package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// Console implementa ports.EventSink escribiendo líneas compactas por
// evento. Nunca bloquea al emisor: todo es escritura directa a un Writer.
type Console struct {
	out     io.Writer
	verbose bool
}

// NewConsole crea un sink que escribe a stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un sink para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// PublishOpportunity imprime una línea por alta/actualización. Las
// expiraciones solo se imprimen en modo verbose — son ruido en operación.
func (c *Console) PublishOpportunity(ev domain.OpportunityEvent) {
	if ev.Action == domain.OpportunityExpired && !c.verbose {
		return
	}

	opp := ev.Opportunity
	name := domain.TruncateQuestion(opp.MarketQuestion, opp.MarketID, 40)

	switch ev.Action {
	case domain.OpportunityExpired:
		fmt.Fprintf(c.out, "[%s] ~ expired  %s\n",
			ev.Timestamp.Format("15:04:05"), name)
	default:
		marker := "+"
		if ev.Action == domain.OpportunityUpdate {
			marker = "*"
		}
		fmt.Fprintf(c.out, "[%s] %s %s %s  YES %.3f + NO %.3f = %.3f  profit %.2f%% [%s]\n",
			ev.Timestamp.Format("15:04:05"), marker, opp.Type, name,
			opp.YesPrice, opp.NoPrice, opp.TotalPrice,
			opp.ProfitPercentage, opp.Confidence)
	}
}

// PublishTrade imprime cada transición de estado de una pata.
func (c *Console) PublishTrade(ev domain.TradeEvent) {
	t := ev.Trade

	line := fmt.Sprintf("[%s] trade %s %s %s $%.2f @ %.3f → %s",
		ev.Timestamp.Format("15:04:05"),
		shortID(t.ID), t.Outcome, t.Side,
		t.RequestedAmount, t.RequestedPrice, t.Status)

	if t.Status == domain.TradeConfirmed && t.ExecutedPrice > 0 {
		line += fmt.Sprintf(" exec %.3f (slip %+.2f%%)", t.ExecutedPrice, t.Slippage*100)
	}
	if t.Error != "" {
		line += " err=" + t.Error
	}
	fmt.Fprintln(c.out, line)
}

// PublishAlert imprime la alerta con su severidad.
func (c *Console) PublishAlert(alert domain.RiskAlert) {
	marker := ">>"
	if alert.Severity == domain.SeverityCritical {
		marker = "!!"
	}
	fmt.Fprintf(c.out, "[%s] %s %s %s: %s\n",
		alert.Timestamp.Format("15:04:05"), marker,
		alert.Type, alert.UserID, alert.Message)
}

// PrintOpportunities imprime el resumen tabular de las oportunidades
// vivas. Lo usa el reporte periódico del daemon.
func (c *Console) PrintOpportunities(opps []domain.ArbitrageOpportunity) {
	now := time.Now().Format("15:04:05")
	if len(opps) == 0 {
		fmt.Fprintf(c.out, "[%s] no live opportunities\n", now)
		return
	}

	fmt.Fprintf(c.out, "\n[%s] %d live opportunities\n", now, len(opps))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Type", "Market", "YES", "NO", "Sum", "Profit%", "Max$", "Conf", "TTL")

	for i, opp := range opps {
		ttl := time.Until(opp.ExpiresAt).Round(time.Second)
		if ttl < 0 {
			ttl = 0
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(opp.Type),
			domain.TruncateQuestion(opp.MarketQuestion, opp.MarketID, 36),
			fmt.Sprintf("%.3f", opp.YesPrice),
			fmt.Sprintf("%.3f", opp.NoPrice),
			fmt.Sprintf("%.3f", opp.TotalPrice),
			fmt.Sprintf("%.2f", opp.ProfitPercentage),
			fmt.Sprintf("$%.0f", opp.MaxInvestment),
			string(opp.Confidence),
			ttl.String(),
		)
	}

	table.Render()
}

// PrintRiskSummary imprime las métricas de riesgo de un usuario.
func (c *Console) PrintRiskSummary(m domain.RiskMetrics) {
	fmt.Fprintf(c.out, "\n  risk %s: score %d  daily $%.2f  weekly $%.2f  trades %d  winrate %.0f%%  drawdown $%.2f\n",
		m.UserID, m.RiskScore, m.DailyPnL, m.WeeklyPnL,
		m.TotalTrades, m.WinRate*100, m.MaxDrawdown)
}

func shortID(id string) string {
	if len(id) > 14 {
		return id[:14]
	}
	return id
}
