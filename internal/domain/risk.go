package domain

import (
	"math"
	"time"
)

// RiskLimits son los límites de admisión de un usuario. Parten de los
// defaults globales y el usuario puede sobreescribirlos dentro de rango.
type RiskLimits struct {
	MaxDailyLoss        float64
	MaxPositionSize     float64
	MaxConcurrentTrades int
	CooldownAfterLoss   time.Duration
	MaxSlippage         float64
}

// RiskMetrics son las métricas rodantes de un usuario.
type RiskMetrics struct {
	UserID        string
	DailyPnL      float64
	WeeklyPnL     float64
	MonthlyPnL    float64
	TotalTrades   int
	WinRate       float64 // fracción de trades confirmados con beneficio
	AverageProfit float64 // DailyPnL / TotalTrades
	MaxDrawdown   float64 // mayor pérdida de un solo trade
	RiskScore     int     // 0-100, mayor = más arriesgado
	LastUpdated   time.Time
}

// RiskScore calcula el score 0-100 a partir del win rate, la fracción de
// pérdida diaria consumida y el drawdown relativo al cap de posición.
func RiskScore(m RiskMetrics, dailyLoss float64, limits RiskLimits) int {
	score := 50.0

	if m.WinRate < 0.5 {
		score += (0.5 - m.WinRate) * 40
	} else {
		score -= (m.WinRate - 0.5) * 20
	}

	if limits.MaxDailyLoss > 0 {
		score += dailyLoss / limits.MaxDailyLoss * 30
	}

	if m.MaxDrawdown > limits.MaxPositionSize*0.5 {
		score += 15
	}

	return int(math.Max(0, math.Min(100, math.Round(score))))
}

// RiskAlertType identifica el tipo de alerta de riesgo.
type RiskAlertType string

const (
	AlertDailyLossLimit  RiskAlertType = "DAILY_LOSS_LIMIT"
	AlertUnusualActivity RiskAlertType = "UNUSUAL_ACTIVITY"
)

// RiskAlertSeverity es la severidad de una alerta.
type RiskAlertSeverity string

const (
	SeverityWarning  RiskAlertSeverity = "WARNING"
	SeverityCritical RiskAlertSeverity = "CRITICAL"
)

// RiskAlert es una alerta generada al evaluar el estado de un usuario.
type RiskAlert struct {
	ID        string
	UserID    string
	Type      RiskAlertType
	Severity  RiskAlertSeverity
	Message   string
	Timestamp time.Time
}
