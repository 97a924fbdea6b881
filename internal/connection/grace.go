package connection

import (
	"time"

	"debate-arena/internal/config"
	"debate-arena/internal/store"
)

// ExtensionFunc lengthens the base grace period of a user flagged as a
// frequent disconnector.
type ExtensionFunc func(base time.Duration, report IssueReport) time.Duration

// LinearExtension grows the base period in proportion to the failure rate:
// base * (1 + factor*rate).
func LinearExtension(factor float64) ExtensionFunc {
	return func(base time.Duration, report IssueReport) time.Duration {
		if factor <= 0 {
			return base
		}
		return base + time.Duration(float64(base)*factor*report.FailureRate)
	}
}

// GracePolicy decides how long a temporary disconnection may last before it
// is finalized.
type GracePolicy struct {
	Room              time.Duration
	Debate            time.Duration
	Max               time.Duration
	Window            time.Duration
	FrequentThreshold float64
	MinDisconnections int
	Extend            ExtensionFunc
}

func GracePolicyFromConfig(cfg config.ConnectionConfig) GracePolicy {
	return GracePolicy{
		Room:              time.Duration(cfg.RoomGraceSeconds) * time.Second,
		Debate:            time.Duration(cfg.DebateGraceSeconds) * time.Second,
		Max:               time.Duration(cfg.MaxGraceSeconds) * time.Second,
		Window:            time.Duration(cfg.AnalysisWindowHours) * time.Hour,
		FrequentThreshold: cfg.FrequentThreshold,
		MinDisconnections: cfg.MinDisconnections,
		Extend:            LinearExtension(cfg.ExtensionFactor),
	}
}

func DefaultGracePolicy() GracePolicy {
	return GracePolicy{
		Room:              30 * time.Second,
		Debate:            60 * time.Second,
		Max:               5 * time.Minute,
		Window:            24 * time.Hour,
		FrequentThreshold: 0.5,
		MinDisconnections: 3,
		Extend:            LinearExtension(1),
	}
}

type GraceDecision struct {
	Period   time.Duration
	Frequent bool
}

func (p GracePolicy) Base(contextType string) time.Duration {
	if contextType == store.ContextDebate {
		return p.Debate
	}
	return p.Room
}

func (p GracePolicy) Decide(contextType string, report IssueReport) GraceDecision {
	base := p.Base(contextType)
	d := GraceDecision{Period: base}
	if report.TotalDisconnections < p.MinDisconnections || report.FailureRate < p.FrequentThreshold {
		return d
	}
	d.Frequent = true
	if p.Extend != nil {
		d.Period = p.Extend(base, report)
	}
	if d.Period < base {
		d.Period = base
	}
	if p.Max > 0 && d.Period > p.Max {
		d.Period = p.Max
	}
	return d
}
