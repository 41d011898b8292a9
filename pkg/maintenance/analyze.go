package maintenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/models"
)

var retryLog = internal.NewLeveledLogrus(log)

type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
)

const (
	criticalThreshold = 0.85
	highThreshold     = 0.7

	criticalDeadline = 3 * 24 * time.Hour
	highDeadline     = 7 * 24 * time.Hour

	ReasonPhysicalState = "physical state"
	ReasonPrediction    = "ML prediction"
)

const alertDescriptionTemplate = `Failure probability {{printf "%.1f" .ProbabilityPercent}}% for {{.Code}} ({{.Name}}), ` +
	`{{.Reason}}. Schedule maintenance {{.Within}}.`

// Assessment is the risk verdict for one equipment.
type Assessment struct {
	EquipmentID        int64                `json:"equipment_id"`
	Code               string               `json:"code"`
	Name               string               `json:"name"`
	PhysicalState      models.PhysicalState `json:"physical_state"`
	Probability        float64              `json:"probability"`
	ProbabilityPercent float64              `json:"probability_percent"`
	Level              RiskLevel            `json:"risk_level"`
	Reason             string               `json:"reason"`
	AlertCreated       bool                 `json:"alert_created"`
}

// AnalysisSummary is the result of a bulk pass over all active equipment.
type AnalysisSummary struct {
	EquipmentAnalyzed int          `json:"equipment_analyzed"`
	AtRiskCount       int          `json:"at_risk_count"`
	AlertsGenerated   int          `json:"alerts_generated"`
	AtRisk            []Assessment `json:"at_risk"`
	Errors            []string     `json:"errors,omitempty"`
	ElapsedSeconds    float64      `json:"elapsed_seconds"`
}

// Assess classifies one equipment. Bad or fair physical state overrides the model; the
// second result is false when the equipment is not at risk.
func (e *Engine) Assess(h models.EquipmentHistory) (Assessment, bool) {
	a := Assessment{
		EquipmentID:   h.ID,
		Code:          h.Code,
		Name:          h.Name,
		PhysicalState: h.PhysicalState,
	}
	switch h.PhysicalState {
	case models.PhysicalStateBad:
		a.Level, a.Reason = RiskCritical, ReasonPhysicalState
		a.Probability = HeuristicProbability(h.PhysicalState)
	case models.PhysicalStateFair:
		a.Level, a.Reason = RiskHigh, ReasonPhysicalState
		a.Probability = HeuristicProbability(h.PhysicalState)
	default:
		p, _ := e.predict(h)
		a.Probability = p
		a.Reason = ReasonPrediction
		switch {
		case p >= criticalThreshold:
			a.Level = RiskCritical
		case p >= highThreshold:
			a.Level = RiskHigh
		case p >= e.cfg.RiskThreshold:
			a.Level = RiskMedium
		default:
			return a, false
		}
	}
	a.ProbabilityPercent = internal.Round(a.Probability*100, 1)
	return a, true
}

// AnalyzeAll scores every active equipment and raises a predicted-failure alert for each
// critical or high risk that has no open alert yet. Alert failures are collected and the
// pass continues.
func (e *Engine) AnalyzeAll(ctx context.Context) (*AnalysisSummary, error) {
	start := time.Now()
	history, err := e.source.ActiveEquipmentHistory(ctx)
	if err != nil {
		return nil, err
	}

	summary := &AnalysisSummary{EquipmentAnalyzed: len(history), AtRisk: []Assessment{}}
	var errs *multierror.Error
	for _, h := range history {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, atRisk := e.Assess(h)
		if !atRisk {
			continue
		}
		summary.AtRiskCount++
		if a.Level == RiskCritical || a.Level == RiskHigh {
			created, err := e.raiseAlert(ctx, a)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("equipment %d: %w", a.EquipmentID, err))
			}
			if created {
				a.AlertCreated = true
				summary.AlertsGenerated++
				e.telemetry.Alerts.Inc(1)
			}
		}
		summary.AtRisk = append(summary.AtRisk, a)
	}

	sort.SliceStable(summary.AtRisk, func(i, j int) bool {
		return summary.AtRisk[i].Probability > summary.AtRisk[j].Probability
	})
	if len(summary.AtRisk) > e.cfg.TopAtRisk {
		summary.AtRisk = summary.AtRisk[:e.cfg.TopAtRisk]
	}
	if err := errs.ErrorOrNil(); err != nil {
		log.Errorf("maintenance analysis finished with %d errors: %v", len(errs.Errors), err)
		for _, itemErr := range errs.Errors {
			summary.Errors = append(summary.Errors, itemErr.Error())
		}
	}
	summary.ElapsedSeconds = time.Since(start).Seconds()
	log.Infof("analyzed %d equipment: %d at risk, %d alerts", summary.EquipmentAnalyzed, summary.AtRiskCount, summary.AlertsGenerated)
	return summary, nil
}

// raiseAlert inserts the alert for a critical or high assessment, retrying transient
// failures.
func (e *Engine) raiseAlert(ctx context.Context, a Assessment) (bool, error) {
	if e.alerts == nil {
		return false, nil
	}
	now := e.now()
	priority, deadline := models.AlertPriorityHigh, now.Add(highDeadline)
	if a.Level == RiskCritical {
		priority, deadline = models.AlertPriorityCritical, now.Add(criticalDeadline)
	}
	description, err := internal.ParseTemplate(alertDescriptionTemplate, struct {
		Assessment
		Within string
	}{a, humanize.RelTime(deadline, now, "ago", "from now")})
	if err != nil {
		return false, err
	}
	alert := &models.MaintenanceAlert{
		UUID:        uuid.New(),
		EquipmentID: a.EquipmentID,
		Type:        models.AlertTypePredictedFailure,
		Description: description,
		Deadline:    deadline,
		Priority:    priority,
		Status:      models.AlertStatusPending,
		CreatedAt:   now,
	}

	retry := retrypolicy.Builder[bool]().
		WithMaxRetries(2).
		WithDelay(100 * time.Millisecond).
		OnRetry(func(ev failsafe.ExecutionEvent[bool]) {
			retryLog.Warn("retrying alert insert",
				"equipment_id", a.EquipmentID, "attempt", ev.Attempts(), "error", ev.LastError())
		}).
		Build()
	return failsafe.Get(func() (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return e.alerts.CreateAlertIfAbsent(ctx, alert)
	}, retry)
}
