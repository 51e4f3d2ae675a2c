// Package analytics computes read-only rollups over the audit ledger and
// the persistence store for the operator API.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/store"
)

type Summary struct {
	Hours       int            `json:"hours"`
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"by_type"`
	Autoheal    AutohealRollup `json:"autoheal"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type AutohealRollup struct {
	Cycles    int `json:"cycles"`
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
}

type TenantReport struct {
	TenantID      string                          `json:"tenant_id"`
	Anomalies     *store.AnomalyStats             `json:"anomalies"`
	Effectiveness *store.RemediationEffectiveness `json:"effectiveness"`
	RecentRuns    []store.LocalRun                `json:"recent_runs"`
}

type Service struct {
	chain  *audit.Log
	store  *store.Store
	logger *zap.Logger
}

func NewService(chain *audit.Log, st *store.Store, logger *zap.Logger) *Service {
	return &Service{chain: chain, store: st, logger: logger}
}

// Summary rolls up chained audit events from the last N hours.
func (s *Service) Summary(hours int) (*Summary, error) {
	if hours <= 0 {
		hours = 24
	}
	entries, err := s.chain.ReadEntries(0)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	summary := &Summary{
		Hours:       hours,
		ByType:      map[string]int{},
		GeneratedAt: time.Now().UTC(),
	}

	for i := range entries {
		ts, err := time.Parse(time.RFC3339Nano, entries[i].TS)
		if err != nil || ts.Before(since) {
			continue
		}
		summary.TotalEvents++

		event, ok := entries[i].Event.(map[string]interface{})
		if !ok {
			continue
		}
		eventType, _ := event["type"].(string)
		if eventType == "" {
			eventType = "unknown"
		}
		summary.ByType[eventType]++

		if eventType == "autoheal_cycle" {
			summary.Autoheal.Cycles++
			if executed, _ := event["executed"].(bool); executed {
				summary.Autoheal.Executed++
				if success, _ := event["success"].(bool); success {
					summary.Autoheal.Succeeded++
				}
			} else {
				summary.Autoheal.Skipped++
			}
		}
	}
	return summary, nil
}

// TenantReport aggregates the last 7 days of one tenant's anomaly and
// remediation history plus its recent local runs.
func (s *Service) TenantReport(ctx context.Context, tenantID string) (*TenantReport, error) {
	anomalies, err := s.store.AnomalyStats(ctx, tenantID, 7)
	if err != nil {
		return nil, err
	}
	effectiveness, err := s.store.RemediationEffectiveness(ctx, tenantID, 7)
	if err != nil {
		return nil, err
	}

	runs, err := s.store.LoadLocalRuns(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to load local runs for report", zap.Error(err))
		runs = nil
	}
	tenantRuns := []store.LocalRun{}
	for _, run := range runs {
		if run.TenantID == tenantID {
			tenantRuns = append(tenantRuns, run)
		}
	}

	return &TenantReport{
		TenantID:      tenantID,
		Anomalies:     anomalies,
		Effectiveness: effectiveness,
		RecentRuns:    tenantRuns,
	}, nil
}

// AuditEntries lists chained entries, newest first.
func (s *Service) AuditEntries(limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.chain.ReadEntries(limit)
}
