package engine

import (
	"context"
	"math"
	"strings"

	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
	"github.com/papercomputeco/engram/pkg/vector"
)

// QualityWeights are the audit quality-score coefficients. Deliberately
// configurable rather than baked in.
type QualityWeights struct {
	Confidence float64
	Coverage   float64
	Freshness  float64
}

// DefaultQualityWeights returns the default audit coefficients.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{Confidence: 0.5, Coverage: 0.3, Freshness: 0.2}
}

// QualityReport is the output of a scope audit.
type QualityReport struct {
	ScopeHash         string                  `json:"scope_hash"`
	Total             int                     `json:"total"`
	ByStatus          map[record.Status]int   `json:"by_status"`
	ByCategory        map[record.Category]int `json:"by_category"`
	ExpiredCount      int                     `json:"expired_count"`
	ConflictedCount   int                     `json:"conflicted_count"`
	AverageConfidence float64                 `json:"average_confidence"`
	MetadataCoverage  float64                 `json:"metadata_coverage"`
	QualityScore      float64                 `json:"quality_score"`
	Recommendations   []string                `json:"recommendations"`
}

// ValidateProject audits the records of one project scope and derives
// recommendations from simple rules.
func (e *Engine) ValidateProject(ctx context.Context, s scope.Scope, projectID string) (*QualityReport, error) {
	if strings.TrimSpace(projectID) != "" {
		s.Project = projectID
	}
	if err := s.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}

	return e.auditScope(ctx, s.Hash())
}

// AuditRequest selects one scope for AuditQuality, or every known scope
// when none is given. The cross-scope form requires an operator identity.
type AuditRequest struct {
	Scope    *scope.Scope `json:"scope,omitempty"`
	Operator string       `json:"operator,omitempty"`
}

// AuditQuality runs the quality audit.
func (e *Engine) AuditQuality(ctx context.Context, req AuditRequest) ([]*QualityReport, error) {
	if req.Scope != nil {
		if err := req.Scope.Validate(); err != nil {
			return nil, wrapError(KindInvalidInput, "incomplete scope", err)
		}
		report, err := e.auditScope(ctx, req.Scope.Hash())
		if err != nil {
			return nil, err
		}
		return []*QualityReport{report}, nil
	}

	if strings.TrimSpace(req.Operator) == "" {
		return nil, newError(KindInvalidInput, "cross-scope audit requires an operator identity")
	}

	var reports []*QualityReport
	var auditErr error
	e.scopes.Range(func(key, _ any) bool {
		report, err := e.auditScope(ctx, key.(string))
		if err != nil {
			auditErr = err
			return false
		}
		reports = append(reports, report)
		return true
	})
	if auditErr != nil {
		return nil, auditErr
	}

	return reports, nil
}

// auditScope enumerates one scope and computes the report.
func (e *Engine) auditScope(ctx context.Context, scopeHash string) (*QualityReport, error) {
	report := &QualityReport{
		ScopeHash:  scopeHash,
		ByStatus:   make(map[record.Status]int),
		ByCategory: make(map[record.Category]int),
	}

	now := e.ports.Clock.Now()
	var confidenceSum, freshnessSum float64
	withMetadata := 0

	cursor := ""
	for {
		docs, next, err := e.ports.Vector.List(ctx, scopeHash, cursor, 200, vector.Filter{})
		if err != nil {
			return nil, wrapError(KindVectorUnavailable, "enumerating scope", err)
		}

		for _, doc := range docs {
			rec := doc.Record
			report.Total++
			report.ByStatus[rec.Status]++
			report.ByCategory[rec.Category]++
			confidenceSum += float64(rec.Confidence)

			if rec.Status == record.StatusExpired {
				report.ExpiredCount++
			}
			if rec.Status == record.StatusConflicted {
				report.ConflictedCount++
			}
			if hasCallerMetadata(rec) {
				withMetadata++
			}

			ageDays := now.Sub(rec.CreatedAt).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			freshnessSum += math.Exp(-ageDays / e.config.FreshnessTauDays)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	if report.Total > 0 {
		report.AverageConfidence = confidenceSum / float64(report.Total)
		report.MetadataCoverage = float64(withMetadata) / float64(report.Total)

		w := e.config.QualityWeights
		report.QualityScore = w.Confidence*(report.AverageConfidence/10) +
			w.Coverage*report.MetadataCoverage +
			w.Freshness*(freshnessSum/float64(report.Total))
	}

	report.Recommendations = recommendations(report)

	return report, nil
}

// hasCallerMetadata ignores the engine's own markers when measuring
// metadata coverage.
func hasCallerMetadata(rec *record.MemoryRecord) bool {
	for k := range rec.Extra {
		switch k {
		case extraDegraded, extraExtractionDegraded:
		default:
			return true
		}
	}
	return false
}

// recommendations derives operator guidance from simple rules.
func recommendations(r *QualityReport) []string {
	var recs []string
	if r.ConflictedCount > 0 {
		recs = append(recs, "resolve conflicts: conflicted memories reduce retrieval confidence")
	}
	if r.ExpiredCount > 0 {
		recs = append(recs, "review expired memories: re-save the ones that still hold")
	}
	if r.Total > 0 && r.AverageConfidence < 7 {
		recs = append(recs, "raise confidence: verify low-confidence memories with sources")
	}
	if r.Total > 0 && r.MetadataCoverage < 0.5 {
		recs = append(recs, "add metadata: most memories carry no provenance fields")
	}
	if r.Total == 0 {
		recs = append(recs, "no memories in scope: nothing to audit")
	}
	return recs
}
