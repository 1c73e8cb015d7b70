package validator

import (
	"context"

	"sql-guard/internal/model"
)

// Audit validates SQL segments discovered in source files and ties each
// violation back to its segment. Segments that fail to parse are usually
// string fragments rather than whole statements, so parse errors are not
// reported.
func (v *Validator) Audit(ctx context.Context, segments []model.SQLSegment, schema *model.SchemaCtx) ([]model.Issue, error) {
	sqls := make([]string, len(segments))
	for i, seg := range segments {
		sqls[i] = seg.SQL
	}

	results, err := v.ValidateBatch(ctx, sqls, schema, v.policy)
	if err != nil {
		return nil, err
	}

	var allIssues []model.Issue
	for i, res := range results {
		if res.HasKind(model.KindParseError) {
			continue
		}
		for _, viol := range res.Violations {
			allIssues = append(allIssues, model.Issue{Violation: viol, Segment: segments[i]})
		}
	}
	return allIssues, nil
}
