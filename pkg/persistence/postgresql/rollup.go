package postgresql

import (
	"fmt"
	"strings"

	"github.com/dukex/montracker/pkg/models"
)

// rollupExpression renders models.RollupRules as a SQL CASE. count renders the
// number of members in a status and total the number of members.
func rollupExpression(count func(models.ModelStatus) string, total string) string {
	var b strings.Builder

	b.WriteString("CASE")

	for _, rule := range models.RollupRules {
		switch rule.When {
		case models.RollupEmpty:
			fmt.Fprintf(&b, " WHEN %s = 0 THEN '%s'", total, rule.Result)
		case models.RollupAny:
			fmt.Fprintf(&b, " WHEN %s > 0 THEN '%s'", count(rule.Status), rule.Result)
		case models.RollupAll:
			fmt.Fprintf(&b, " WHEN %s = %s THEN '%s'", count(rule.Status), total, rule.Result)
		}
	}

	fmt.Fprintf(&b, " ELSE '%s' END", models.RollupFallback)

	return b.String()
}

func countFiltered(column string) func(models.ModelStatus) string {
	return func(status models.ModelStatus) string {
		return fmt.Sprintf("COUNT(*) FILTER (WHERE %s = '%s')", column, status)
	}
}

// analysisStatusSQL is a scalar subquery deriving the status of the analysis
// whose id is idColumn.
func analysisStatusSQL(idColumn string) string {
	return fmt.Sprintf(
		"(SELECT %s FROM models rm WHERE rm.analysis_id = %s)",
		rollupExpression(countFiltered("rm.status"), "COUNT(rm.id)"),
		idColumn,
	)
}

// actionStatusSQL applies the same rollup to the derived statuses of the
// non-deleted analyses of the action whose id is idColumn.
func actionStatusSQL(idColumn string) string {
	return fmt.Sprintf(
		"(SELECT %s FROM (SELECT %s AS status FROM analyses ra WHERE ra.action_id = %s AND ra.deleted = false) rs)",
		rollupExpression(countFiltered("rs.status"), "COUNT(*)"),
		analysisStatusSQL("ra.id"),
		idColumn,
	)
}

func statusStrings(statuses []models.ModelStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}

	return out
}
