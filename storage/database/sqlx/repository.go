package sqlxrepos

import (
	"fmt"
	"strings"

	"github.com/trezcool/masomo-courses/core"
)

type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// orderBy builds an ORDER BY clause from ordering, keeping only the allowed fields
// (api field name -> column). The ID breaks ties so that results are stable.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, def string) string {
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		clauses = append(clauses, def)
	}
	clauses = append(clauses, "id ASC")
	return " ORDER BY " + strings.Join(clauses, ", ")
}

// likeOperator is a case-insensitive LIKE for exec's engine.
func likeOperator(exec core.DBExecutor) string {
	if exec.DriverName() == core.EnginePostgres {
		return "ILIKE"
	}
	return "LIKE" // case-insensitive for ASCII in sqlite3
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return fmt.Sprintf("%%%s%%", r.Replace(s))
}
