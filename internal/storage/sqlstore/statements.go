package sqlstore

import (
	"fmt"
	"strings"
)

// statements holds the SQL that depends on the topic count K.
// The wide topics_per_paper table has one column per topic (topic0..topic{K-1}),
// so these are generated whenever K is set and regenerated by SetTopicCount.
type statements struct {
	k int

	columns      string // "topic0, topic1, ..."
	createTopics string
	upsertTopics string
	selectVector string
	selectAll    string
	selectTopics string
}

func newStatements(k int) *statements {
	cols := make([]string, k)
	defs := make([]string, k)
	for i := 0; i < k; i++ {
		c := column(i)
		cols[i] = c
		defs[i] = c + " INTEGER NOT NULL DEFAULT 0"
	}
	columns := strings.Join(cols, ", ")

	prefixed := make([]string, k)
	for i, c := range cols {
		prefixed[i] = "t." + c
	}

	return &statements{
		k:       k,
		columns: columns,
		createTopics: `CREATE TABLE IF NOT EXISTS topics_per_paper (
			paper_id INTEGER PRIMARY KEY,
			` + strings.Join(defs, ",\n\t\t\t") + `
		)`,
		upsertTopics: `INSERT OR REPLACE INTO topics_per_paper (paper_id, ` + columns + `)
			VALUES (?` + strings.Repeat(", ?", k) + `)`,
		selectVector: `SELECT ` + columns + ` FROM topics_per_paper WHERE paper_id = ?`,
		selectAll: `SELECT p.paper_id, p.authors, p.journal_id, p.title, p.abstract, j.ranking, ` +
			strings.Join(prefixed, ", ") + `
			FROM topics_per_paper t
			JOIN academic_paper p ON p.paper_id = t.paper_id
			JOIN academic_journal j ON j.journal_id = p.journal_id
			ORDER BY p.paper_id`,
		selectTopics: `SELECT paper_id, ` + columns + ` FROM topics_per_paper ORDER BY paper_id`,
	}
}

// overlapQuery selects the papers with a nonzero weight on any of the given
// zero-based topic positions. support must be non-empty.
func (s *statements) overlapQuery(support []int) string {
	preds := make([]string, len(support))
	for i, pos := range support {
		preds[i] = column(pos) + " <> 0"
	}
	return `SELECT paper_id, ` + s.columns + ` FROM topics_per_paper
		WHERE ` + strings.Join(preds, " OR ") + `
		ORDER BY paper_id`
}

func column(i int) string {
	return fmt.Sprintf("topic%d", i)
}
