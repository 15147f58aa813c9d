package migrations

import _ "embed"

//go:embed 2025010101_create_quizzes.sql
var createQuizzesSQL string

func init() {
	Migrations.MustRegister(sqlStep(createQuizzesSQL, `DROP TABLE IF EXISTS quizzes`))
}
