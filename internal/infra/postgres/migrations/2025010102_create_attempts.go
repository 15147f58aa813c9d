package migrations

import _ "embed"

//go:embed 2025010102_create_attempts.sql
var createAttemptsSQL string

func init() {
	Migrations.MustRegister(sqlStep(createAttemptsSQL, `
DROP TRIGGER IF EXISTS attempts_notify ON attempts;
DROP FUNCTION IF EXISTS notify_attempt_appended();
DROP TABLE IF EXISTS attempts;
`))
}
