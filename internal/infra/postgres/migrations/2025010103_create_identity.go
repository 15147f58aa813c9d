package migrations

import _ "embed"

//go:embed 2025010103_create_identity.sql
var createIdentitySQL string

func init() {
	Migrations.MustRegister(sqlStep(createIdentitySQL, `
DROP TABLE IF EXISTS roster;
DROP TABLE IF EXISTS users;
`))
}
