// Package all registers every sink backend. Import it for side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage/mssql"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage/postgres"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage/sqlite"
)
