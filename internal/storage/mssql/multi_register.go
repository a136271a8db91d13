package mssql

import "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"

func init() {
	// The "sqlserver" driver itself is registered by internal/storage/all.
	storage.RegisterMulti("mssql", NewMulti)
}
