package postgres

import "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"

func init() {
	// registers the multi-table backend factory
	storage.RegisterMulti("postgres", NewMulti)
}
