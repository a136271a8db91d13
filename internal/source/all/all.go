// Package all registers every DocumentStore backend.
package all

import (
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/jsonfile"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/memory"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/mongo"
)
