// Command loansync copies the micro-finance document collections into a
// relational store and keeps both in step afterwards.
package main

import (
	"os"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/cli"

	// register every document store and sink backend; config picks one.
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/all"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage/all"
)

func main() {
	os.Exit(cli.Execute())
}
