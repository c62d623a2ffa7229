package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/ridergate/cmd/ridergate/app"
)

func main() {
	if err := app.NewRidergateCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
