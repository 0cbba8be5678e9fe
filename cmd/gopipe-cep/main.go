package main

import (
	"os"

	"github.com/fxsml/gopipe-cep/cmd/gopipe-cep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
