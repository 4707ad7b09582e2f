package main

import (
	"os"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/cmd/cipherlink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
