package main

import (
	"os"

	"line-flex-bridge/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
