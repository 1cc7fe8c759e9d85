package main

import (
	"fmt"
	"os"

	"quiz-squad/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "quiz-squad:", err)
		os.Exit(1)
	}
}
