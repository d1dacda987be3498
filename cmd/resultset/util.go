package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
)

// loadEnvFiles reads .env and .env.local from the working directory when
// present. Variables already set in the environment win.
func loadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
