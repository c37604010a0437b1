// Eval runs the golden conversations and exits non-zero when any fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/eval"
)

func main() {
	backendURL := flag.String("backend-url", "", "orders backend to test against (default: in-process backend)")
	verbose := flag.Bool("v", false, "log tool calls")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	newStack := eval.InProcess()
	target := "in-process"
	if *backendURL != "" {
		newStack = eval.Remote(*backendURL)
		target = *backendURL
	}

	cases := eval.Golden()
	fmt.Printf("Running %d tests...\n", len(cases))
	fmt.Printf("Backend: %s\n", target)
	fmt.Println(strings.Repeat("-", 50))

	passed, failed := 0, 0
	for _, r := range eval.RunAll(context.Background(), newStack, cases) {
		if r.Passed {
			passed++
			fmt.Printf("PASS %s (%s)\n", r.Name, r.Duration.Round(time.Millisecond))
			continue
		}
		failed++
		fmt.Printf("FAIL %s: %s\n", r.Name, r.Message)
	}

	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
