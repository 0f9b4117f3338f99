// cmd/tools/registry-validator/main.go
package main

import (
	"flag"
	"fmt"
	"os"

	"compliance-workers/pkg/registry"
)

// Validates a form registry file and prints a per-stage summary, so registry
// edits can be checked before a deploy picks them up.
func main() {
	path := flag.String("path", "configs/form-registry.json", "Path to form registry file")
	quiet := flag.Bool("quiet", false, "Suppress the summary, only report errors")
	flag.Parse()

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry invalid: %v\n", err)
		os.Exit(1)
	}

	if *quiet {
		return
	}

	fmt.Printf("Registry %s (version %s) is valid.\n", *path, reg.Version)
	for _, stage := range reg.Stages {
		required := 0
		for _, q := range stage.Questions {
			if q.Required {
				required++
			}
		}
		var weightSum float64
		for _, c := range stage.Categories {
			weightSum += c.Weight
		}

		fmt.Printf("  Stage %d %-8s %-28s role=%s questions=%d (required=%d) documents=%d",
			stage.Number, stage.FormCode, stage.DisplayName, stage.AuthoringRole,
			len(stage.Questions), required, len(stage.Documents))
		if stage.CategoryScored {
			fmt.Printf(" categories=%d (weights=%.1f)", len(stage.Categories), weightSum)
		}
		fmt.Println()
	}
}
