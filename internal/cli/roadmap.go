package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codepods/internal/roadmap"
	"codepods/internal/tui"
)

const roadmapTimeout = 3 * time.Minute

var roadmapCmd = &cobra.Command{
	Use:   "roadmap <description>",
	Short: "Generate an AI learning roadmap",
	Long: `Ask the roadmap proxy for a step-by-step learning roadmap.

The description is free text; several arguments are joined with spaces.

Examples:
  codepods roadmap "become a backend Go developer in 3 months"
  codepods roadmap -o yaml learn Rust for embedded work
  codepods roadmap --interactive "prepare for the AWS SA exam"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoadmap,
}

func init() {
	roadmapCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	roadmapCmd.Flags().BoolP("interactive", "i", false, "browse the roadmap and tick off tasks")
	rootCmd.AddCommand(roadmapCmd)
}

func runRoadmap(cmd *cobra.Command, args []string) error {
	description := strings.TrimSpace(strings.Join(args, " "))
	if description == "" {
		return fmt.Errorf("description is required")
	}

	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", output)
	}

	interactive, _ := cmd.Flags().GetBool("interactive")
	if interactive && !isInteractive() {
		return fmt.Errorf("--interactive needs a terminal")
	}

	m, err := newManager(cmd)
	if err != nil {
		return err
	}

	// Generation routinely outlasts the identity timeout.
	client := roadmap.NewClient(cfg.RoadmapBaseURL,
		roadmap.WithHTTPClient(&http.Client{Timeout: roadmapTimeout, Transport: m.Transport(nil)}),
		roadmap.WithLogger(log),
	)

	phases, err := client.Generate(cmd.Context(), description)
	if err != nil {
		return err
	}

	if interactive {
		progress, err := tui.Run(description, phases)
		if err != nil {
			return err
		}
		cmd.Printf("%d of %d tasks done.\n", progress.Done, progress.Total)
		return nil
	}

	return writeRoadmap(cmd.OutOrStdout(), phases, output)
}

func writeRoadmap(w io.Writer, phases []roadmap.Phase, format string) error {
	switch format {
	case "json":
		data, err := roadmap.Encode(phases)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(phases); err != nil {
			return err
		}
		return enc.Close()
	}

	for i, p := range phases {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if p.WeekRange != "" {
			fmt.Fprintf(w, "%s. %s (%s)\n", p.ID, p.Title, p.WeekRange)
		} else {
			fmt.Fprintf(w, "%s. %s\n", p.ID, p.Title)
		}
		for _, task := range p.Tasks {
			fmt.Fprintf(w, "   - %s\n", task)
		}
	}
	return nil
}
