package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/handhunter/internal/consistency"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate <hands.json>",
	Short: "Check extracted hands for consistency errors",
	Long: "Reads a JSON array of hands, or an object with a \"hands\" array, and prints the consistency report. " +
		"Nothing is stored.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0], validateStrict, cmd.OutOrStdout())
	},
}

var validateStrict bool

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Exit non-zero when any error is found")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string, strict bool, out io.Writer) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read hands file: %w", err)
	}

	hands, err := decodeHands(content)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if len(hands) == 0 {
		return fmt.Errorf("%s contains no hands", path)
	}

	v, err := consistency.New()
	if err != nil {
		return fmt.Errorf("load consistency rules: %w", err)
	}
	report := v.Analyze(hands)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if strict && report.TotalErrors > 0 {
		return fmt.Errorf("%d consistency errors in %d hands", report.TotalErrors, report.TotalHands)
	}
	return nil
}

func decodeHands(content []byte) ([]models.ExtractedHand, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var hands []models.ExtractedHand
		err := json.Unmarshal(trimmed, &hands)
		return hands, err
	}
	var wrapped struct {
		Hands []models.ExtractedHand `json:"hands"`
	}
	err := json.Unmarshal(trimmed, &wrapped)
	return wrapped.Hands, err
}
