package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rkgudboy/patient-data-extraction/internal/config"
	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/db"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/dedup"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze extracted records for duplicates",
		Long: "Reads a JSON record or array of records from file, or stdin when file " +
			"is omitted or \"-\", and prints the duplicate analysis as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			matches, _ := cmd.Flags().GetBool("matches")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger().Level(zerolog.WarnLevel)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			engine := dedup.NewEngine(patient.NewRecordRepo(pool), engineConfig(cfg), nil, logger)

			var out interface{}
			if matches {
				results := make([]*patient.MatchResult, 0, len(records))
				for i := range records {
					res, err := engine.FindMatches(ctx, &records[i])
					if err != nil {
						return fmt.Errorf("record %d: %w", i, err)
					}
					results = append(results, res)
				}
				out = results
			} else {
				results, err := engine.AnalyzeBatch(ctx, records)
				if err != nil {
					return err
				}
				out = results
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Bool("matches", false, "Print exact and partial matches instead of the duplicate analysis")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check extracted records against their country rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			type result struct {
				Index            int      `json:"index"`
				Valid            bool     `json:"valid"`
				ValidationErrors []string `json:"validation_errors"`
			}
			results := make([]result, len(records))
			invalid := 0
			for i := range records {
				errs := patient.Validate(&records[i])
				results[i] = result{Index: i, Valid: len(errs) == 0, ValidationErrors: errs}
				if len(errs) > 0 {
					invalid++
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d record(s) failed validation", invalid, len(records))
			}
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, args []string) ([]patient.Record, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return readRecords(r)
}

// readRecords decodes either a single JSON record or an array of records.
func readRecords(r io.Reader) ([]patient.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no input records")
	}

	if data[0] == '[' {
		var records []patient.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("no input records")
		}
		return records, nil
	}

	var rec patient.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []patient.Record{rec}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
