package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/export"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/imageprep"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/pipeline"
)

// inputExitCode maps NOT_FOUND and INVALID_INPUT to the input exit code.
func inputExitCode(err error) error {
	if common.IsKind(err, common.KindNotFound) || common.IsKind(err, common.KindInvalidInput) {
		return withExitCode(exitInput, err)
	}
	return err
}

func (c *cli) validate() error {
	if err := c.cfg.Validate(); err != nil {
		return withExitCode(exitConfig, err)
	}
	return nil
}

func (c *cli) newRunCmd() *cobra.Command {
	var (
		input   string
		output  string
		xlsx    string
		workers int
		ledger  string
		dsn     string
	)
	cmd := &cobra.Command{
		Use:   "run [folder]",
		Short: "Process every image in a folder and write a JSON array of records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			flags := cmd.Flags()
			if flags.Changed("input") {
				cfg.Pipeline.InputDir = input
			}
			if len(args) == 1 {
				cfg.Pipeline.InputDir = args[0]
			}
			if flags.Changed("output") {
				cfg.Output.JSONPath = output
			}
			if flags.Changed("xlsx") {
				cfg.Output.XLSXPath = xlsx
			}
			if flags.Changed("workers") {
				cfg.Pipeline.Workers = workers
			}
			if flags.Changed("ledger") {
				cfg.Ledger.Driver = ledger
			}
			if flags.Changed("ledger-dsn") {
				cfg.Ledger.DSN = dsn
			}
			if err := c.validate(); err != nil {
				return err
			}
			return c.runBatch(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "folder of .jpg/.jpeg/.png scans (INPUT_DIR)")
	cmd.Flags().StringVar(&output, "output", "", "JSON output path (OUTPUT_PATH)")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "also write an XLSX workbook here (OUTPUT_XLSX_PATH)")
	cmd.Flags().IntVar(&workers, "workers", 1, "documents processed concurrently (PIPELINE_WORKERS)")
	cmd.Flags().StringVar(&ledger, "ledger", "", "job ledger driver: none, sqlite or postgres (LEDGER_DRIVER)")
	cmd.Flags().StringVar(&dsn, "ledger-dsn", "", "job ledger DSN (LEDGER_DSN)")
	return cmd
}

func (c *cli) runBatch(ctx context.Context) error {
	cfg, logger := c.cfg, c.logger

	jobs, _, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	proc, err := newProcessor(ctx, cfg, jobs, logger)
	if err != nil {
		return err
	}
	report, err := pipeline.NewBatch(proc, cfg.Pipeline.Workers, logger).Run(ctx, cfg.Pipeline.InputDir)
	if err != nil {
		return inputExitCode(err)
	}

	if err := export.WriteJSONFile(cfg.Output.JSONPath, report.Records); err != nil {
		return err
	}
	logger.Info("output.json.ok", "path", cfg.Output.JSONPath, "records", len(report.Records))

	var uploader export.Uploader
	if cfg.Output.S3Bucket != "" {
		up, err := export.NewS3Uploader(ctx, export.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, logger)
		if err != nil {
			return err
		}
		uploader = up
	}
	svc := export.NewService(uploader, logger)

	if cfg.Output.XLSXPath != "" {
		data, err := svc.ExportRecordsXLSX(ctx, report.Records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfg.Output.XLSXPath, data, 0o644); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
	}
	if uploader != nil {
		if err := svc.Publish(ctx, cfg.Output.S3Bucket, cfg.Output.S3Key, report.Records); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(c.stdout, "run %s: %s\nwrote %d record(s) to %s\n",
		report.RunID, report.Summary, len(report.Records), cfg.Output.JSONPath)
	return err
}

func (c *cli) newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <image>",
		Short: "Print the base64 data URI of one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := imageprep.Prepare(args[0])
			if err != nil {
				return inputExitCode(err)
			}
			_, err = fmt.Fprintln(c.stdout, uri)
			return err
		},
	}
}

func (c *cli) newOCRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <image>",
		Short: "Print the raw OCR text of one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.validate(); err != nil {
				return err
			}
			uri, err := imageprep.Prepare(args[0])
			if err != nil {
				return inputExitCode(err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Pipeline.RemoteTimeout)
			defer cancel()

			extractor := newOCRExtractor(c.cfg, newReplicateClient(c.cfg, c.logger), c.logger)
			text, err := extractor.ExtractText(ctx, uri)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, text)
			return err
		},
	}
}

func (c *cli) newStructureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "structure <image>",
		Short: "Run the full pipeline on one image and print its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			proc, err := newProcessor(ctx, c.cfg, nil, c.logger)
			if err != nil {
				return err
			}
			rec, err := proc.ProcessDocument(ctx, args[0])
			if err != nil {
				return inputExitCode(err)
			}
			out, err := json.MarshalIndent(rec, "", "    ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, string(out))
			return err
		},
	}
}

func (c *cli) newDBHealthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Check that the job ledger is reachable and migrated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := common.NewValidator()
			v.Field("LEDGER_DRIVER", c.cfg.Ledger.Driver, common.OneOf(common.LedgerSQLite, common.LedgerPostgres))
			v.Field("LEDGER_DSN", c.cfg.Ledger.DSN, common.Required)
			if err := common.ValidateAndReturnError(v); err != nil {
				return withExitCode(exitConfig, err)
			}

			ctx := cmd.Context()
			_, db, closeLedger, err := openLedger(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer closeLedger()

			if err := db.HealthCheck(ctx, timeout); err != nil {
				return fmt.Errorf("ledger health: FAIL: %w", err)
			}
			_, err = fmt.Fprintf(c.stdout, "ledger health: OK (%s)\n", db.Driver)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "health check timeout")
	return cmd
}
