package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/entity"
)

const sheetName = "Patient Records"

// Service turns a finished batch into the configured outputs.
type Service struct {
	uploader Uploader
	logger   *slog.Logger
}

func NewService(uploader Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uploader: uploader, logger: logger}
}

// ExportRecordsXLSX returns a workbook with one row per record, columns in schema order.
func (s *Service) ExportRecordsXLSX(ctx context.Context, records entity.BatchResult) ([]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_error", "error", err)
		}
	}()

	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(activeIndex)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	fields := constants.Fields()
	for i, field := range fields {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, field.Label())
	}

	for r, rec := range records {
		row := r + 2
		for i, field := range fields {
			v := rec.Get(field)
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheetName, cell, truncate(*v, 32767))
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24) // filename
	_ = f.SetColWidth(sheetName, "B", "G", 18)
	_ = f.SetColWidth(sheetName, "H", "I", 48) // notes, procedures
	_ = f.SetColWidth(sheetName, "J", "K", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// Publish uploads the JSON rendering of the batch to bucket/key.
func (s *Service) Publish(ctx context.Context, bucket, key string, records entity.BatchResult) error {
	if s.uploader == nil {
		return fmt.Errorf("no uploader configured")
	}
	data, err := EncodeJSON(records)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := s.uploader.Upload(ctx, bucket, key, data, "application/json"); err != nil {
		s.logger.Error("export.s3.error", "bucket", bucket, "key", key, "error", err)
		return err
	}
	s.logger.Info("export.s3.ok",
		"bucket", bucket,
		"key", key,
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// truncate caps a cell at Excel's per-cell limit, counted in characters.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return string(runes[:1])
	}
	return string(runes[:n-1]) + "…"
}
