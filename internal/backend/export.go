package backend

import (
	"context"
	"fmt"

	"miaomiao/internal/config"
	"miaomiao/internal/export"
)

// NewExportWriter picks the export destination named by the config.
func NewExportWriter(ctx context.Context, cfg *config.Config) (export.Writer, error) {
	switch cfg.ExportTarget {
	case config.ExportXLSX:
		return export.NewXLSXWriter(cfg.ExportDir), nil
	case config.ExportSheets:
		w, err := export.NewSheetsWriter(ctx, export.SheetsConfig{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets export: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported export target: %s", cfg.ExportTarget)
	}
}
