package export

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"rondot/internal"
	"rondot/internal/resolve"
)

// WritePendingReview dumps PENDING mapping records to an XLSX sheet for the
// manual review surface.
func WritePendingReview(recs []internal.MappingRecord, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []string{
		"external_code", "supplier_id", "external_description",
		"suggested_internal_code", "method", "confidence", "use_count",
		"created_at", "last_used_at",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, rec := range recs {
		row := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, rec.ExternalCode)
		set(2, rec.SupplierID)
		set(3, rec.ExternalDescription)
		set(4, rec.InternalCode)
		set(5, string(rec.Method))
		set(6, rec.Confidence)
		set(7, rec.UseCount)
		set(8, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		set(9, rec.LastUsedAt.Format("2006-01-02 15:04:05"))
	}

	return save(f, outputPath)
}

// WriteResolutionReport writes a one-shot resolution to XLSX: one client
// block, then one row per product candidate.
func WriteResolutionReport(res resolve.Resolution, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []string{
		"section", "code", "entity_id", "label", "score", "reason", "quantity", "not_found",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	writeRow := func(section, code string, c internal.MatchCandidate) {
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, section)
		set(2, code)
		set(3, c.EntityID)
		set(4, c.Label)
		set(5, c.Score)
		set(6, c.Reason)
		set(7, c.Quantity)
		set(8, c.NotFound)
		row++
	}

	for _, c := range res.Clients {
		writeRow("client", "", c)
	}
	for _, p := range res.Products {
		for _, c := range p.Candidates {
			writeRow("product", p.Code, c)
		}
	}

	return save(f, outputPath)
}

func save(f *excelize.File, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
