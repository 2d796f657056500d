package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	visitapp "geotrack-cloud/internal/visits/application"
)

const exportTimeLayout = "2006-01-02 15:04"

// BuildVisitsPDF renders a one-page visit report.
func BuildVisitsPDF(report visitapp.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Visit Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s (%s)", report.DeviceName, report.DeviceKey))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s - %s UTC", report.From.UTC().Format(exportTimeLayout), report.To.UTC().Format(exportTimeLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Visits: %d", len(report.Visits)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Start", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "End", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Duration", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Latitude", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Longitude", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Points", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, visit := range report.Visits {
		pdf.CellFormat(35, 6, visit.Start.UTC().Format(exportTimeLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, visit.End.UTC().Format(exportTimeLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, visit.Duration().Round(time.Minute).String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.6f", visit.CenterLat), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.6f", visit.CenterLng), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", visit.Count), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildVisitsXLSX renders the visit report as a workbook.
func BuildVisitsXLSX(report visitapp.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	visitsSheet := "visits"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(visitsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Visit Report")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", report.DeviceKey)
	_ = f.SetCellValue(summarySheet, "A4", "Name")
	_ = f.SetCellValue(summarySheet, "B4", report.DeviceName)
	_ = f.SetCellValue(summarySheet, "A5", "From")
	_ = f.SetCellValue(summarySheet, "B5", report.From.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "To")
	_ = f.SetCellValue(summarySheet, "B6", report.To.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "Visits")
	_ = f.SetCellValue(summarySheet, "B7", len(report.Visits))

	headers := []string{"Start", "End", "Duration (min)", "Latitude", "Longitude", "Points"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(visitsSheet, cell, header)
	}
	for i, visit := range report.Visits {
		row := i + 2
		_ = f.SetCellValue(visitsSheet, fmt.Sprintf("A%d", row), visit.Start.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(visitsSheet, fmt.Sprintf("B%d", row), visit.End.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(visitsSheet, fmt.Sprintf("C%d", row), visit.Duration().Minutes())
		_ = f.SetCellValue(visitsSheet, fmt.Sprintf("D%d", row), visit.CenterLat)
		_ = f.SetCellValue(visitsSheet, fmt.Sprintf("E%d", row), visit.CenterLng)
		_ = f.SetCellValue(visitsSheet, fmt.Sprintf("F%d", row), visit.Count)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
