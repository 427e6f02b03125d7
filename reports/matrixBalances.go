// Package reports renders spreadsheet exports.
package reports

import (
	"io"

	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/xuri/excelize/v2"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExcelExporter interface {
	GetCellValues() []interface{}
}

type matrixRow struct {
	*workflow.MatrixBalance
}

func (r matrixRow) GetCellValues() []interface{} {
	m := r.Matrix
	return []interface{}{
		m.OrderNumber,
		m.Advertiser,
		m.Campaign,
		m.Agency,
		m.GrossValue.InexactFloat64(),
		r.Consumed.InexactFloat64(),
		r.Remaining.InexactFloat64(),
	}
}

var matrixHeadings = []string{"PI Matriz", "Anunciante", "Campanha", "Agência", "Valor Bruto", "Consumido", "Saldo"}

// WriteMatrixBalances writes one row per Matrix balance to w as an xlsx workbook.
func WriteMatrixBalances(w io.Writer, balances []*workflow.MatrixBalance) error {
	rows := make([]ExcelExporter, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, matrixRow{b})
	}
	return writeSheet(w, "Matrizes", rows, matrixHeadings...)
}

func writeSheet(w io.Writer, sheetName string, data []ExcelExporter, headings ...string) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}
	for r, d := range data {
		for c, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
			if _, ok := value.(float64); ok {
				if err := f.SetCellStyle(sheetName, cell, cell, money); err != nil {
					return err
				}
			}
		}
	}
	if len(headings) > 0 {
		if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return err
		}
	}
	_, err = f.WriteTo(w)
	return err
}
