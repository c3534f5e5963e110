package roster

import (
	"bytes"
	"encoding/xml"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

// Parse sniffs the gradebook format from the filename extension and content,
// normalises spreadsheet formats to the shared row model, and parses it.
// CSV is the default for anything that is not a recognised spreadsheet.
func (p *Parser) Parse(filename string, data []byte) (*models.Gradebook, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xltx", ".xls", ".ods":
		return p.parseSpreadsheet(data)
	case ".xml":
		return p.parseSpreadsheetXML(data)
	default:
		if looksLikeZip(data) {
			return p.parseSpreadsheet(data)
		}
		return p.ParseCSV(data)
	}
}

func (p *Parser) parseSpreadsheet(data []byte) (*models.Gradebook, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterParse.Code, appErrors.ErrRosterParse.Status, "failed to open spreadsheet")
	}
	defer file.Close() //nolint:errcheck

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrRosterParse, "spreadsheet has no worksheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterParse.Code, appErrors.ErrRosterParse.Status, "failed to read worksheet rows")
	}

	return p.ParseRecords(rows)
}

// spreadsheetML covers the Excel 2003 XML export some gradebooks still emit.
type spreadsheetML struct {
	Worksheets []struct {
		Table struct {
			Rows []struct {
				Cells []struct {
					Data string `xml:"Data"`
				} `xml:"Cell"`
			} `xml:"Row"`
		} `xml:"Table"`
	} `xml:"Worksheet"`
}

func (p *Parser) parseSpreadsheetXML(data []byte) (*models.Gradebook, error) {
	var doc spreadsheetML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterParse.Code, appErrors.ErrRosterParse.Status, "invalid spreadsheet XML")
	}
	if len(doc.Worksheets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrRosterParse, "spreadsheet XML has no worksheets")
	}

	var records [][]string
	for _, row := range doc.Worksheets[0].Table.Rows {
		record := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			record = append(record, cell.Data)
		}
		records = append(records, record)
	}

	return p.ParseRecords(records)
}

func looksLikeZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}
