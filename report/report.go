/*
Package report renders event projections as printable spreadsheets.

Every workbook holds a single sheet laid out the same way:

	row 1   title "<event name> <dd/mm/yyyy>", merged across all columns
	row 2   column headers, repeated on every printed page
	row 3+  one line per item
	last    grand total (shopping list and event cost only)

Money cells are numeric with a two-decimal display format so the sheet stays
summable in a spreadsheet application; the stored value keeps full precision.
*/
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/event-stock/inventory"
)

// ContentType is the MIME type of the workbooks written by this package.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	SheetChecklist = "Checklist"
	SheetShopping  = "Shopping"
	SheetCost      = "Cost"
)

const moneyFormat = "#,##0.00"

type column struct {
	header string
	width  float64
	money  bool
}

var (
	checklistColumns = []column{
		{header: "QTY", width: 8},
		{header: "ITEM", width: 40},
		{header: "OUT", width: 8},
		{header: "SETUP", width: 8},
		{header: "RETURN", width: 8},
	}
	shoppingColumns = []column{
		{header: "QTY", width: 8},
		{header: "ITEM", width: 40},
		{header: "UNIT PRICE", width: 14, money: true},
		{header: "ESTIMATED", width: 14, money: true},
	}
	costColumns = []column{
		{header: "QTY", width: 8},
		{header: "ITEM", width: 40},
		{header: "UNIT PRICE", width: 14, money: true},
		{header: "ITEM COST", width: 14, money: true},
	}
)

// WriteChecklist writes the event checklist. OUT, SETUP and RETURN are left
// empty to be ticked by hand.
func WriteChecklist(w io.Writer, list *inventory.Checklist) error {
	s, err := newSheet(SheetChecklist, list.Event, checklistColumns)
	if err != nil {
		return err
	}
	defer s.close()

	for _, line := range list.Lines {
		if err := s.line(line.Quantity, line.ItemName, "", "", ""); err != nil {
			return err
		}
	}
	return s.write(w)
}

// WriteShoppingList writes the missing quantities. Items never purchased
// have an empty unit price.
func WriteShoppingList(w io.Writer, list *inventory.ShoppingList) error {
	s, err := newSheet(SheetShopping, list.Event, shoppingColumns)
	if err != nil {
		return err
	}
	defer s.close()

	for _, line := range list.Lines {
		var price any = ""
		if line.LastUnitPrice != nil {
			price = *line.LastUnitPrice
		}
		if err := s.line(line.Missing, line.ItemName, price, line.EstimatedCost); err != nil {
			return err
		}
	}
	if err := s.total("ESTIMATED TOTAL", list.EstimatedTotal); err != nil {
		return err
	}
	return s.write(w)
}

// WriteEventCost writes the event cost broken down by item and unit price.
func WriteEventCost(w io.Writer, cost *inventory.CostBreakdown) error {
	s, err := newSheet(SheetCost, cost.Event, costColumns)
	if err != nil {
		return err
	}
	defer s.close()

	for _, line := range cost.Lines {
		if err := s.line(line.Quantity, line.ItemName, line.UnitPrice, line.Total); err != nil {
			return err
		}
	}
	if err := s.total("TOTAL", cost.Total); err != nil {
		return err
	}
	return s.write(w)
}

// Filename builds a download name such as "checklist-gala-2026-02-14.xlsx".
func Filename(kind string, event inventory.Event) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, event.Name)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "event"
	}
	return fmt.Sprintf("%s-%s-%s.xlsx", kind, slug, event.Date.Format("2006-01-02"))
}

// =============================================================================
// SHEET BUILDER
// =============================================================================

type sheet struct {
	f       *excelize.File
	name    string
	columns []column
	row     int

	money int
	bold  int
}

func newSheet(name string, event inventory.Event, columns []column) (*sheet, error) {
	f := excelize.NewFile()
	s := &sheet{f: f, name: name, columns: columns}
	if err := s.setup(event); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *sheet) setup(event inventory.Event) error {
	if err := s.f.SetSheetName(s.f.GetSheetName(0), s.name); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	title, err := s.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	header, err := s.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9D9D9"}},
	})
	if err != nil {
		return err
	}
	format := moneyFormat
	if s.money, err = s.f.NewStyle(&excelize.Style{CustomNumFmt: &format}); err != nil {
		return err
	}
	if s.bold, err = s.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &format}); err != nil {
		return err
	}

	last := s.cell(len(s.columns), 1)
	if err := s.f.SetCellValue(s.name, "A1", event.Title()); err != nil {
		return err
	}
	if err := s.f.MergeCell(s.name, "A1", last); err != nil {
		return err
	}
	if err := s.f.SetCellStyle(s.name, "A1", last, title); err != nil {
		return err
	}

	for i, c := range s.columns {
		col := s.cell(i+1, 2)
		if err := s.f.SetCellValue(s.name, col, c.header); err != nil {
			return err
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := s.f.SetColWidth(s.name, name, name, c.width); err != nil {
			return err
		}
	}
	if err := s.f.SetCellStyle(s.name, "A2", s.cell(len(s.columns), 2), header); err != nil {
		return err
	}

	// Repeat the header row on every printed page
	if err := s.f.SetDefinedName(&excelize.DefinedName{
		Name:     "_xlnm.Print_Titles",
		RefersTo: fmt.Sprintf("%s!$2:$2", s.name),
		Scope:    s.name,
	}); err != nil {
		return fmt.Errorf("failed to set print titles: %w", err)
	}

	s.row = 2
	return nil
}

// line appends one row. Decimal values are written as numbers in money format.
func (s *sheet) line(values ...any) error {
	s.row++
	for i, v := range values {
		cell := s.cell(i+1, s.row)
		if d, ok := v.(decimal.Decimal); ok {
			if err := s.f.SetCellValue(s.name, cell, d.InexactFloat64()); err != nil {
				return err
			}
			if err := s.f.SetCellStyle(s.name, cell, cell, s.money); err != nil {
				return err
			}
			continue
		}
		if err := s.f.SetCellValue(s.name, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// total appends a bold label/amount row aligned with the last column.
func (s *sheet) total(label string, amount decimal.Decimal) error {
	s.row++
	n := len(s.columns)
	labelCell := s.cell(n-1, s.row)
	amountCell := s.cell(n, s.row)
	if err := s.f.SetCellValue(s.name, labelCell, label); err != nil {
		return err
	}
	if err := s.f.SetCellValue(s.name, amountCell, amount.InexactFloat64()); err != nil {
		return err
	}
	return s.f.SetCellStyle(s.name, labelCell, amountCell, s.bold)
}

func (s *sheet) cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func (s *sheet) write(w io.Writer) error {
	if err := s.f.Write(w); err != nil {
		return fmt.Errorf("failed to write %s workbook: %w", strings.ToLower(s.name), err)
	}
	return nil
}

func (s *sheet) close() {
	_ = s.f.Close()
}
