package xlsx

import (
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func workbook(t *testing.T, rows map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for sheet, data := range rows {
		if first {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				t.Fatalf("SetSheetName() error = %v", err)
			}
			first = false
		} else if _, err := f.NewSheet(sheet); err != nil {
			t.Fatalf("NewSheet() error = %v", err)
		}
		for i, row := range data {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				t.Fatalf("CoordinatesToCellName() error = %v", err)
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				t.Fatalf("SetSheetRow() error = %v", err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}

func TestParseRendersHeaderPairs(t *testing.T) {
	raw := workbook(t, map[string][][]any{
		"Тарифы": {
			{"Тариф", "Цена", "Поддержка"},
			{"Базовый", 990, ""},
			{"Премиум", 2990, "24/7"},
		},
	})

	out, err := New().Parse(context.Background(), raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := "## Тарифы\n\nТариф | Цена | Поддержка\nТариф: Базовый; Цена: 990\nТариф: Премиум; Цена: 2990; Поддержка: 24/7"
	if out.Text != want {
		t.Fatalf("unexpected text:\n%s\nwant:\n%s", out.Text, want)
	}
}

func TestParseEmptyWorkbookIsInvalid(t *testing.T) {
	raw := workbook(t, map[string][][]any{"Пусто": {}})
	_, err := New().Parse(context.Background(), raw)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := New().Parse(context.Background(), []byte("not a zip"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
