package tabular

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func csvFile(name, body string) File {
	return File{Name: name, Data: []byte(body)}
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name     string
		files    []File
		expected []string
	}{
		{
			name:     "simple",
			files:    []File{csvFile("people.csv", "name,age\nAlice,30\nBob,25\n")},
			expected: []string{"name: Alice age: 30", "name: Bob age: 25"},
		},
		{
			name:     "no trailing newline",
			files:    []File{csvFile("people.csv", "name,age\nAlice,30\nBob,25")},
			expected: []string{"name: Alice age: 30", "name: Bob age: 25"},
		},
		{
			name:     "byte order mark",
			files:    []File{csvFile("bom.csv", "\ufeffname,age\nAlice,30\n")},
			expected: []string{"name: Alice age: 30"},
		},
		{
			name:     "blank lines skipped",
			files:    []File{csvFile("gaps.csv", "name,age\n\nAlice,30\n\n\nBob,25\n")},
			expected: []string{"name: Alice age: 30", "name: Bob age: 25"},
		},
		{
			name:     "records of empty fields kept",
			files:    []File{csvFile("gaps.csv", "name,age\nAlice,30\n,\nBob,25\n")},
			expected: []string{"name: Alice age: 30", "name:  age: ", "name: Bob age: 25"},
		},
		{
			name:     "repeated header keeps last value",
			files:    []File{csvFile("dup.csv", "a,b,a\n1,2,3\n")},
			expected: []string{"a: 3 b: 2"},
		},
		{
			name:     "repeated header beyond short record",
			files:    []File{csvFile("dup.csv", "a,b,a\n1,2\n")},
			expected: []string{"a: 1 b: 2"},
		},
		{
			name:     "missing trailing fields omitted",
			files:    []File{csvFile("short.csv", "name,age,city\nAlice,30\n")},
			expected: []string{"name: Alice age: 30"},
		},
		{
			name:     "extra fields dropped",
			files:    []File{csvFile("long.csv", "name,age\nAlice,30,Paris,extra\n")},
			expected: []string{"name: Alice age: 30"},
		},
		{
			name:     "empty value kept",
			files:    []File{csvFile("empty.csv", "name,age\nAlice,\n")},
			expected: []string{"name: Alice age: "},
		},
		{
			name:     "quoted fields",
			files:    []File{csvFile("quoted.csv", "name,note\n\"Smith, J\",\"said \"\"hi\"\"\"\n")},
			expected: []string{`name: Smith, J note: said "hi"`},
		},
		{
			name:     "header only",
			files:    []File{csvFile("header.csv", "name,age\n")},
			expected: nil,
		},
		{
			name:     "empty file",
			files:    []File{csvFile("empty.csv", "")},
			expected: nil,
		},
		{
			name: "files keep their order",
			files: []File{
				csvFile("a.csv", "x\n1\n2\n"),
				csvFile("b.csv", "y\n3\n"),
			},
			expected: []string{"x: 1", "x: 2", "y: 3"},
		},
		{
			name:     "no files",
			files:    nil,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Flatten(tt.files)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(rows) != len(tt.expected) {
				t.Fatalf("Expected %d rows, got %d: %v", len(tt.expected), len(rows), rows)
			}
			for i, want := range tt.expected {
				if got := rows[i].String(); got != want {
					t.Errorf("Row %d: expected %q, got %q", i, want, got)
				}
			}
		})
	}
}

func TestFlatten_RowCountMatchesRecords(t *testing.T) {
	var many strings.Builder
	many.WriteString("id,value\n")
	for i := 0; i < 250; i++ {
		many.WriteString("k,v\n")
	}

	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{"plain records", many.String(), 250},
		{"empty fields", "name,age\nAlice,30\n,\nBob,25\n", 3},
		{"whitespace fields", "name,age\n  ,  \nAlice,30\n", 2},
		{"single empty quoted field", "name\n\"\"\nAlice\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Flatten([]File{csvFile("count.csv", tt.body)})
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(rows) != tt.expected {
				t.Errorf("Expected %d rows, got %d: %v", tt.expected, len(rows), rows)
			}
		})
	}
}

func TestFlatten_HeaderOrderPreserved(t *testing.T) {
	rows, err := Flatten([]File{csvFile("cols.csv", "z,a,m\n1,2,3\n")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	keys := rows[0].Keys()
	if strings.Join(keys, ",") != "z,a,m" {
		t.Errorf("Expected header order z,a,m, got %v", keys)
	}
	if v, ok := rows[0].Get("a"); !ok || v != "2" {
		t.Errorf("Expected a=2, got %q (%v)", v, ok)
	}
}

func TestFlatten_DecodeError(t *testing.T) {
	bad := File{Name: "latin1.csv", Data: []byte("name\nJos\xe9\n")}
	good := csvFile("good.csv", "name\nAlice\n")

	rows, err := Flatten([]File{bad, good})
	if err == nil {
		t.Fatal("Expected decode error")
	}
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.File != "latin1.csv" {
		t.Errorf("Expected DecodeError for latin1.csv, got %v", err)
	}
	if len(rows) != 1 || rows[0].String() != "name: Alice" {
		t.Errorf("Expected rows from the good file, got %v", rows)
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestFlatten_Workbook(t *testing.T) {
	data := workbook(t, [][]any{
		{"name", "age"},
		{"Alice", "30"},
		{"Bob", "25"},
	})

	rows, err := Flatten([]File{{Name: "people.XLSX", Data: data}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{"name: Alice age: 30", "name: Bob age: 25"}
	if len(rows) != len(want) {
		t.Fatalf("Expected %d rows, got %v", len(want), rows)
	}
	for i := range want {
		if rows[i].String() != want[i] {
			t.Errorf("Row %d: expected %q, got %q", i, want[i], rows[i].String())
		}
	}
}

func TestFlatten_MalformedWorkbook(t *testing.T) {
	_, err := Flatten([]File{{Name: "broken.xlsx", Data: []byte("not a zip")}})
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}

func TestIsSupported(t *testing.T) {
	tests := map[string]bool{
		"a.csv":      true,
		"A.CSV":      true,
		"book.xlsx":  true,
		"notes.txt":  false,
		"csv":        false,
		"legacy.xls": false,
	}
	for name, want := range tests {
		if got := IsSupported(name); got != want {
			t.Errorf("IsSupported(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDecodeError_Message(t *testing.T) {
	e := &DecodeError{File: "x.csv"}
	if !strings.Contains(e.Error(), "x.csv") {
		t.Errorf("Expected file name in message, got %q", e.Error())
	}
	wrapped := &DecodeError{File: "y.xlsx", Err: errors.New("zip: not a valid zip file")}
	if !strings.Contains(wrapped.Error(), "zip") || errors.Unwrap(wrapped) == nil {
		t.Errorf("Expected cause in message and chain, got %q", wrapped.Error())
	}
}
