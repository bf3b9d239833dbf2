package hdb

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/git-pkgs/hkg/internal/core"
)

const sampleDB = `[INSTALLED]

[AVAILABLE]
spam = 1.0
eggs = 2.3
ham = 0.9
`

func TestParse(t *testing.T) {
	db, err := Parse([]byte(sampleDB))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(db.Installed) != 0 {
		t.Errorf("Installed = %v, want empty", db.Installed)
	}
	want := []string{"spam", "eggs", "ham"}
	if got := db.Available.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Available names = %v, want %v", got, want)
	}
	if v, ok := db.Available.Get("eggs"); !ok || v != core.MustParseVersion("2.3") {
		t.Errorf("Get(eggs) = %v, %v", v, ok)
	}
	if _, ok := db.Available.Get("bacon"); ok {
		t.Error("Get(bacon) found, want missing")
	}
}

func TestParseEmpty(t *testing.T) {
	for _, input := range []string{"", "\n\n", "# nothing\n"} {
		db, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		if len(db.Installed) != 0 || len(db.Available) != 0 {
			t.Errorf("Parse(%q) = %+v, want empty", input, db)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown section", "[OTHER]\n"},
		{"entry before section", "spam = 1.0\n"},
		{"duplicate section", "[AVAILABLE]\n[AVAILABLE]\n"},
		{"duplicate entry", "[AVAILABLE]\nspam = 1.0\nspam = 1.1\n"},
		{"missing equals", "[AVAILABLE]\nspam 1.0\n"},
		{"bad name", "[AVAILABLE]\nSpam = 1.0\n"},
		{"bad version", "[AVAILABLE]\nspam = 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if !errors.Is(err, core.ErrMalformedDatabase) {
				t.Errorf("Parse() error = %v, want ErrMalformedDatabase", err)
			}
		})
	}
}

func TestParseBadVersionKeepsCause(t *testing.T) {
	_, err := Parse([]byte("[AVAILABLE]\nspam = x.y\n"))
	if !errors.Is(err, core.ErrInvalidVersion) {
		t.Errorf("error = %v, want ErrInvalidVersion in chain", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	db, err := Parse([]byte("[INSTALLED]\nspam = 1.0\n\n[AVAILABLE]\nspam = 1.2\neggs = 0.1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err := Parse(db.Marshal())
	if err != nil {
		t.Fatalf("Parse(Marshal()) failed: %v", err)
	}
	if !reflect.DeepEqual(got, db) {
		t.Errorf("round trip = %+v, want %+v", got, db)
	}
}

func TestMarshalEmptyWritesBothHeaders(t *testing.T) {
	got := string(Database{}.Marshal())
	want := "[INSTALLED]\n\n[AVAILABLE]\n"
	if got != want {
		t.Errorf("Marshal() = %q, want %q", got, want)
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	db, _ := Parse([]byte(sampleDB))

	updated, err := Upsert(db, Available, "eggs", core.MustParseVersion("3.0"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := updated.Available.Names(); !reflect.DeepEqual(got, []string{"spam", "eggs", "ham"}) {
		t.Errorf("order = %v, want spam eggs ham", got)
	}
	if v, _ := updated.Available.Get("eggs"); v.String() != "3.0" {
		t.Errorf("eggs = %v, want 3.0", v)
	}
	if v, _ := db.Available.Get("eggs"); v.String() != "2.3" {
		t.Errorf("original eggs = %v, want 2.3 (Upsert must not mutate its input)", v)
	}
}

func TestUpsertAppends(t *testing.T) {
	db, _ := Parse([]byte(sampleDB))

	updated, err := Upsert(db, Available, "bacon", core.MustParseVersion("1.0"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := updated.Available.Names(); !reflect.DeepEqual(got, []string{"spam", "eggs", "ham", "bacon"}) {
		t.Errorf("order = %v", got)
	}
	if len(db.Available) != 3 {
		t.Errorf("original grew to %d entries", len(db.Available))
	}
}

func TestUpsertIdempotent(t *testing.T) {
	db, _ := Parse([]byte(sampleDB))
	v := core.MustParseVersion("4.2")

	for _, name := range []string{"spam", "bacon"} {
		once, err := Upsert(db, Installed, name, v)
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		twice, err := Upsert(once, Installed, name, v)
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("Upsert(%s) twice = %+v, want %+v", name, twice, once)
		}
	}
}

func TestUpsertRejectsBadName(t *testing.T) {
	_, err := Upsert(Database{}, Installed, "Spam", core.MustParseVersion("1.0"))
	if !errors.Is(err, core.ErrInvalidName) {
		t.Errorf("error = %v, want ErrInvalidName", err)
	}
}

func TestDelete(t *testing.T) {
	db, _ := Parse([]byte(sampleDB))

	updated, err := Delete(db, Available, "eggs")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := updated.Available.Names(); !reflect.DeepEqual(got, []string{"spam", "ham"}) {
		t.Errorf("names = %v, want spam ham", got)
	}
	if !db.Available.Has("eggs") {
		t.Error("Delete mutated its input")
	}

	same, err := Delete(updated, Available, "eggs")
	if err != nil {
		t.Fatalf("Delete of missing entry failed: %v", err)
	}
	if !reflect.DeepEqual(same, updated) {
		t.Errorf("Delete of missing entry changed db: %+v", same)
	}
}

func TestUnknownSectionName(t *testing.T) {
	if _, err := Upsert(Database{}, SectionName("BOGUS"), "spam", core.Version{}); !errors.Is(err, core.ErrMalformedDatabase) {
		t.Errorf("Upsert error = %v, want ErrMalformedDatabase", err)
	}
	if _, err := Delete(Database{}, SectionName("BOGUS"), "spam"); !errors.Is(err, core.ErrMalformedDatabase) {
		t.Errorf("Delete error = %v, want ErrMalformedDatabase", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	db, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile of missing file failed: %v", err)
	}
	if len(db.Installed) != 0 || len(db.Available) != 0 {
		t.Errorf("ReadFile of missing file = %+v, want empty", db)
	}

	db, _ = Upsert(db, Installed, "spam", core.MustParseVersion("1.0"))
	if err := WriteFile(path, db); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !reflect.DeepEqual(got, db) {
		t.Errorf("ReadFile = %+v, want %+v", got, db)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the database", len(entries))
	}
}

func TestReadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); !errors.Is(err, core.ErrMalformedDatabase) {
		t.Errorf("ReadFile error = %v, want ErrMalformedDatabase", err)
	}
}
