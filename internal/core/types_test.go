package core

import (
	"errors"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{"1.0", Version{1, 0}, false},
		{"0.0", Version{0, 0}, false},
		{"2.10", Version{2, 10}, false},
		{" 3.4 ", Version{3, 4}, false},
		{"01.2", Version{1, 2}, false},
		{"1", Version{}, true},
		{"1.", Version{}, true},
		{".1", Version{}, true},
		{"1.2.3", Version{}, true},
		{"-1.2", Version{}, true},
		{"+1.2", Version{}, true},
		{"a.b", Version{}, true},
		{"", Version{}, true},
		{"99999999999999999999.1", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Errorf("ParseVersion(%q) error = %v, want ErrInvalidVersion", tt.input, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.2", -1},
		{"1.2", "1.0", 1},
		{"1.9", "1.10", -1},
		{"2.0", "1.99", 1},
		{"0.1", "1.0", -1},
	}

	for _, tt := range tests {
		got := MustParseVersion(tt.a).Compare(MustParseVersion(tt.b))
		if got != tt.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVersionString(t *testing.T) {
	if got := (Version{Major: 1, Minor: 10}).String(); got != "1.10" {
		t.Errorf("String() = %q, want %q", got, "1.10")
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"spam", "eggs", "hkg", "a"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Spam", "spam2", "spam-eggs", "spam_eggs", "../spam", "späm"}
	for _, name := range invalid {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestPackageNotFoundErrorUnwrap(t *testing.T) {
	cause := &RepositoryError{URL: "http://down.example", Err: ErrUnreachable}
	err := error(&PackageNotFoundError{
		Name:     "spam",
		Searched: []string{"http://down.example", "http://up.example"},
		Failures: []error{cause},
	})

	if !errors.Is(err, ErrPackageNotFound) {
		t.Error("expected errors.Is(err, ErrPackageNotFound)")
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Error("expected errors.Is(err, ErrUnreachable)")
	}

	var repoErr *RepositoryError
	if !errors.As(err, &repoErr) || repoErr.URL != "http://down.example" {
		t.Errorf("errors.As RepositoryError = %v", repoErr)
	}
}

func TestOperationErrorMessage(t *testing.T) {
	err := &OperationError{
		Op:         "install",
		Package:    "spam",
		Repository: "http://repo.example",
		Phase:      PhaseFetching,
		Err:        ErrNotFound,
	}
	want := "install spam (FETCHING via http://repo.example): not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected OperationError to unwrap to ErrNotFound")
	}
}

func TestPhaseTerminal(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhaseResolving, false},
		{PhaseFetching, false},
		{PhaseStaging, false},
		{PhaseCommitting, false},
		{PhaseDone, true},
		{PhaseFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			if got := tt.phase.Terminal(); got != tt.want {
				t.Errorf("%s.Terminal() = %v, want %v", tt.phase, got, tt.want)
			}
		})
	}
}
