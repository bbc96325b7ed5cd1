package model

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestCoerceIndustry(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Technology", "Technology"},
		{"Real Estate", "Real Estate"},
		{"Other", "Other"},
		{"Spacecraft Repair", "Other"},
		{"", "Other"},
		{"technology", "Other"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CoerceIndustry(tt.in); got != tt.want {
				t.Errorf("CoerceIndustry(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceLanguages_UnknownBecomesOther(t *testing.T) {
	got := CoerceLanguages([]string{"English", "Klingon", "Japanese", "Elvish"})
	want := []string{"English", "Other", "Japanese"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CoerceLanguages = %v, want %v", got, want)
	}
}

func TestCoerceLocations_UnknownBecomesGlobal(t *testing.T) {
	got := CoerceLocations([]string{"Mars", "Europe"})
	want := []string{"Global", "Europe"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CoerceLocations = %v, want %v", got, want)
	}
}

func TestCoerceGenders_DropsUnknown(t *testing.T) {
	got := CoerceGenders([]string{"All", "Female", "Female"})
	want := []string{"Female"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CoerceGenders = %v, want %v", got, want)
	}
}

func TestCoerce_NilInputReturnsEmptySlice(t *testing.T) {
	got := CoerceLanguages(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("CoerceLanguages(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewDuplicateProjectError("acme.com"))
	if !HasCode(err, ErrCodeDuplicateProject) {
		t.Error("HasCode should find DUPLICATE_PROJECT through wrapping")
	}
	if HasCode(err, ErrCodeStoreUnavailable) {
		t.Error("HasCode should not match a different code")
	}
	if HasCode(errors.New("plain"), ErrCodeDuplicateProject) {
		t.Error("HasCode should be false for non-APIError")
	}
}

func TestAPIError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreUnavailableError(cause)
	if !errors.Is(err, cause) {
		t.Error("StoreUnavailable error should unwrap to its cause")
	}
}
