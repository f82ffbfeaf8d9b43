package tds

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// roundtrip appends val via AppendValue and reads it back via ReadValue,
// the same pairing BuildRow/ReadRow rely on for every BCP and result-set
// column.
func roundtrip(t *testing.T, ti *TypeInfo, val any) any {
	t.Helper()
	buf, err := AppendValue(nil, ti, val)
	if err != nil {
		t.Fatalf("AppendValue(%v): %v", val, err)
	}
	got, err := ReadValue(bufio.NewReader(bytes.NewReader(buf)), ti)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	return got
}

func TestAppendValueRoundtrip_Int4(t *testing.T) {
	ti := &TypeInfo{Type: TypeIntN, Size: 4}
	got := roundtrip(t, ti, int64(-42))
	if got != int64(-42) {
		t.Errorf("got %v, want -42", got)
	}
}

func TestAppendValueRoundtrip_IntNNull(t *testing.T) {
	ti := &TypeInfo{Type: TypeIntN, Size: 4}
	got := roundtrip(t, ti, nil)
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestAppendValueRoundtrip_FixedIntNullRejected(t *testing.T) {
	ti := &TypeInfo{Type: TypeInt4}
	if _, err := AppendValue(nil, ti, nil); err == nil {
		t.Error("expected error encoding nil into a fixed-width INT column")
	}
}

func TestAppendValueRoundtrip_Bit(t *testing.T) {
	ti := &TypeInfo{Type: TypeBitN}
	got := roundtrip(t, ti, true)
	if got != true {
		t.Errorf("got %v, want true", got)
	}
}

func TestAppendValueRoundtrip_Float8(t *testing.T) {
	ti := &TypeInfo{Type: TypeFltN, Size: 8}
	got := roundtrip(t, ti, 3.14159)
	if got != 3.14159 {
		t.Errorf("got %v, want 3.14159", got)
	}
}

func TestAppendValueRoundtrip_VarChar(t *testing.T) {
	ti := &TypeInfo{Type: TypeBigVarChar, Size: 50}
	got := roundtrip(t, ti, "hello world")
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestAppendValueRoundtrip_VarCharNull(t *testing.T) {
	ti := &TypeInfo{Type: TypeBigVarChar, Size: 50}
	got := roundtrip(t, ti, nil)
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestAppendValueRoundtrip_NVarCharMax(t *testing.T) {
	ti := &TypeInfo{Type: TypeNVarChar, Size: -1}
	got := roundtrip(t, ti, "日本語")
	if got != "日本語" {
		t.Errorf("got %q, want %q", got, "日本語")
	}
}

func TestAppendValueRoundtrip_VarBinary(t *testing.T) {
	ti := &TypeInfo{Type: TypeBigVarBin, Size: 16}
	want := []byte{1, 2, 3, 4}
	got := roundtrip(t, ti, want)
	gb, ok := got.([]byte)
	if !ok || !bytes.Equal(gb, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAppendValueRoundtrip_GUID(t *testing.T) {
	ti := &TypeInfo{Type: TypeGUID}
	id := uuid.New()
	got := roundtrip(t, ti, id)
	gid, ok := got.(uuid.UUID)
	if !ok || gid != id {
		t.Errorf("got %v, want %v", got, id)
	}
}

func TestAppendValueRoundtrip_Date(t *testing.T) {
	ti := &TypeInfo{Type: TypeDateN}
	want := civil.Date{Year: 2026, Month: 7, Day: 30}
	got := roundtrip(t, ti, want)
	gd, ok := got.(civil.Date)
	if !ok || gd != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAppendValue_XMLEncodesAsPLP(t *testing.T) {
	ti := &TypeInfo{Type: TypeXML, Size: -1}
	buf, err := AppendValue(nil, ti, []byte("<a/>"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) == 0 {
		t.Error("expected non-empty XML PLP encoding")
	}
}

func TestAppendValue_TypeMismatch(t *testing.T) {
	ti := &TypeInfo{Type: TypeIntN, Size: 4}
	if _, err := AppendValue(nil, ti, "not an int"); err == nil {
		t.Error("expected type-mismatch error")
	}
}
