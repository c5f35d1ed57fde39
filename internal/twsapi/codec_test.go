package twsapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, "71", "2", "1", ""); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	fields, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	want := []string{"71", "2", "1", ""}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("field %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxFrameSize+1)
	if _, err := readFrame(bytes.NewReader(hdr[:])); err == nil {
		t.Fatal("oversize frame must be rejected")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 10)
	buf.Write(hdr[:])
	buf.WriteString("short")
	if _, err := readFrame(&buf); err == nil {
		t.Fatal("truncated payload must error")
	}
}

func TestFieldReaderTruncation(t *testing.T) {
	fr := &fieldReader{fields: []string{"1"}}
	_ = fr.next()
	_ = fr.next()
	if fr.err == nil {
		t.Fatal("read past end must record an error")
	}
	// subsequent reads stay inert
	if got := fr.next(); got != "" {
		t.Fatalf("next after error = %q, want empty", got)
	}
}

func TestFieldReaderParse(t *testing.T) {
	fr := &fieldReader{fields: []string{"42", "1.5", "", "x"}}
	if got := fr.nextInt(); got != 42 {
		t.Fatalf("nextInt = %d", got)
	}
	if got := fr.nextFloat(); got != 1.5 {
		t.Fatalf("nextFloat = %g", got)
	}
	// empty field decodes to zero without error
	if got := fr.nextInt(); got != 0 || fr.err != nil {
		t.Fatalf("nextInt(empty) = %d, err %v", got, fr.err)
	}
	if _ = fr.nextInt(); fr.err == nil {
		t.Fatal("non-numeric field must record an error")
	}
}

func TestEncHelpers(t *testing.T) {
	if encInt(-5) != "-5" {
		t.Fatal("encInt")
	}
	if encFloat(0) != "0" || encFloat(152.25) != "152.25" {
		t.Fatal("encFloat")
	}
	if encBool(true) != "1" || encBool(false) != "0" {
		t.Fatal("encBool")
	}
}

func TestDecodeErrInformationalCodes(t *testing.T) {
	mk := func(code string) []string { return []string{"4", "2", "-1", code, "note"} }
	for _, code := range []string{"2104", "2106", "2158", "1100", "1102"} {
		if err := decodeErr(mk(code)); err != nil {
			t.Errorf("code %s should be informational, got %v", code, err)
		}
	}
	err := decodeErr(mk("502"))
	if err == nil {
		t.Fatal("code 502 must be a hard error")
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Code != 502 {
		t.Fatalf("unexpected error: %v", err)
	}
}
