package twsapi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// Wire framing: each message is a 4-byte big-endian length followed by
// that many bytes of payload. The payload is a sequence of fields, each
// terminated by a NUL byte.

const maxFrameSize = 16 * 1024 * 1024

// outgoing message ids
const (
	msgOutMktData          = "1"
	msgOutPlaceOrder       = "3"
	msgOutCancelOrder      = "4"
	msgOutOpenOrders       = "5"
	msgOutContractData     = "9"
	msgOutHistoricalData   = "20"
	msgOutScannerData      = "22"
	msgOutScannerParams    = "24"
	msgOutCancelMktData    = "2"
	msgOutPositions        = "61"
	msgOutAccountSummary   = "62"
	msgOutStartAPI         = "71"
	msgOutSecDefOptParams  = "78"
)

// incoming message ids
const (
	msgInTickPrice       = "1"
	msgInTickSize        = "2"
	msgInOrderStatus     = "3"
	msgInErr             = "4"
	msgInOpenOrder       = "5"
	msgInNextValidID     = "9"
	msgInContractData    = "10"
	msgInManagedAccounts = "15"
	msgInHistoricalData  = "17"
	msgInScannerParams   = "19"
	msgInScannerData     = "20"
	msgInTickOptComp     = "21"
	msgInContractDataEnd = "52"
	msgInOpenOrderEnd    = "53"
	msgInTickSnapshotEnd = "57"
	msgInPositionData    = "61"
	msgInPositionEnd     = "62"
	msgInAccountSummary  = "63"
	msgInAccountSumEnd   = "64"
	msgInSecDefOptParam  = "75"
	msgInSecDefOptEnd    = "76"
)

func writeFrame(w io.Writer, fields ...string) error {
	var payload bytes.Buffer
	for _, f := range fields {
		payload.WriteString(f)
		payload.WriteByte(0)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(payload.Len()))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

func readFrame(r io.Reader) ([]string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	payload = bytes.TrimSuffix(payload, []byte{0})
	if len(payload) == 0 {
		return []string{}, nil
	}
	parts := bytes.Split(payload, []byte{0})
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = string(p)
	}
	return fields, nil
}

// field encoding helpers

func encInt(v int64) string { return strconv.FormatInt(v, 10) }

func encFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// fieldReader walks the fields of a decoded frame. Out-of-range and
// malformed reads record the first error instead of panicking so decode
// paths can check once at the end.
type fieldReader struct {
	fields []string
	i      int
	err    error
}

func (fr *fieldReader) next() string {
	if fr.err != nil {
		return ""
	}
	if fr.i >= len(fr.fields) {
		fr.err = fmt.Errorf("message truncated at field %d", fr.i)
		return ""
	}
	s := fr.fields[fr.i]
	fr.i++
	return s
}

func (fr *fieldReader) nextInt() int64 {
	s := fr.next()
	if fr.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fr.err = fmt.Errorf("field %d: %w", fr.i-1, err)
		return 0
	}
	return v
}

func (fr *fieldReader) nextFloat() float64 {
	s := fr.next()
	if fr.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fr.err = fmt.Errorf("field %d: %w", fr.i-1, err)
		return 0
	}
	return v
}

func (fr *fieldReader) skip(n int) {
	for range n {
		fr.next()
	}
}
