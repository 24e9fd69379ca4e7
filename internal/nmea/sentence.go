// Package nmea frames, filters and terminates NMEA 0183 sentences.
//
// It deliberately stops at the sentence boundary: fields are not decoded here.
package nmea

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSentence = errors.New("nmea: invalid sentence")
	ErrShortSentence   = errors.New("nmea: sentence shorter than 2 characters")
	ErrChecksum        = errors.New("nmea: checksum mismatch")
)

// CRLF terminates every sentence on the wire.
const CRLF = "\r\n"

// IsSentinel reports whether c starts a sentence.
func IsSentinel(c byte) bool {
	return c == '$' || c == '!'
}

// Validate checks the invariants of a framed sentence: a leading sentinel,
// at most MaxSentenceLen bytes and no NUL or CR.
func Validate(s string) error {
	if s == "" || !IsSentinel(s[0]) {
		return fmt.Errorf("%w: missing '$' or '!'", ErrInvalidSentence)
	}
	if len(s) > MaxSentenceLen {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidSentence, len(s), MaxSentenceLen)
	}
	if i := strings.IndexAny(s, "\x00\r"); i >= 0 {
		return fmt.Errorf("%w: control byte at %d", ErrInvalidSentence, i)
	}
	return nil
}

// Code returns the talker+sentence code ("GPGGA"), or "" when the sentence
// is too short to carry one.
func Code(s string) string {
	if len(s) < FilterLen+1 {
		return ""
	}
	return s[1 : FilterLen+1]
}

// Checksum XORs the bytes of payload (the text between the sentinel and '*').
func Checksum(payload string) byte {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// SplitChecksum separates a sentence into payload and verifies the trailing
// "*hh" checksum when one is present. hasChecksum is false for sentences
// without a '*'.
func SplitChecksum(s string) (payload string, hasChecksum bool, err error) {
	s = strings.TrimRight(s, CRLF)
	if s == "" || !IsSentinel(s[0]) {
		return "", false, fmt.Errorf("%w: missing '$' or '!'", ErrInvalidSentence)
	}
	star := strings.LastIndexByte(s, '*')
	if star == -1 {
		return s[1:], false, nil
	}
	payload = s[1:star]
	ck := strings.TrimSpace(s[star+1:])
	if len(ck) < 2 {
		return "", true, fmt.Errorf("%w: short checksum", ErrInvalidSentence)
	}
	want, derr := hex.DecodeString(ck[:2])
	if derr != nil || len(want) != 1 {
		return "", true, fmt.Errorf("%w: bad checksum %q", ErrInvalidSentence, ck[:2])
	}
	if got := Checksum(payload); got != want[0] {
		return "", true, fmt.Errorf("%w: got %02X want %02X", ErrChecksum, got, want[0])
	}
	return payload, true, nil
}

// Terminate returns text ending in exactly one CRLF. Text already ending in
// CRLF is returned unchanged; a lone trailing CR or LF is replaced.
func Terminate(text string) (string, error) {
	if len(text) < 2 {
		return "", ErrShortSentence
	}
	body := strings.TrimRight(text, CRLF)
	if body == "" {
		return "", ErrShortSentence
	}
	if strings.HasSuffix(text, CRLF) {
		return text, nil
	}
	return body + CRLF, nil
}
