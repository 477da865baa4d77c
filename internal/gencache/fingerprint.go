package gencache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Request identifies a synthesis call for caching purposes.
type Request struct {
	Text     string
	Language string
	Speaker  string
	Pitch    float64
	Pace     float64
}

// Fingerprint returns the hex SHA-256 of the normalized request. Text is NFC
// normalized with whitespace runs collapsed; language and speaker are
// case-folded; pitch and pace use fixed precision so 1 and 1.0 agree.
func Fingerprint(req Request) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(NormalizeText(req.Text))
	write(strings.ToLower(strings.TrimSpace(req.Language)))
	write(strings.ToLower(strings.TrimSpace(req.Speaker)))
	write(strconv.FormatFloat(req.Pitch, 'f', 4, 64))
	write(strconv.FormatFloat(req.Pace, 'f', 4, 64))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText applies NFC and collapses whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}
