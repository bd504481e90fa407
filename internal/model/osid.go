package model

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// osidAlphabet is Crockford base32: no I, L, O or U
const osidAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const osidRandomLength = 5

var reOSID = regexp.MustCompile(`^[A-Z]{2}\d{4}\d{3}[0-9A-HJKMNP-TV-Z]{6}$`)

// GenerateOSID builds a new OS ID for a facility created in countryCode at the given time
func GenerateOSID(countryCode string, at time.Time) (string, error) {
	return generateOSID(countryCode, at, rand.Reader)
}

func generateOSID(countryCode string, at time.Time, r io.Reader) (string, error) {
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if len(cc) != 2 {
		return "", fmt.Errorf("invalid country code %q", countryCode)
	}

	buf := make([]byte, osidRandomLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	body := strings.Builder{}
	body.WriteString(fmt.Sprintf("%04d%03d", at.UTC().Year(), at.UTC().YearDay()))
	for _, b := range buf {
		// 256 is a multiple of 32 so the modulo is unbiased
		body.WriteByte(osidAlphabet[int(b)%len(osidAlphabet)])
	}

	check, err := luhnModN(body.String())
	if err != nil {
		return "", err
	}

	return cc + body.String() + string(check), nil
}

// ValidateOSID checks the shape and check character of an OS ID
func ValidateOSID(id string) error {
	if !reOSID.MatchString(id) {
		return fmt.Errorf("malformed OS ID %q", id)
	}

	body := id[2 : len(id)-1]
	want, err := luhnModN(body)
	if err != nil {
		return err
	}
	if id[len(id)-1] != want {
		return fmt.Errorf("OS ID %q has invalid check character", id)
	}
	return nil
}

// luhnModN computes the Luhn mod N check character over osidAlphabet
func luhnModN(input string) (byte, error) {
	n := len(osidAlphabet)
	factor := 2
	sum := 0

	for i := len(input) - 1; i >= 0; i-- {
		codePoint := strings.IndexByte(osidAlphabet, input[i])
		if codePoint < 0 {
			return 0, fmt.Errorf("character %q not valid in OS ID", input[i])
		}

		addend := factor * codePoint
		if factor == 2 {
			factor = 1
		} else {
			factor = 2
		}
		addend = addend/n + addend%n
		sum += addend
	}

	remainder := sum % n
	return osidAlphabet[(n-remainder)%n], nil
}
