package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// Bank is one of the supported financial institutions.
type Bank string

const (
	BankKaspi   Bank = "Kaspi Bank"
	BankHalyk   Bank = "Halyk Bank"
	BankFreedom Bank = "Freedom Bank"
	BankJusan   Bank = "Jusan Bank"
	BankBCC     Bank = "Bank CenterCredit"
	BankForte   Bank = "ForteBank"
)

// Banks lists every supported bank in display order.
var Banks = []Bank{BankKaspi, BankHalyk, BankFreedom, BankJusan, BankBCC, BankForte}

var bankCodes = map[Bank]string{
	BankKaspi:   "kaspi",
	BankHalyk:   "halyk",
	BankFreedom: "freedom",
	BankJusan:   "jusan",
	BankBCC:     "bcc",
	BankForte:   "forte",
}

// bankAliases maps normalized keys that differ from the code itself.
var bankAliases = map[string]Bank{
	"kaspikz":        BankKaspi,
	"freedomfinance": BankFreedom,
	"centercredit":   BankBCC,
}

// Code is the short lowercase code used in deterministic account IDs.
func (b Bank) Code() string {
	return bankCodes[b]
}

func (b Bank) String() string {
	return string(b)
}

// Valid reports whether b is one of the supported banks.
func (b Bank) Valid() bool {
	_, ok := bankCodes[b]
	return ok
}

// ParseBank resolves a stored or user-supplied bank label, tolerating case,
// spacing and the "bank" suffix ("kaspi", "Kaspi Bank", "KASPI" all match).
func ParseBank(label string) (Bank, error) {
	key := NormalizeBankKey(label)
	if key == "" {
		return "", fmt.Errorf("%w: empty label", ErrUnknownBank)
	}
	for b, code := range bankCodes {
		if key == code {
			return b, nil
		}
	}
	if b, ok := bankAliases[key]; ok {
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBank, label)
}

// NormalizeBankKey reduces a bank label to the key used for grouping running
// balances. Known banks collapse to their code; unknown labels keep their
// normalized form so they still group consistently.
func NormalizeBankKey(label string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	key := sb.String()
	if key != "bank" {
		key = strings.ReplaceAll(key, "bank", "")
	}
	if b, ok := bankAliases[key]; ok {
		return b.Code()
	}
	return key
}
