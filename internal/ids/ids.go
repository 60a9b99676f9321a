// Package ids generates the prefixed, K-sortable identifiers used for every
// stored entity. Identifiers are TypeIDs in the form "prefix_suffix".
package ids

import (
	"strings"

	"github.com/go-faster/errors"
	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an identifier.
type Prefix string

const (
	Product    Prefix = "prod"
	Variant    Prefix = "var"
	Size       Prefix = "size"
	User       Prefix = "user"
	CartLine   Prefix = "cart"
	Order      Prefix = "ord"
	Coupon     Prefix = "cpn"
	UserCoupon Prefix = "ucpn"
	Usage      Prefix = "cuse"
)

// ErrInvalid is returned when a string is not a well-formed identifier.
var ErrInvalid = errors.New("invalid id")

// New generates a new identifier with the given prefix.
// It panics on an invalid prefix, which is a programming error.
func New(p Prefix) string {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(errors.Wrapf(err, "generate %q id", p))
	}
	return tid.String()
}

// Validate reports whether s is a well-formed identifier carrying prefix p.
func Validate(s string, p Prefix) error {
	if s == "" {
		return ErrInvalid
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if tid.Prefix() != string(p) {
		return errors.Wrapf(ErrInvalid, "expected prefix %q, got %q", p, tid.Prefix())
	}
	return nil
}

// Tail returns the last n characters of the identifier suffix, uppercased.
// It is used to derive human-readable per-user coupon codes.
func Tail(s string, n int) string {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return strings.ToUpper(s)
}
