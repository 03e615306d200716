package rules

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// Comparison semantics follow the loose scripting-language rules the rule
// authors write against: numeric strings compare equal to numbers, ordering
// is numeric unless both sides are strings, and NaN never compares true.

// operand is a resolved right-hand side: a scalar or a list.
type operand struct {
	scalar domain.Value
	list   []domain.Value
	isList bool
}

func scalarOperand(v domain.Value) operand { return operand{scalar: v} }

func listOperand(vs []domain.Value) operand { return operand{list: vs, isList: true} }

// primitive collapses a list into its joined string form.
func (o operand) primitive() domain.Value {
	if !o.isList {
		return o.scalar
	}
	parts := make([]string, len(o.list))
	for i, v := range o.list {
		if v.Kind == domain.KindNull || v.Kind == domain.KindUndefined {
			continue
		}
		parts[i] = displayString(v)
	}
	return domain.StringValue(strings.Join(parts, ","))
}

func isNullish(v domain.Value) bool {
	return v.Kind == domain.KindNull || v.Kind == domain.KindUndefined
}

// looseEqual implements == between a fact and a resolved operand.
func looseEqual(x domain.Value, y operand) bool {
	if y.isList {
		if isNullish(x) {
			return false
		}
		return looseEqualScalar(x, y.primitive())
	}
	return looseEqualScalar(x, y.scalar)
}

func looseEqualScalar(x, y domain.Value) bool {
	if x.Kind == y.Kind {
		return strictEqual(x, y)
	}
	if isNullish(x) || isNullish(y) {
		return isNullish(x) && isNullish(y)
	}
	if x.Kind == domain.KindBool {
		return looseEqualScalar(domain.NumberValue(toNumber(x)), y)
	}
	if y.Kind == domain.KindBool {
		return looseEqualScalar(x, domain.NumberValue(toNumber(y)))
	}
	return toNumber(x) == toNumber(y)
}

func strictEqual(x, y domain.Value) bool {
	if x.Kind != y.Kind {
		return false
	}
	switch x.Kind {
	case domain.KindNumber:
		return x.Num == y.Num
	case domain.KindString:
		return x.Str == y.Str
	case domain.KindBool:
		return x.Bool == y.Bool
	default:
		return true
	}
}

// sameValueZero is strict equality except that NaN equals NaN.
func sameValueZero(x, y domain.Value) bool {
	if x.Kind == domain.KindNumber && y.Kind == domain.KindNumber &&
		math.IsNaN(x.Num) && math.IsNaN(y.Num) {
		return true
	}
	return strictEqual(x, y)
}

// contains reports whether list holds v under sameValueZero.
func contains(list []domain.Value, v domain.Value) bool {
	for _, item := range list {
		if sameValueZero(item, v) {
			return true
		}
	}
	return false
}

// compare orders a fact against an operand. ok is false when either side
// coerces to NaN, in which case every ordering operator yields false.
func compare(x domain.Value, y operand) (cmp int, ok bool) {
	py := y.primitive()
	if x.Kind == domain.KindString && py.Kind == domain.KindString {
		return compareUTF16(x.Str, py.Str), true
	}
	nx, ny := toNumber(x), toNumber(py)
	if math.IsNaN(nx) || math.IsNaN(ny) {
		return 0, false
	}
	switch {
	case nx < ny:
		return -1, true
	case nx > ny:
		return 1, true
	default:
		return 0, true
	}
}

// compareUTF16 orders strings by UTF-16 code units.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}

// toNumber converts a scalar to a float64. Anything unparsable is NaN.
func toNumber(v domain.Value) float64 {
	switch v.Kind {
	case domain.KindNull:
		return 0
	case domain.KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case domain.KindNumber:
		return v.Num
	case domain.KindString:
		return stringToNumber(v.Str)
	default:
		return math.NaN()
	}
}

var decimalLiteral = regexp.MustCompile(`^[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

func isNumericSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ', 0xA0, 0xFEFF, 0x2028, 0x2029:
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// stringToNumber parses s the way form input and extracted facts are
// coerced: surrounding whitespace is ignored, the empty string is 0, and
// 0x/0o/0b prefixes are accepted.
func stringToNumber(s string) float64 {
	s = strings.TrimFunc(s, isNumericSpace)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, ok := new(big.Int).SetString(s[2:], base)
			if !ok || strings.ContainsAny(s[2:], "_+-") {
				return math.NaN()
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f
		}
	}
	if !decimalLiteral.MatchString(s) {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// formatNumber renders f in the shortest round-trip form, switching to
// exponent notation outside [1e-7, 1e21).
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	case f < 0:
		return "-" + formatNumber(-f)
	}

	// d.ddde±XX
	e := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(e, "e")
	digits := strings.Replace(mant, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)
	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}

	sign := "+"
	if n-1 < 0 {
		sign = "-"
	}
	expAbs := strconv.Itoa(abs(n - 1))
	if k == 1 {
		return digits + "e" + sign + expAbs
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + expAbs
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// displayString renders a fact the way it is interpolated into log lines.
func displayString(v domain.Value) string {
	switch v.Kind {
	case domain.KindNull:
		return "null"
	case domain.KindBool:
		return strconv.FormatBool(v.Bool)
	case domain.KindNumber:
		return formatNumber(v.Num)
	case domain.KindString:
		return v.Str
	default:
		return "undefined"
	}
}

// describeValue renders a literal or list condition value as compact JSON.
// A missing value renders as undefined.
func describeValue(cv domain.ConditionValue) string {
	if cv.Shape == domain.ShapeList {
		var b strings.Builder
		b.WriteByte('[')
		for i, v := range cv.List {
			if i > 0 {
				b.WriteByte(',')
			}
			if v.Kind == domain.KindUndefined {
				b.WriteString("null")
				continue
			}
			b.WriteString(jsonScalar(v))
		}
		b.WriteByte(']')
		return b.String()
	}
	if cv.Literal.Kind == domain.KindUndefined {
		return "undefined"
	}
	return jsonScalar(cv.Literal)
}

func jsonScalar(v domain.Value) string {
	switch v.Kind {
	case domain.KindBool:
		return strconv.FormatBool(v.Bool)
	case domain.KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return "null"
		}
		return formatNumber(v.Num)
	case domain.KindString:
		return quoteJSON(v.Str)
	default:
		return "null"
	}
}

// quoteJSON quotes s with the minimal JSON escapes and no HTML escaping.
func quoteJSON(s string) string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hex[r>>4])
				b.WriteByte(hex[r&0xF])
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
