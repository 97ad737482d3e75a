package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/diwise/integration-fieldbus/domain"
)

// Convention decides what a bare x<number> suffix means. Sites disagree, so
// it is configured rather than guessed.
type Convention int

const (
	// ConventionMultiplier reads x<number> as the calibration multiplier.
	ConventionMultiplier Convention = iota
	// ConventionAdjustment reads x<number> as a multiplicative adjustment.
	// Suffixes carrying a unit (x1.5V, x60A) are still multipliers.
	ConventionAdjustment
)

func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "multiplier":
		return ConventionMultiplier, nil
	case "adjustment":
		return ConventionAdjustment, nil
	}
	return ConventionMultiplier, fmt.Errorf("unknown naming convention %q", s)
}

var DefaultVacuumMarkers = []string{"Vacuo", "Vácuo"}

var (
	words          = regexp.MustCompile(`\S+`)
	multiplier     = regexp.MustCompile(`(?i)^x(\d+(?:[.,]\d+)?)([av])?$`)
	adjustment     = regexp.MustCompile(`(?i)^([+\-x])(\d+(?:[.,]\d+)?)$`)
	initialReading = regexp.MustCompile(`(?i)^\d+m[3³]?$`)
	bareNumber     = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
)

type Metadata struct {
	CleanName   string
	Calibration domain.CalibrationSpec
	// Vacuum is set when the label carries a vacuum marker word.
	Vacuum bool
	// MissingDerivedParams is set for vacuum labels without offset and height.
	// Such devices fall back to the linear formula.
	MissingDerivedParams bool
}

type Parser struct {
	convention Convention
	markers    *regexp.Regexp
}

type Option func(*Parser)

func WithConvention(c Convention) Option {
	return func(p *Parser) {
		p.convention = c
	}
}

func WithVacuumMarkers(markers ...string) Option {
	return func(p *Parser) {
		p.markers = markerExpr(markers)
	}
}

func New(opts ...Option) *Parser {
	p := &Parser{
		convention: ConventionMultiplier,
		markers:    markerExpr(DefaultVacuumMarkers),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func markerExpr(markers []string) *regexp.Regexp {
	quoted := []string{}
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			quoted = append(quoted, regexp.QuoteMeta(m))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|\s)(?:` + strings.Join(quoted, "|") + `)(?:\s|$)`)
}

var defaultParser = New()

// Parse splits a label with the default parser.
func Parse(label string) Metadata {
	return defaultParser.Parse(label)
}

type tokenClass int

const (
	noToken tokenClass = iota
	multiplierToken
	adjustmentToken
	initialReadingToken
)

type token struct {
	class tokenClass
	value float64
	unit  domain.Unit
	op    domain.AdjustmentOp
}

// Parse consumes calibration tokens from the tail of label until the tail no
// longer changes. The first word is never consumed. For each token class the
// rightmost occurrence wins, so the returned clean name never ends with a
// token and parsing it again yields the same name and default calibration.
func (p *Parser) Parse(label string) Metadata {
	md := Metadata{
		CleanName:   strings.TrimSpace(label),
		Calibration: domain.DefaultCalibration(),
		Vacuum:      p.markers != nil && p.markers.MatchString(label),
	}

	spans := words.FindAllStringIndex(label, -1)
	word := func(i int) string { return label[spans[i][0]:spans[i][1]] }

	// derivedParams reports whether the words before end close with an
	// offset and height pair. A run of three numbers is a room number
	// followed by the pair. Longer runs are ambiguous and left alone, which
	// keeps the clean name from ending in another pair.
	derivedParams := func(end int) bool {
		run := 0
		for i := end - 1; i >= 1 && bareNumber.MatchString(word(i)); i-- {
			run++
		}
		return run == 2 || run == 3
	}

	var haveMultiplier, haveAdjustment, haveParams bool
	end := len(spans)

	for {
		consumed := false

		for end > 1 {
			t := p.classify(word(end - 1))
			if t.class == noToken {
				break
			}

			switch t.class {
			case multiplierToken:
				if !haveMultiplier {
					md.Calibration.Multiplier = t.value
					md.Calibration.Unit = t.unit
					haveMultiplier = true
				}
			case adjustmentToken:
				if !haveAdjustment {
					md.Calibration.Adjustment = domain.Adjustment{Op: t.op, Value: t.value}
					haveAdjustment = true
				}
			}

			end--
			consumed = true
		}

		if md.Vacuum && derivedParams(end) {
			if !haveParams {
				md.Calibration.Offset, _ = number(word(end - 2))
				md.Calibration.Height, _ = number(word(end - 1))
				haveParams = true
			}
			end -= 2
			consumed = true
		}

		if !consumed {
			break
		}
	}

	if end < len(spans) {
		md.CleanName = strings.TrimSpace(label[:spans[end][0]])
	}

	if md.Vacuum {
		if haveParams {
			md.Calibration.Formula = domain.FormulaVacuumDerived
		} else {
			md.MissingDerivedParams = true
		}
	}

	return md
}

func (p *Parser) classify(w string) token {
	if m := multiplier.FindStringSubmatch(w); m != nil {
		unit := unitOf(m[2])
		if unit != domain.UnitNone || p.convention == ConventionMultiplier {
			v, err := number(m[1])
			if err != nil || v <= 0 {
				return token{}
			}
			return token{class: multiplierToken, value: v, unit: unit}
		}
	}

	if m := adjustment.FindStringSubmatch(w); m != nil {
		v, err := number(m[2])
		if err != nil {
			return token{}
		}
		switch m[1] {
		case "+":
			return token{class: adjustmentToken, op: domain.AdjustAdd, value: v}
		case "-":
			return token{class: adjustmentToken, op: domain.AdjustSub, value: v}
		default:
			if v <= 0 {
				return token{}
			}
			return token{class: adjustmentToken, op: domain.AdjustMul, value: v}
		}
	}

	if initialReading.MatchString(w) {
		return token{class: initialReadingToken}
	}

	return token{}
}

func unitOf(s string) domain.Unit {
	switch strings.ToUpper(s) {
	case "A":
		return domain.UnitAmpere
	case "V":
		return domain.UnitVolt
	}
	return domain.UnitNone
}

func number(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}
