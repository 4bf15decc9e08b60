// internal/driver/tektronix/parse.go
package tektronix

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"scope-service/internal/model"
	"scope-service/pkg/driver"
)

// ParseMeasurementValue parses a MEASU:IMM:VAL? reply
func ParseMeasurementValue(reply string) (float64, error) {
	value, err := parseFinite(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("%w: measurement value %q", model.ErrParse, reply)
	}
	return value, nil
}

// parseFinite parses a decimal number, rejecting the NaN and Inf spellings
// strconv accepts
func parseFinite(s string) (float64, error) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return value, nil
}

// ParseCurve parses an ASCII CURV? reply holding exactly n comma-separated
// integers
func ParseCurve(reply string, n int) ([]int, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: empty curve", model.ErrParse)
	}

	fields := strings.Split(reply, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("%w: curve has %d points, expected %d", model.ErrParse, len(fields), n)
	}

	samples := make([]int, n)
	for i, field := range fields {
		sample, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("%w: curve point %d %q", model.ErrParse, i, field)
		}
		samples[i] = sample
	}
	return samples, nil
}

// ParsePreamble reads the vertical and horizontal scale from a WFMP:WFI?
// reply such as
//
//	Ch1, DC coupling, 1.0E0 V/div, 5.0E-4 s/div, 2500 points, Sample mode
func ParsePreamble(reply string) (model.Scaling, error) {
	fields := strings.Split(reply, ",")
	if len(fields) < 4 {
		return model.Scaling{}, fmt.Errorf("%w: preamble has %d fields %q", model.ErrParse, len(fields), reply)
	}

	vpd, err := leadingFloat(fields[2])
	if err != nil {
		return model.Scaling{}, fmt.Errorf("%w: volts per division: %w", model.ErrParse, err)
	}
	spd, err := leadingFloat(fields[3])
	if err != nil {
		return model.Scaling{}, fmt.Errorf("%w: seconds per division: %w", model.ErrParse, err)
	}

	return model.Scaling{VoltsPerDivision: vpd, SecondsPerDivision: spd}, nil
}

func leadingFloat(field string) (float64, error) {
	tokens := strings.Fields(field)
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty field")
	}
	value, err := parseFinite(tokens[0])
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", strings.TrimSpace(field), err)
	}
	return value, nil
}

// Voltages converts raw curve counts to volts
func Voltages(raw []int, scaling model.Scaling) []float64 {
	voltages := make([]float64, len(raw))
	for i, r := range raw {
		voltages[i] = float64(r) / FullScaleCount * VerticalDivision * scaling.VoltsPerDivision
	}
	return voltages
}

// TimeAxis returns the sample times for n points spread over the
// horizontal divisions
func TimeAxis(n int, scaling model.Scaling) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / float64(n) * HorizontalDivision * scaling.SecondsPerDivision
	}
	return times
}

// ParseEvents splits an ALLE? reply into code/message pairs. Messages are
// quoted strings that may contain commas; a doubled quote is a literal quote.
func ParseEvents(reply string) ([]model.EventEntry, error) {
	tokens, err := tokenize(reply)
	if err != nil {
		return nil, err
	}
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("%w: event queue has an unpaired entry %q", model.ErrParse, reply)
	}

	entries := make([]model.EventEntry, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		if tokens[i].quoted {
			return nil, fmt.Errorf("%w: event code %q is quoted", model.ErrParse, tokens[i].text)
		}
		code, err := strconv.Atoi(tokens[i].text)
		if err != nil {
			return nil, fmt.Errorf("%w: event code %q", model.ErrParse, tokens[i].text)
		}
		entries = append(entries, model.EventEntry{Code: code, Message: tokens[i+1].text})
	}
	return entries, nil
}

type token struct {
	text   string
	quoted bool
}

func tokenize(reply string) ([]token, error) {
	var tokens []token
	s := strings.TrimSpace(reply)
	if s == "" {
		return tokens, nil
	}

	for i := 0; ; {
		for i < len(s) && s[i] == ' ' {
			i++
		}

		var tok token
		if i < len(s) && s[i] == '"' {
			var b strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == '"' {
					if i+1 < len(s) && s[i+1] == '"' {
						b.WriteByte('"')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quoted string in %q", model.ErrParse, reply)
			}
			tok = token{text: b.String(), quoted: true}
			for i < len(s) && s[i] == ' ' {
				i++
			}
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			tok = token{text: strings.TrimSpace(s[i : i+end])}
			i += end
		}
		tokens = append(tokens, tok)

		if i >= len(s) {
			return tokens, nil
		}
		if s[i] != ',' {
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", model.ErrParse, s[i], i)
		}
		i++
	}
}

// ParseIdentity splits an ID? reply such as TEK/TDS340,CF:91.1CT,FV:v1.00
// into manufacturer, model and key:value fields
func ParseIdentity(reply string) (*driver.InstrumentInfo, error) {
	reply = strings.TrimSpace(reply)
	parts := strings.Split(reply, ",")

	manufacturer, instrumentModel, ok := strings.Cut(parts[0], "/")
	if !ok || manufacturer == "" || instrumentModel == "" {
		return nil, fmt.Errorf("%w: identity %q", model.ErrParse, reply)
	}

	info := &driver.InstrumentInfo{
		Manufacturer: manufacturer,
		Model:        instrumentModel,
		Fields:       make(map[string]string),
		Raw:          reply,
	}
	for _, part := range parts[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			continue
		}
		info.Fields[key] = value
	}
	info.FirmwareVersion = info.Fields["FV"]
	return info, nil
}
