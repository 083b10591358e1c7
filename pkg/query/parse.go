// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var windowRegexp = regexp.MustCompile(`^last_(\d+)([smhd])$`)

// Parse parses a monitor query. It returns an error describing the first offending token if the query is not
// well-formed, or if the metric terms do not all share the same grouping.
func Parse(raw string) (*Query, error) {
	p := &parser{input: raw}

	windowAgg, err := p.identifier()
	if err != nil {
		return nil, fmt.Errorf("expected window aggregator: %w", err)
	}

	if !Aggregator(windowAgg).valid() {
		return nil, fmt.Errorf("unknown window aggregator %q", windowAgg)
	}

	if err = p.expect('('); err != nil {
		return nil, err
	}

	windowRaw, err := p.until(')')
	if err != nil {
		return nil, fmt.Errorf("unterminated evaluation window: %w", err)
	}

	window, err := parseWindow(windowRaw)
	if err != nil {
		return nil, err
	}

	if err = p.expect(':'); err != nil {
		return nil, err
	}

	expr, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	comparator, err := p.comparator()
	if err != nil {
		return nil, err
	}

	threshold, err := p.number()
	if err != nil {
		return nil, fmt.Errorf("expected threshold value: %w", err)
	}

	p.skipSpaces()
	if !p.done() {
		return nil, fmt.Errorf("unexpected trailing input at position %d: %q", p.pos, p.input[p.pos:])
	}

	query := &Query{
		WindowAggregator: Aggregator(windowAgg),
		Window:           window,
		Expr:             expr,
		Comparator:       comparator,
		Threshold:        threshold,
	}

	if err = checkGroupingAgree(query); err != nil {
		return nil, err
	}

	return query, nil
}

func parseWindow(raw string) (Window, error) {
	match := windowRegexp.FindStringSubmatch(raw)
	if match == nil {
		return Window{}, fmt.Errorf("invalid evaluation window %q", raw)
	}

	// safe, the regex only matches digits
	amount, _ := strconv.Atoi(match[1])

	var unit time.Duration
	switch match[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	return Window{Raw: raw, Duration: time.Duration(amount) * unit}, nil
}

// checkGroupingAgree ensures every metric term uses the same group by clause. Mixing groupings would make the
// arithmetic between the terms ambiguous.
func checkGroupingAgree(q *Query) error {
	metrics := q.Metrics()
	if len(metrics) == 0 {
		return fmt.Errorf("query has no metric terms")
	}

	canonical := groupKey(metrics[0].GroupBy)
	for _, m := range metrics[1:] {
		if groupKey(m.GroupBy) != canonical {
			return fmt.Errorf("metric terms use different groupings: {%s} vs {%s}",
				strings.Join(metrics[0].GroupBy, ","), strings.Join(m.GroupBy, ","))
		}
	}

	return nil
}

func groupKey(groups []string) string {
	sorted := make([]string, len(groups))
	copy(sorted, groups)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	return strings.Join(sorted, ",")
}

type parser struct {
	input string
	pos   int
}

func (p *parser) done() bool {
	return p.pos >= len(p.input)
}

func (p *parser) skipSpaces() {
	for !p.done() && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}

	return p.input[p.pos]
}

func (p *parser) expect(c byte) error {
	if p.done() || p.input[p.pos] != c {
		return fmt.Errorf("expected %q at position %d", string(c), p.pos)
	}

	p.pos++
	return nil
}

// until consumes up to (and including) the given delimiter and returns everything before it.
func (p *parser) until(c byte) (string, error) {
	idx := strings.IndexByte(p.input[p.pos:], c)
	if idx == -1 {
		return "", fmt.Errorf("expected %q after position %d", string(c), p.pos)
	}

	out := p.input[p.pos : p.pos+idx]
	p.pos += idx + 1
	return out, nil
}

func (p *parser) identifier() (string, error) {
	start := p.pos
	for !p.done() {
		c := rune(p.input[p.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			break
		}
		p.pos++
	}

	if start == p.pos {
		return "", fmt.Errorf("expected identifier at position %d", start)
	}

	return p.input[start:p.pos], nil
}

func (p *parser) metricName() (string, error) {
	start := p.pos
	for !p.done() {
		c := rune(p.input[p.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' && c != '.' && c != '-' {
			break
		}
		p.pos++
	}

	if start == p.pos {
		return "", fmt.Errorf("expected metric name at position %d", start)
	}

	return p.input[start:p.pos], nil
}

func (p *parser) number() (float64, error) {
	p.skipSpaces()
	start := p.pos
	for !p.done() {
		c := p.input[p.pos]
		if (c < '0' || c > '9') && c != '.' {
			break
		}
		p.pos++
	}

	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", p.input[start:p.pos], err)
	}

	return value, nil
}

func (p *parser) comparator() (Comparator, error) {
	p.skipSpaces()
	for _, cmp := range []Comparator{GreaterThanEqual, LessThanEqual, GreaterThan, LessThan} {
		if strings.HasPrefix(p.input[p.pos:], string(cmp)) {
			p.pos += len(cmp)
			return cmp, nil
		}
	}

	return "", fmt.Errorf("expected comparator at position %d", p.pos)
}

func (p *parser) parseAdditive() (Expr, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		p.skipSpaces()
		op := p.peek()
		if op != '+' && op != '-' {
			return lhs, nil
		}

		p.pos++
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}

		lhs = &binaryExpr{op: op, lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		p.skipSpaces()
		op := p.peek()
		if op != '*' && op != '/' {
			return lhs, nil
		}

		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}

		lhs = &binaryExpr{op: op, lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseTerm() (Expr, error) {
	p.skipSpaces()

	if p.done() {
		return nil, fmt.Errorf("unexpected end of query at position %d", p.pos)
	}

	if c := p.peek(); c == '(' {
		p.pos++
		inner, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}

		p.skipSpaces()
		if err = p.expect(')'); err != nil {
			return nil, err
		}

		return &groupExpr{inner: inner}, nil
	} else if c >= '0' && c <= '9' {
		value, err := p.number()
		if err != nil {
			return nil, err
		}

		return &literalExpr{value: value}, nil
	}

	return p.parseMetric()
}

func (p *parser) parseMetric() (Expr, error) {
	agg, err := p.identifier()
	if err != nil {
		return nil, fmt.Errorf("expected space aggregator: %w", err)
	}

	if !Aggregator(agg).valid() {
		return nil, fmt.Errorf("unknown space aggregator %q", agg)
	}

	if err = p.expect(':'); err != nil {
		return nil, err
	}

	metric, err := p.metricName()
	if err != nil {
		return nil, err
	}

	if err = p.expect('{'); err != nil {
		return nil, fmt.Errorf("metric %q is missing a scope filter: %w", metric, err)
	}

	scope, err := p.until('}')
	if err != nil {
		return nil, fmt.Errorf("unterminated scope filter for metric %q: %w", metric, err)
	}

	mq := &MetricQuery{
		SpaceAggregator: Aggregator(agg),
		Metric:          metric,
		Scope:           strings.TrimSpace(scope),
	}

	if mq.Scope == "" {
		return nil, fmt.Errorf("empty scope filter for metric %q", metric)
	}

	if strings.HasPrefix(p.input[p.pos:], " by ") {
		p.pos += len(" by ")
		if err = p.expect('{'); err != nil {
			return nil, err
		}

		groups, err := p.until('}')
		if err != nil {
			return nil, fmt.Errorf("unterminated group by clause for metric %q: %w", metric, err)
		}

		for _, group := range strings.Split(groups, ",") {
			group = strings.TrimSpace(group)
			if group == "" {
				return nil, fmt.Errorf("empty group by dimension for metric %q", metric)
			}

			mq.GroupBy = append(mq.GroupBy, group)
		}
	}

	if strings.HasPrefix(p.input[p.pos:], ".rollup(") {
		p.pos += len(".rollup(")
		rollup, err := p.parseRollup(metric)
		if err != nil {
			return nil, err
		}

		mq.Rollup = rollup
	}

	return &metricExpr{mq: mq}, nil
}

func (p *parser) parseRollup(metric string) (*Rollup, error) {
	fn, err := p.identifier()
	if err != nil {
		return nil, fmt.Errorf("expected rollup function for metric %q: %w", metric, err)
	}

	if !RollupFunc(fn).valid() {
		return nil, fmt.Errorf("unknown rollup function %q", fn)
	}

	if err = p.expect(','); err != nil {
		return nil, err
	}

	seconds, err := p.number()
	if err != nil {
		return nil, fmt.Errorf("expected rollup interval for metric %q: %w", metric, err)
	}

	if seconds <= 0 || seconds != float64(int64(seconds)) {
		return nil, fmt.Errorf("rollup interval must be a positive whole number of seconds, got %v", seconds)
	}

	p.skipSpaces()
	if err = p.expect(')'); err != nil {
		return nil, err
	}

	return &Rollup{Func: RollupFunc(fn), Interval: time.Duration(seconds) * time.Second}, nil
}
