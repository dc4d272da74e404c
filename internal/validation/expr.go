package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"adspend-etl/internal/config"
	"adspend-etl/internal/model"
)

// Expression is a compiled govaluate boolean expression.
type Expression struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// CompileExpression parses a govaluate expression such as "platform == 'Meta' && spend > 0".
func CompileExpression(source string) (*Expression, error) {
	expr, err := govaluate.NewEvaluableExpression(source)
	if err != nil {
		return nil, fmt.Errorf("invalid expression '%s': %w", source, err)
	}
	return &Expression{source: source, expr: expr}, nil
}

// String returns the expression source.
func (e *Expression) String() string {
	return e.source
}

// Matches evaluates the expression and requires a boolean result.
func (e *Expression) Matches(params map[string]interface{}) (bool, error) {
	result, err := e.expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	keep, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T (%v), not a boolean", result, result)
	}
	return keep, nil
}

// CustomRule is a configured expression every record must satisfy.
type CustomRule struct {
	Name    string
	Message string
	expr    *Expression
}

// CompileRules compiles the configured rules in order.
func CompileRules(cfgs []config.RuleConfig) ([]*CustomRule, error) {
	rules := make([]*CustomRule, 0, len(cfgs))
	for _, c := range cfgs {
		expr, err := CompileExpression(c.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule '%s': %w", c.Name, err)
		}
		rules = append(rules, &CustomRule{Name: c.Name, Message: c.Message, expr: expr})
	}
	return rules, nil
}

// Check returns nil when the record satisfies the rule.
func (r *CustomRule) Check(rec *model.SpendRecord) error {
	ok, err := r.expr.Matches(RecordParams(rec))
	if err != nil {
		return fmt.Errorf("Rule '%s' could not be evaluated: %v", r.Name, err)
	}
	if ok {
		return nil
	}
	if r.Message != "" {
		return errors.New(r.Message)
	}
	return fmt.Errorf("Rule '%s' failed", r.Name)
}

// RecordParams exposes a typed record to expressions. Numbers are float64,
// the date is a yyyy-mm-dd string, and click_rate / conversion_rate are fractions (0 when undefined).
func RecordParams(rec *model.SpendRecord) map[string]interface{} {
	spend, _ := rec.Spend.Float64()
	clickRate, conversionRate := 0.0, 0.0
	if rec.Impressions > 0 {
		clickRate = float64(rec.Clicks) / float64(rec.Impressions)
	}
	if rec.Clicks > 0 {
		conversionRate = float64(rec.Conversions) / float64(rec.Clicks)
	}
	return map[string]interface{}{
		"date":            rec.Date.Format(model.DateLayout),
		"weekday":         rec.Date.Weekday().String(),
		"platform":        rec.Platform,
		"account":         rec.Account,
		"campaign":        rec.Campaign,
		"country":         rec.Country,
		"device":          rec.Device,
		"spend":           spend,
		"clicks":          float64(rec.Clicks),
		"impressions":     float64(rec.Impressions),
		"conversions":     float64(rec.Conversions),
		"click_rate":      clickRate,
		"conversion_rate": conversionRate,
	}
}

// RowParams exposes a raw input row to expressions. Trimmed values that parse
// as numbers (thousands separators allowed) become float64; everything else stays a string.
// Columns named in RequiredColumns are always present so expressions never see a missing parameter.
func RowParams(row map[string]interface{}) map[string]interface{} {
	params := make(map[string]interface{}, len(row)+len(model.RequiredColumns))
	for _, col := range model.RequiredColumns {
		params[col] = ""
	}
	for k, v := range row {
		switch val := v.(type) {
		case string:
			s := strings.TrimSpace(val)
			if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil && s != "" {
				params[k] = f
			} else {
				params[k] = s
			}
		case int:
			params[k] = float64(val)
		case int64:
			params[k] = float64(val)
		case float32:
			params[k] = float64(val)
		case time.Time:
			params[k] = val.Format(model.DateLayout)
		default:
			params[k] = v
		}
	}
	return params
}
