package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"adspend-etl/internal/model"
)

// dateLayouts are tried in order; the first that parses wins.
// Single-digit layouts also accept zero-padded values.
var dateLayouts = []string{"2006-1-2", "1/2/2006", "2/1/2006", "2006/1/2"}

var (
	structValidatorOnce sync.Once
	structValidator     *validator.Validate
)

// structValidate returns the shared validator. Field names are reported by
// their json tag, and decimals are checked as float64 values.
func structValidate() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		structValidator = v
	})
	return structValidator
}

// FieldError is one field-qualified schema problem.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors lists every violated field of a record.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Struct runs the validate tags of s and returns FieldErrors for every violation.
func Struct(s interface{}) error {
	err := structValidate().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: tagMessage(fe)})
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return fmt.Sprintf("failed '%s' validation", fe.Tag())
	}
}

// RecordValidator turns one loosely typed row into a SpendRecord.
type RecordValidator struct {
	rules Rules
}

// NewRecordValidator creates a validator enforcing rules.
func NewRecordValidator(rules Rules) *RecordValidator {
	return &RecordValidator{rules: rules}
}

// Rules returns the policy in use.
func (v *RecordValidator) Rules() Rules {
	return v.rules
}

// Validate coerces and checks a row. It returns either a record or an error
// describing the problem, and never panics on malformed input.
func (v *RecordValidator) Validate(row map[string]interface{}) (rec *model.SpendRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("Unexpected validation error: %v", r)
		}
	}()

	record, problems := coerce(row)
	if schemaErr := Struct(record); schemaErr != nil {
		var fes FieldErrors
		if !errors.As(schemaErr, &fes) {
			return nil, fmt.Errorf("Unexpected validation error: %v", schemaErr)
		}
		for _, fe := range fes {
			if _, seen := problems[fe.Field]; !seen {
				problems[fe.Field] = fe.Message
			}
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("Validation error: %s", orderedProblems(problems).Error())
	}

	if err := v.checkBusinessRules(record); err != nil {
		return nil, err
	}
	return record, nil
}

func orderedProblems(problems map[string]string) FieldErrors {
	out := make(FieldErrors, 0, len(problems))
	for _, col := range model.RequiredColumns {
		if msg, ok := problems[col]; ok {
			out = append(out, FieldError{Field: col, Message: msg})
			delete(problems, col)
		}
	}
	for field, msg := range problems {
		out = append(out, FieldError{Field: field, Message: msg})
	}
	return out
}

// coerce converts raw values, recording a message per field that could not be converted.
func coerce(row map[string]interface{}) (*model.SpendRecord, map[string]string) {
	problems := make(map[string]string)
	rec := &model.SpendRecord{
		Platform: stringValue(row["platform"]),
		Account:  stringValue(row["account"]),
		Campaign: stringValue(row["campaign"]),
		Country:  strings.ToUpper(stringValue(row["country"])),
		Device:   stringValue(row["device"]),
	}

	if d, err := parseDate(row["date"]); err != nil {
		problems["date"] = err.Error()
	} else {
		rec.Date = d
	}

	if d, err := parseDecimal(row["spend"]); err != nil {
		problems["spend"] = numericProblem("spend", err)
	} else {
		rec.Spend = d
	}

	for _, c := range []struct {
		name string
		dst  *int64
	}{
		{"clicks", &rec.Clicks},
		{"impressions", &rec.Impressions},
		{"conversions", &rec.Conversions},
	} {
		d, err := parseDecimal(row[c.name])
		if err != nil {
			problems[c.name] = numericProblem(c.name, err)
			continue
		}
		if !d.Truncate(0).BigInt().IsInt64() {
			problems[c.name] = numericProblem(c.name, fmt.Errorf("'%s' is out of range", d.String()))
			continue
		}
		*c.dst = d.IntPart()
	}
	return rec, problems
}

var errMissing = errors.New("field required")

func numericProblem(field string, err error) string {
	if errors.Is(err, errMissing) {
		return err.Error()
	}
	return fmt.Sprintf("Invalid %s value: %v", field, err)
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func parseDate(v interface{}) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return time.Time{}, errMissing
		}
		return model.Day(t), nil
	}
	s := stringValue(v)
	if s == "" {
		return time.Time{}, errMissing
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("Unable to parse date: %s", s)
}

// parseDecimal accepts numbers or numeric strings with thousands separators.
func parseDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	}
	s := stringValue(v)
	if s == "" {
		return decimal.Zero, errMissing
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("'%s' is not a number", s)
	}
	return d, nil
}

// checkBusinessRules applies the policy in order; the first failure wins.
func (v *RecordValidator) checkBusinessRules(rec *model.SpendRecord) error {
	r := v.rules
	if !contains(r.Platforms, rec.Platform) {
		return fmt.Errorf("Invalid platform: %s. Must be one of: %s", rec.Platform, strings.Join(r.Platforms, ", "))
	}
	if !contains(r.Devices, rec.Device) {
		return fmt.Errorf("Invalid device: %s. Must be one of: %s", rec.Device, strings.Join(r.Devices, ", "))
	}
	if !contains(r.Countries, rec.Country) {
		return fmt.Errorf("Invalid country: %s. Must be one of: %s", rec.Country, strings.Join(r.Countries, ", "))
	}
	if rec.Clicks > rec.Impressions {
		return fmt.Errorf("Clicks (%d) cannot exceed impressions (%d)", rec.Clicks, rec.Impressions)
	}
	if rec.Date.After(model.Day(r.now())) {
		return fmt.Errorf("Date cannot be in the future: %s", rec.Date.Format(model.DateLayout))
	}
	if rec.Spend.GreaterThan(r.MaxSpend) {
		return fmt.Errorf("Spend amount seems unreasonably high: $%s", rec.Spend.String())
	}

	hundred := decimal.NewFromInt(100)
	if rec.Impressions > 0 {
		rate := decimal.NewFromInt(rec.Clicks).Div(decimal.NewFromInt(rec.Impressions))
		if rate.GreaterThan(r.MaxClickRate) {
			return fmt.Errorf("Click rate seems unreasonably high: %s%%", rate.Mul(hundred).StringFixed(2))
		}
	}
	if rec.Clicks > 0 {
		rate := decimal.NewFromInt(rec.Conversions).Div(decimal.NewFromInt(rec.Clicks))
		if rate.GreaterThan(r.MaxConversionRate) {
			return fmt.Errorf("Conversion rate seems unreasonably high: %s%%", rate.Mul(hundred).StringFixed(2))
		}
	}

	for _, rule := range r.Custom {
		if err := rule.Check(rec); err != nil {
			return err
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
