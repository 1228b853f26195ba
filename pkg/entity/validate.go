package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/susom/redcap-entity/pkg/types"
)

// Rejection reasons reported per property.
const (
	ReasonRequired           = "required"
	ReasonUnknownProperty    = "unknown property"
	ReasonInvalidEmail       = "invalid email"
	ReasonNotString          = "not a string"
	ReasonNotInteger         = "not an integer"
	ReasonInvalidDate        = "invalid date"
	ReasonNotBoolean         = "not a boolean"
	ReasonInvalidJSON        = "invalid json"
	ReasonNoProjectContext   = "no project context"
	ReasonRecordNotFound     = "record not found"
	ReasonUserNotFound       = "user not found"
	ReasonProjectNotFound    = "project not found"
	ReasonProjectAccess      = "project access denied"
	ReasonEntityNotFound     = "entity not found"
	ReasonInvalidChoice      = "invalid choice"
	ReasonChoicesUnavailable = "choices unavailable"
)

// Rejection is returned by Validate when a value is not acceptable.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func reject(reason string) error {
	return &Rejection{Reason: reason}
}

// numericPattern matches the strings accepted as numbers: optional sign,
// decimal digits with an optional fraction, optional exponent, and
// surrounding whitespace. Hex, infinities and NaN are not numbers.
var numericPattern = regexp.MustCompile(`^\s*[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?\s*$`)

// Decimal renderings of the signed 64-bit bounds, used by the date rule.
var (
	maxInt64Text = strconv.FormatInt(math.MaxInt64, 10)
	minInt64Text = strconv.FormatInt(math.MinInt64, 10)
)

// Validator decides whether raw values are acceptable for properties and
// normalizes them to their stored form. Lookups needed by reference
// properties go through its collaborators; everything else is pure.
type Validator struct {
	Directory Directory
	Access    AccessChecker
	Factory   Factory
}

// Validate returns the normalized form of raw for property p. A
// *Rejection error means the value is unacceptable; any other error is a
// collaborator failure and should abort the calling operation.
func (v *Validator) Validate(ctx context.Context, p types.PropertyInfo, raw any) (any, error) {
	if s, ok := raw.(string); ok && s == "" {
		raw = nil
	}
	if raw == nil {
		if p.Required {
			return nil, reject(ReasonRequired)
		}
		return nil, nil
	}

	val, err := v.checkType(ctx, p, raw)
	if err != nil {
		return nil, err
	}
	if err := checkChoices(ctx, p, val); err != nil {
		return nil, err
	}
	return val, nil
}

func (v *Validator) checkType(ctx context.Context, p types.PropertyInfo, raw any) (any, error) {
	switch p.Type {
	case types.PropertyEmail:
		s, ok := raw.(string)
		if !ok {
			return nil, reject(ReasonInvalidEmail)
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return nil, reject(ReasonInvalidEmail)
		}
		return s, nil

	case types.PropertyText, types.PropertyLongText:
		s, ok := raw.(string)
		if !ok {
			return nil, reject(ReasonNotString)
		}
		return s, nil

	case types.PropertyInteger:
		n, ok := toInt64(raw)
		if !ok {
			return nil, reject(ReasonNotInteger)
		}
		return n, nil

	case types.PropertyDate:
		d, ok := toDate(raw)
		if !ok {
			return nil, reject(ReasonInvalidDate)
		}
		return d, nil

	case types.PropertyBoolean:
		b, ok := toBool(raw)
		if !ok {
			return nil, reject(ReasonNotBoolean)
		}
		return b, nil

	case types.PropertyJSON, types.PropertyData:
		s, err := encodeStructured(raw)
		if err != nil {
			return nil, reject(ReasonInvalidJSON)
		}
		return s, nil

	case types.PropertyRecord:
		return v.checkRecord(ctx, raw)

	case types.PropertyUser:
		return v.checkUser(ctx, raw)

	case types.PropertyProject:
		return v.checkProject(ctx, raw)

	case types.PropertyEntityReference:
		return v.checkEntityReference(ctx, p, raw)

	default:
		return nil, fmt.Errorf("%w: property %s has type %q", types.ErrInvalidType, p.Name, p.Type)
	}
}

func (v *Validator) checkRecord(ctx context.Context, raw any) (any, error) {
	scope := types.ScopeFrom(ctx)
	if scope.ProjectID == "" {
		return nil, reject(ReasonNoProjectContext)
	}
	id, ok := referenceKey(raw)
	if !ok {
		return nil, reject(ReasonRecordNotFound)
	}
	if v.Directory == nil {
		return nil, errors.New("record reference requires a directory")
	}
	exists, err := v.Directory.RecordExists(ctx, scope.ProjectID, id)
	if err != nil {
		return nil, fmt.Errorf("checking record %s: %w", id, err)
	}
	if !exists {
		return nil, reject(ReasonRecordNotFound)
	}
	return id, nil
}

func (v *Validator) checkUser(ctx context.Context, raw any) (any, error) {
	name, ok := referenceKey(raw)
	if !ok {
		return nil, reject(ReasonUserNotFound)
	}
	if v.Directory == nil {
		return nil, errors.New("user reference requires a directory")
	}
	exists, err := v.Directory.UserExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking user %s: %w", name, err)
	}
	if !exists {
		return nil, reject(ReasonUserNotFound)
	}
	return name, nil
}

// checkProject requires the project to exist and the acting principal to
// reach it. Callers without an actor (batch jobs, the local CLI without
// --actor) and privileged actors skip the access check.
func (v *Validator) checkProject(ctx context.Context, raw any) (any, error) {
	id, ok := referenceKey(raw)
	if !ok {
		return nil, reject(ReasonProjectNotFound)
	}
	if v.Directory == nil {
		return nil, errors.New("project reference requires a directory")
	}
	exists, err := v.Directory.ProjectExists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking project %s: %w", id, err)
	}
	if !exists {
		return nil, reject(ReasonProjectNotFound)
	}

	scope := types.ScopeFrom(ctx)
	if scope.ActorID == "" || scope.Privileged() {
		return id, nil
	}
	if v.Access == nil {
		return nil, reject(ReasonProjectAccess)
	}
	allowed, err := v.Access.HasProjectAccess(ctx, scope.ActorID, id)
	if err != nil {
		return nil, fmt.Errorf("checking access to project %s: %w", id, err)
	}
	if !allowed {
		return nil, reject(ReasonProjectAccess)
	}
	return id, nil
}

func (v *Validator) checkEntityReference(ctx context.Context, p types.PropertyInfo, raw any) (any, error) {
	id, ok := toInt64(raw)
	if !ok || id <= 0 || p.EntityType == "" || v.Factory == nil {
		return nil, reject(ReasonEntityNotFound)
	}
	if _, err := v.Factory.GetInstance(ctx, p.EntityType, id); err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidType) {
			return nil, reject(ReasonEntityNotFound)
		}
		return nil, fmt.Errorf("loading %s %d: %w", p.EntityType, id, err)
	}
	return id, nil
}

// checkChoices applies the static choice mapping or the choice provider.
func checkChoices(ctx context.Context, p types.PropertyInfo, val any) error {
	var choices map[string]string
	switch {
	case p.Choices != nil:
		choices = p.Choices
	case p.ChoicesFunc != nil:
		m, err := p.ChoicesFunc(ctx)
		if err != nil || m == nil {
			return reject(ReasonChoicesUnavailable)
		}
		choices = m
	case p.ChoicesProvider != "":
		// Named but never resolved by a registry.
		return reject(ReasonChoicesUnavailable)
	default:
		return nil
	}
	if _, ok := choices[choiceKey(val)]; !ok {
		return reject(ReasonInvalidChoice)
	}
	return nil
}

// choiceKey renders a normalized value as a choice mapping key.
func choiceKey(val any) string {
	switch x := val.(type) {
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// referenceKey accepts string or integral identifiers of external
// objects (users, projects, project records).
func referenceKey(raw any) (string, bool) {
	if s, ok := raw.(string); ok {
		return s, s != ""
	}
	if n, ok := toInt64(raw); ok {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}

// toInt64 accepts numeric values without a fractional part.
func toInt64(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return uintToInt64(uint64(x))
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return uintToInt64(x)
	case float32:
		return floatToInt64(float64(x))
	case float64:
		return floatToInt64(x)
	case json.Number:
		return stringToInt64(x.String())
	case string:
		return stringToInt64(x)
	default:
		return 0, false
	}
}

func uintToInt64(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func stringToInt64(s string) (int64, bool) {
	if !numericPattern.MatchString(s) {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt64(f)
}

// toBool accepts booleans and exactly 0 or 1.
func toBool(raw any) (bool, bool) {
	if b, ok := raw.(bool); ok {
		return b, true
	}
	if s, ok := raw.(string); ok {
		switch s {
		case "0":
			return false, true
		case "1":
			return true, true
		}
		return false, false
	}
	n, ok := toInt64(raw)
	if !ok || (n != 0 && n != 1) {
		return false, false
	}
	return n == 1, true
}

// toDate implements the timestamp range check. Numbers must fit a signed
// 64-bit integer. Non-numeric strings are compared byte-wise against the
// decimal renderings of the bounds, which accepts most date strings and
// rejects most words.
//
// This check is deliberately weak: it does not verify calendar validity.
func toDate(raw any) (any, bool) {
	switch x := raw.(type) {
	case time.Time:
		return x.Unix(), true
	case string:
		if numericPattern.MatchString(x) {
			// Numeric text comes back from the NUMERIC column as a number.
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil || f < math.MinInt64 || f > math.MaxInt64 {
				return nil, false
			}
			if n, ok := stringToInt64(x); ok {
				return n, true
			}
			return f, true
		}
		return x, x <= maxInt64Text && x >= minInt64Text
	case float32, float64, json.Number:
		f, ok := toFloat64(x)
		if !ok || math.IsNaN(f) || f < math.MinInt64 || f > math.MaxInt64 {
			return nil, false
		}
		if n, ok := floatToInt64(f); ok {
			return n, true
		}
		return f, true
	case bool:
		return nil, false
	default:
		n, ok := toInt64(raw)
		if !ok {
			return nil, false
		}
		return n, true
	}
}

func toFloat64(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// encodeStructured returns the canonical text form of a json/data value.
// Strings that already hold valid JSON are kept verbatim.
func encodeStructured(raw any) (string, error) {
	if s, ok := raw.(string); ok && json.Valid([]byte(s)) {
		return s, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeStructured is the inverse of encodeStructured. Text that is not
// valid JSON is returned unchanged.
func decodeStructured(s string) any {
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}
