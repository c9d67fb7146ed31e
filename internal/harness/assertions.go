package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/testutil"
)

// validIdentifier matches the table and column names final_state may
// interpolate into SQL.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Step, ev.Kind)
			if ev.Detail != "" {
				fmt.Fprintf(&buf, " %s", ev.Detail)
			}
			if ev.Outcome != "" {
				fmt.Fprintf(&buf, " -> %s", ev.Outcome)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the site and central.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Central *testutil.FakeCentral
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertPushedContains:
			err = assertPushedContains(result, a)
		case AssertPushedCount:
			err = assertPushedCount(result, a)
		case AssertSyncState:
			err = assertSyncState(result, a)
		case AssertCursor:
			err = assertCursor(result, a)
		case AssertBuffer:
			err = assertBuffer(result, a)
		case AssertCallCount:
			if actx == nil || actx.Central == nil {
				err = fmt.Errorf("assertion[%d]: call_count requires a central", i)
			} else {
				err = assertCallCount(actx.Central, result, a)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertPushedContains(result *Result, a Assertion) error {
	want, err := normalise(a.Expect)
	if err != nil {
		return err
	}

	found := false
	for _, rec := range result.Pushed {
		if string(rec.Table) != a.Table || rec.RecordID != a.ID {
			continue
		}
		found = true
		var data map[string]any
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			continue
		}
		if subsetMatch(data, want) {
			return nil
		}
	}

	actual := "no record pushed"
	if found {
		actual = "pushed, but data did not match"
	}
	return &AssertionError{
		Type:     AssertPushedContains,
		Expected: fmt.Sprintf("%s %s pushed with %v", a.Table, a.ID, a.Expect),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func assertPushedCount(result *Result, a Assertion) error {
	if len(result.Pushed) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPushedCount,
		Expected: fmt.Sprintf("%d records pushed", a.Count),
		Actual:   fmt.Sprintf("%d records pushed", len(result.Pushed)),
		Trace:    result.Trace,
	}
}

func assertCallCount(central *testutil.FakeCentral, result *Result, a Assertion) error {
	got := central.Calls(a.Op)
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%d %s calls", a.Count, a.Op),
		Actual:   fmt.Sprintf("%d %s calls", got, a.Op),
		Trace:    result.Trace,
	}
}

func assertSyncState(result *Result, a Assertion) error {
	if result.Final.SyncState == a.State {
		return nil
	}
	return &AssertionError{
		Type:     AssertSyncState,
		Expected: string(a.State),
		Actual:   string(result.Final.SyncState),
		Trace:    result.Trace,
	}
}

func assertCursor(result *Result, a Assertion) error {
	got := result.Final.PullCursor
	if a.Direction == model.DirectionPush {
		got = result.Final.PushCursor
	}
	if got == a.Value {
		return nil
	}
	return &AssertionError{
		Type:     AssertCursor,
		Expected: fmt.Sprintf("%s cursor %d", a.Direction, a.Value),
		Actual:   fmt.Sprintf("%s cursor %d", a.Direction, got),
		Trace:    result.Trace,
	}
}

func assertBuffer(result *Result, a Assertion) error {
	b := result.Final.Buffer
	counters := map[string]int64{
		"total":      b.Total,
		"pending":    b.Pending,
		"errored":    b.Errored,
		"integrated": b.Integrated,
	}
	for _, key := range sortedKeys(a.Expect) {
		if !stateValuesEqual(a.Expect[key], counters[key]) {
			return &AssertionError{
				Type:     AssertBuffer,
				Expected: fmt.Sprintf("%s = %v", key, a.Expect[key]),
				Actual:   fmt.Sprintf("%s = %d", key, counters[key]),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of the table matches Where
// and that it carries the Expect column values.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}
	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}

	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := row[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause returns a parameterised WHERE fragment with keys in
// sorted order.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	case nil:
		return nil
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a database or counter value.
// SQLite hands back integers as int64, booleans as 0/1 and REAL columns as
// float64.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		got, ok := actual.(string)
		return ok && exp == got
	case int:
		return numberEquals(float64(exp), actual)
	case int64:
		return numberEquals(float64(exp), actual)
	case float64:
		return numberEquals(exp, actual)
	case bool:
		switch got := actual.(type) {
		case bool:
			return exp == got
		case int64:
			return exp == (got != 0)
		}
		return false
	}
	return reflect.DeepEqual(expected, actual)
}

func numberEquals(want float64, actual any) bool {
	switch got := actual.(type) {
	case int64:
		return want == float64(got)
	case int:
		return want == float64(got)
	case float64:
		return want == got
	}
	return false
}

// normalise round-trips a YAML map through JSON so its numbers compare
// equal to decoded wire data.
func normalise(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode expectation: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode expectation: %w", err)
	}
	return out, nil
}

// subsetMatch reports whether actual has every key of expected with an
// equal value. Extra keys in actual are ignored.
func subsetMatch(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
