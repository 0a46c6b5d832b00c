package catalog

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"

	"codejudge/internal/common/db"
)

// fakeDB answers queries by matching a substring of the SQL text.
type fakeDB struct {
	rows map[string][][]interface{}
}

func (f *fakeDB) lookup(query string, args []interface{}) [][]interface{} {
	for key, data := range f.rows {
		if strings.Contains(query, key) {
			return filterByArgs(data, args)
		}
	}
	return nil
}

// filterByArgs keeps rows whose trailing hidden columns equal the query args.
// Rows are stored as visible columns followed by one column per argument.
func filterByArgs(data [][]interface{}, args []interface{}) [][]interface{} {
	var out [][]interface{}
	for _, row := range data {
		if len(row) < len(args) {
			continue
		}
		keys := row[len(row)-len(args):]
		match := true
		for i := range args {
			if !reflect.DeepEqual(keys[i], args[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, row[:len(row)-len(args)])
		}
	}
	return out
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return &fakeRows{data: f.lookup(query, args), pos: -1}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	data := f.lookup(query, args)
	if len(data) == 0 {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{values: data[0]}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return errors.New("not implemented")
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }

func (f *fakeDB) Close() error { return nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	data [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return assign(dest, r.data[r.pos])
}

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Err() error { return nil }

func assign(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return errors.New("column count mismatch")
	}
	for i := range dest {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(values[i]))
	}
	return nil
}
