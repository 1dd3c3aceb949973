package types

import (
	"database/sql/driver"
	jsonStd "encoding/json"
	"reflect"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	Format    = "2006-01-02T15:04:05"
	SQLLayout = "2006-01-02 15:04:05"
)

// Time is a second-precision UTC timestamp stored as text in SQL and
// rendered without zone in JSON.
type Time struct {
	Time  time.Time
	Valid bool
}

func NewTime(t time.Time) Time {
	return Time{Time: t.UTC().Truncate(time.Second), Valid: true}
}

func TimeNow() Time {
	return NewTime(time.Now())
}

func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(Format, s, time.UTC)
}

func (t *Time) Scan(v interface{}) error {
	switch val := v.(type) {
	case time.Time:
		// Time from DB may come with zone included.
		_, offset := val.Zone()
		t.Time = val.Add(time.Second * time.Duration(offset)).UTC()
		t.Valid = true
	case string:
		parsed, err := time.ParseInLocation(SQLLayout, val, time.UTC)
		if err != nil {
			return err
		}
		t.Time, t.Valid = parsed, true
	case []byte:
		return t.Scan(string(val))
	default:
		t.Time, t.Valid = time.Time{}, false
	}
	return nil
}

func (t Time) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.UTC().Format(SQLLayout), nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return []byte(t.Time.UTC().Format(strconv.Quote(Format))), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		tt, err := ParseTime(v)
		if err == nil {
			*t = Time{Time: tt, Valid: true}
			return nil
		}
	case nil:
		*t = Time{Valid: false}
		return nil
	}
	return &jsonStd.UnmarshalTypeError{Value: "time", Type: reflect.TypeOf(v)}
}

func (t Time) String() string {
	return t.Time.UTC().Format(SQLLayout)
}

func (t Time) Before(u Time) bool {
	return t.Time.UTC().Before(u.Time.UTC())
}

func (t Time) After(u Time) bool {
	return t.Time.UTC().After(u.Time.UTC())
}
