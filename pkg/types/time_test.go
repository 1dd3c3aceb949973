package types

import (
	"testing"
	"time"
)

func TestTimeJSON(t *testing.T) {
	tt := NewTime(time.Date(2022, 6, 1, 10, 35, 30, 75000000, time.UTC))

	bts, err := json.Marshal(tt)
	if err != nil {
		t.Fatal(err)
	}
	if string(bts) != `"2022-06-01T10:35:30"` {
		t.Fatal("must be 2022-06-01T10:35:30, but got ", string(bts))
	}

	parsed := Time{}
	if err = json.Unmarshal(bts, &parsed); err != nil {
		t.Fatal(err)
	}
	if !parsed.Time.Equal(tt.Time) {
		t.Fatalf("must be %v, but got %v", tt, parsed)
	}

	if err = json.Unmarshal([]byte("null"), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Valid {
		t.Fatal("null must produce invalid time")
	}
}

func TestTimeSQL(t *testing.T) {
	tt := NewTime(time.Date(2022, 6, 1, 10, 35, 30, 0, time.UTC))
	v, err := tt.Value()
	if err != nil {
		t.Fatal(err)
	}
	if v != "2022-06-01 10:35:30" {
		t.Fatal("must be 2022-06-01 10:35:30, but got ", v)
	}

	scanned := Time{}
	if err = scanned.Scan(v); err != nil {
		t.Fatal(err)
	}
	if !scanned.Time.Equal(tt.Time) || !scanned.Valid {
		t.Fatalf("must be %v, but got %v", tt, scanned)
	}
	if !NewTime(tt.Time.Add(time.Minute)).After(scanned) {
		t.Fatal("later time must be after")
	}
}
