package application

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClientTimeUnmarshal(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		input string
		want  time.Time
	}{
		"rfc3339":          {input: `"2024-05-01T09:00:00Z"`, want: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		"rfc3339 offset":   {input: `"2024-05-01T11:00:00+02:00"`, want: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		"unix seconds":     {input: `1714554000`, want: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		"fractional":       {input: `1714554000.25`, want: time.Date(2024, 5, 1, 9, 0, 0, 250_000_000, time.UTC)},
		"numeric string":   {input: `"1714554000"`, want: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		"null leaves zero": {input: `null`, want: time.Time{}},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var got ClientTime
			if err := json.Unmarshal([]byte(tc.input), &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Time.Equal(tc.want) {
				t.Fatalf("got %v, want %v", got.Time, tc.want)
			}
		})
	}
}

func TestClientTimeRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`"yesterday"`, `-5`, `true`} {
		var got ClientTime
		if err := json.Unmarshal([]byte(input), &got); err == nil {
			t.Fatalf("expected %s to be rejected", input)
		}
	}
}

func TestClientTimeMarshal(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(ClientTime{})
	if err != nil || string(raw) != "null" {
		t.Fatalf("expected null for zero time, got %s (%v)", raw, err)
	}

	raw, err = json.Marshal(ClientTime{Time: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)})
	if err != nil || string(raw) != `"2024-05-01T09:00:00Z"` {
		t.Fatalf("unexpected encoding %s (%v)", raw, err)
	}
}
