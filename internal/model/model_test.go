package model

import (
	"errors"
	"testing"
)

func TestParseResource(t *testing.T) {
	r, err := ParseResource("room:r-101")
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if r != Room("r-101") {
		t.Errorf("got %+v", r)
	}
	if r.Key() != "room:r-101" {
		t.Errorf("Key = %q", r.Key())
	}

	// ids may themselves contain colons
	p, err := ParseResource("participant:mailto:ana@example.com")
	if err != nil || p.ID != "mailto:ana@example.com" {
		t.Errorf("colon in id: %+v, %v", p, err)
	}

	for _, bad := range []string{"", "room", "room:", "desk:1"} {
		if _, err := ParseResource(bad); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("ParseResource(%q) err = %v", bad, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, _ := ParseStatus(""); s != StatusConfirmed {
		t.Errorf("empty status = %q, want confirmed", s)
	}
	if s, _ := ParseStatus("Tentative-Available"); s != StatusTentativeAvailable {
		t.Errorf("got %q", s)
	}
	if _, err := ParseStatus("maybe"); err == nil {
		t.Error("unknown status accepted")
	}
	if r, _ := ParseResponseStatus("DECLINED"); r != ResponseDeclined {
		t.Errorf("got %q", r)
	}
}

func TestSplitAllDay(t *testing.T) {
	timed, allDay := SplitAllDay([]Event{{ID: "a"}, {ID: "b", AllDay: true}, {ID: "c"}})
	if len(timed) != 2 || len(allDay) != 1 || allDay[0].ID != "b" {
		t.Errorf("timed=%v allDay=%v", timed, allDay)
	}
}
