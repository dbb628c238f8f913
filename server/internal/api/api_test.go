package api

import "testing"

func TestNewPage_DefaultsAndClamps(t *testing.T) {
	cases := []struct {
		name                string
		limit, offset       int
		limitSet, offsetSet bool
		wantLimit           int
		wantOffset          int
	}{
		{"no params", 0, 0, false, false, defaultPageSize, 0},
		{"within bounds", 5, 10, true, true, 5, 10},
		{"limit too large clamps", 500, 0, true, false, maxPageSize, 0},
		{"zero limit falls back to default", 0, 0, true, false, defaultPageSize, 0},
		{"negative offset clamps to zero", 10, -5, true, true, 10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPage(tc.limit, tc.offset, tc.limitSet, tc.offsetSet)
			if p.Limit != tc.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tc.wantLimit)
			}
			if p.Offset != tc.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tc.wantOffset)
			}
		})
	}
}
