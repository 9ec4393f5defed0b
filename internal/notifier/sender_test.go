package notifier

import "testing"

func TestJoinAddrs(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a@example.com"}, "a@example.com"},
		{[]string{"a@example.com", "b@example.com"}, "a@example.com, b@example.com"},
	}
	for _, tc := range cases {
		if got := joinAddrs(tc.in); got != tc.want {
			t.Errorf("joinAddrs(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
