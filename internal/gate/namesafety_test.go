package gate

import "testing"

func TestIsSafeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		opts NameSafetyOptions
		want bool
	}{
		{"plain", "report.csv", NameSafetyOptions{}, true},
		{"empty", "", NameSafetyOptions{}, false},
		{"dotdot", "../escape.txt", NameSafetyOptions{}, false},
		{"leading dash", "-rf", NameSafetyOptions{}, false},
		{"leading dot", ".hidden", NameSafetyOptions{}, false},
		{"semicolon", "file;rm -rf.txt", NameSafetyOptions{}, false},
		{"backtick", "file`whoami`.txt", NameSafetyOptions{}, false},
		{"control byte", "file\x01name.txt", NameSafetyOptions{}, false},
		{"path separator disallowed", "a/b.txt", NameSafetyOptions{}, false},
		{"path separator allowed", "a/b.txt", NameSafetyOptions{AllowPathSeparators: true}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsSafeName(tc.in, tc.opts)
			if got != tc.want {
				t.Errorf("IsSafeName(%q, %+v) = %v, want %v", tc.in, tc.opts, got, tc.want)
			}
		})
	}
}

func TestIsSafeRelativePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"simple", "sub/dir/file.txt", true},
		{"traversal", "sub/../../etc/passwd", false},
		{"single segment", "file.txt", true},
		{"hidden segment", "sub/.hidden/file.txt", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsSafeRelativePath(tc.in)
			if got != tc.want {
				t.Errorf("IsSafeRelativePath(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
