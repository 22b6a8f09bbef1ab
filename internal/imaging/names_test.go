package imaging

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestRandomName(t *testing.T) {
	t.Parallel()

	name := RandomName(15)
	if len(name) != 15 {
		t.Fatalf("len = %d, want 15", len(name))
	}
	for _, r := range name {
		if !strings.ContainsRune(alphanumeric, r) {
			t.Fatalf("unexpected rune %q in %q", r, name)
		}
	}
	if RandomName(0) != "" {
		t.Fatalf("expected empty name for n=0")
	}
	if RandomName(15) == name {
		t.Fatalf("two random names collided")
	}
}

func TestSplitSubfolder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"single", []string{"single"}},
		{"a/b/c", []string{"a", "b", "c"}},
		{`a\b`, []string{"a", "b"}},
		{"/a//b/", []string{"a", "b"}},
		{"../../etc", []string{"etc"}},
		{"./x/./y", []string{"x", "y"}},
		{"..", nil},
	}
	for _, tc := range cases {
		if got := SplitSubfolder(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitSubfolder(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":               "",
		"photo":          "photo",
		"  photo  ":      "photo",
		"photo.jpg":      "photo",
		"photo.JPEG":     "photo",
		"photo.png":      "photo.png",
		"../../evil":     "evil",
		`dir\name`:       "name",
		"..":             "",
		"a:b*c?":         "abc",
		"tab\tseparated": "tabseparated",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAbsPath(t *testing.T) {
	t.Parallel()

	p, err := AbsPath("static")
	if err != nil {
		t.Fatalf("AbsPath: %v", err)
	}
	if !filepath.IsAbs(p) || filepath.Base(p) != "static" {
		t.Fatalf("AbsPath(static) = %q", p)
	}
	abs := filepath.Join(t.TempDir(), "x", "..", "y")
	p, err = AbsPath(abs)
	if err != nil {
		t.Fatalf("AbsPath: %v", err)
	}
	if p != filepath.Clean(abs) {
		t.Fatalf("AbsPath(%q) = %q", abs, p)
	}
}
