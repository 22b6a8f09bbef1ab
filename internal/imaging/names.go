package imaging

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomName returns n random alphanumeric characters.
func RandomName(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rand.IntN(len(alphanumeric))]
	}
	return string(b)
}

// SplitSubfolder splits a client supplied subfolder on '/' or '\'.
// Empty, "." and ".." segments are dropped so the result always stays below the root.
func SplitSubfolder(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' })
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "." || f == ".." {
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SanitizeName reduces a client supplied name to a single path element
// without extension. It returns "" when nothing usable remains.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if strings.EqualFold(filepath.Ext(name), jpegExt) || strings.EqualFold(filepath.Ext(name), ".jpeg") {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`:*?"<>|`, r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." || strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

// AbsPath resolves p against the working directory when it is relative.
func AbsPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}
