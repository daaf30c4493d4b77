package classify

import "testing"

func TestIndexable(t *testing.T) {
	cases := map[string]bool{
		"main.go":          true,
		"service.PY":       true,
		"README":           true,
		"readme.txt":       true,
		"Dockerfile":       true,
		"notes":            false,
		"image.png":        false,
		"archive.tar.gz":   false,
		"a.b.c.rs":         true,
		".hidden":          false,
		".env":             false,
		"service.env":      true,
		"build.gradle":     true,
		"no_extension_bin": false,
	}
	for path, want := range cases {
		if got := Indexable(path); got != want {
			t.Errorf("Indexable(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSkipDir(t *testing.T) {
	for _, name := range []string{".git", "node_modules", "vendor", "__pycache__", "dist"} {
		if !SkipDir(name) {
			t.Errorf("SkipDir(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"src", "internal", "cmd", ".github"} {
		if SkipDir(name) {
			t.Errorf("SkipDir(%q) = true, want false", name)
		}
	}
}

func TestFitsSizeCeiling(t *testing.T) {
	if !FitsSizeCeiling(100, 0) {
		t.Error("zero ceiling should mean unlimited")
	}
	if !FitsSizeCeiling(64, 64) {
		t.Error("size equal to ceiling should fit")
	}
	if FitsSizeCeiling(65, 64) {
		t.Error("size above ceiling should not fit")
	}
}
