package archive

import "testing"

func TestStripComponentSingleTopLevelDir(t *testing.T) {
	names := []string{"proj-1.0/", "proj-1.0/src/main.c", "proj-1.0/README"}
	if got := stripComponent(names); got != "proj-1.0" {
		t.Errorf("stripComponent() = %q, want %q", got, "proj-1.0")
	}
}

func TestStripComponentNoCommonRoot(t *testing.T) {
	names := []string{"a/file1", "b/file2"}
	if got := stripComponent(names); got != "" {
		t.Errorf("stripComponent() = %q, want empty", got)
	}
}

func TestStripComponentTopLevelFilePreventsStrip(t *testing.T) {
	names := []string{"proj-1.0/src/main.c", "README"}
	if got := stripComponent(names); got != "" {
		t.Errorf("stripComponent() = %q, want empty when a top-level file is present", got)
	}
}

func TestStripNameRemovesTopComponent(t *testing.T) {
	if got := stripName("proj-1.0/src/main.c", "proj-1.0"); got != "src/main.c" {
		t.Errorf("stripName() = %q", got)
	}
	if got := stripName("proj-1.0", "proj-1.0"); got != "" {
		t.Errorf("stripName() for the wrapper dir itself = %q, want empty", got)
	}
	if got := stripName("src/main.c", ""); got != "src/main.c" {
		t.Errorf("stripName() with no top = %q", got)
	}
}
