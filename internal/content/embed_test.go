package content

import (
	"io/fs"
	"testing"
)

func TestEmbeddedTreesRooted(t *testing.T) {
	names, err := fs.Glob(embeddedTrees, "*.json")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected tree documents at the root of the embedded set")
	}
}

func TestMustSubPanicsOnInvalidDir(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for an invalid directory")
		}
	}()
	mustSub(embedded, "../trees")
}
