package unsaved_test

import (
	"testing"

	"tuck/internal/unsaved"
)

func TestFiles(t *testing.T) {
	t.Run("update and get", func(t *testing.T) {
		files := unsaved.NewFiles()
		files.Update(unsaved.File{FilePath: "/src/a.cpp", Content: "int a;", Revision: 1})

		file, ok := files.Get("/src/a.cpp")
		if !ok {
			t.Fatal("expected buffer for /src/a.cpp")
		}
		if file.Content != "int a;" || file.Revision != 1 {
			t.Errorf("unexpected buffer: %+v", file)
		}
	})

	t.Run("update replaces", func(t *testing.T) {
		files := unsaved.NewFiles()
		files.Update(unsaved.File{FilePath: "/src/a.cpp", Content: "int a;", Revision: 1})
		files.Update(unsaved.File{FilePath: "/src/a.cpp", Content: "int b;", Revision: 2})

		file, _ := files.Get("/src/a.cpp")
		if file.Content != "int b;" {
			t.Errorf("expected replaced content, got %q", file.Content)
		}
		if file.Revision != 2 {
			t.Errorf("expected revision 2, got %d", file.Revision)
		}
	})

	t.Run("remove unknown path", func(t *testing.T) {
		files := unsaved.NewFiles()
		files.Remove("/never/tracked.cpp")

		if _, ok := files.Get("/never/tracked.cpp"); ok {
			t.Error("expected no buffer after remove")
		}
	})

	t.Run("snapshot ordered by path", func(t *testing.T) {
		files := unsaved.NewFiles()
		files.Update(unsaved.File{FilePath: "/src/c.cpp"})
		files.Update(unsaved.File{FilePath: "/src/a.cpp"})
		files.Update(unsaved.File{FilePath: "/src/b.cpp"})
		files.Remove("/src/b.cpp")

		snapshot := files.Snapshot()
		if len(snapshot) != 2 {
			t.Fatalf("expected 2 buffers, got %d", len(snapshot))
		}
		if snapshot[0].FilePath != "/src/a.cpp" || snapshot[1].FilePath != "/src/c.cpp" {
			t.Errorf("snapshot not ordered: %+v", snapshot)
		}
	})
}
