// Seed program: creates a storage file with students, courses and grades
// stored as objects, plus the indexes over them.
// Run: go run ./cmd/seed [path]
// Then inspect: go run ./cmd/inspect_idx databases/demo.heap
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"HeapStore/logging"
	storageengine "HeapStore/storage_engine"
	indexfile "HeapStore/storage_engine/access/indexfile_manager"
	"HeapStore/storage_engine/access/indexfile_manager/btree"
	"HeapStore/types"
)

const defaultPath = "databases/demo.heap"

const (
	studentTag = types.TypeUser + iota
	courseTag
	gradeTag
)

type student struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Age  int32  `json:"age"`
}

type course struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

type grade struct {
	Student int64  `json:"student"`
	Course  string `json:"course"`
	Grade   string `json:"grade"`
}

func main() {
	path := defaultPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if err := logging.InitDefault(); err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logging.Close()

	// start fresh so the seed is repeatable
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Fatalf("remove old file: %v", err)
	}

	store, err := storageengine.Open(path, storageengine.DefaultConfig())
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	students := mustIndex(store, indexfile.Spec{Name: "students_id", KeyType: btree.KeyInt64, Unique: true})
	names := mustIndex(store, indexfile.Spec{Name: "students_name", KeyType: btree.KeyString, CaseInsensitive: true})
	names.SetExtractor(indexfile.ExtractorFunc(func(obj any) (btree.Key, error) {
		s, ok := obj.(student)
		if !ok {
			return btree.Key{}, fmt.Errorf("cannot index %T by name", obj)
		}
		return btree.StringKey(s.Name), nil
	}))
	courses := mustIndex(store, indexfile.Spec{Name: "courses_code", KeyType: btree.KeyString, Unique: true})
	grades := mustIndex(store, indexfile.Spec{
		Name:       "grades_course_student",
		KeyType:    btree.KeyCompound,
		Components: []btree.KeyType{btree.KeyString, btree.KeyInt64},
		Unique:     true,
	})

	fmt.Println("Creating students...")
	for _, s := range []student{{Name: "Alice", Age: 20}, {Name: "Bob", Age: 21}, {Name: "Carol", Age: 19}} {
		id, err := students.NextKey()
		if err != nil {
			log.Fatalf("next student id: %v", err)
		}
		s.ID = id.Value().(int64)
		oid := mustStore(store, studentTag, s)
		must(students.Put(id, oid))
		must(names.PutObject(s, oid))
	}

	fmt.Println("Creating courses...")
	for _, c := range []course{{"CS101", "Intro to CS"}, {"CS102", "Data Structures"}} {
		oid := mustStore(store, courseTag, c)
		must(courses.Put(btree.StringKey(c.Code), oid))
	}

	fmt.Println("Creating grades...")
	for _, g := range []grade{{1, "CS101", "A"}, {2, "CS102", "B"}, {3, "CS101", "A"}} {
		oid := mustStore(store, gradeTag, g)
		key, err := btree.CompoundKey(btree.StringKey(g.Course), btree.Int64Key(g.Student))
		must(err)
		must(grades.Put(key, oid))
	}

	must(store.Commit())

	fmt.Println("\n--- grades of CS101 ---")
	entries, err := grades.Prefix(mustCompound(btree.StringKey("CS101")))
	must(err)
	for _, e := range entries {
		rec, err := store.Load(e.Oid)
		must(err)
		fmt.Printf("  %s -> %s\n", e.Key, rec.Data)
	}

	fmt.Println("\n--- student named \"alice\" ---")
	oid, err := names.Get(btree.StringKey("alice"))
	must(err)
	rec, err := store.Load(oid)
	must(err)
	fmt.Printf("  oid %d -> %s\n", oid, rec.Data)

	st, err := store.Stats()
	must(err)
	if err := store.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
	fmt.Printf("\nDone. %s written to %s (%s objects).\n",
		humanize.IBytes(uint64(st.FileSize)), path, humanize.Comma(int64(st.Objects)))
	fmt.Println("Inspect with: go run ./cmd/inspect_idx", path)
}

func mustIndex(store *storageengine.Storage, spec indexfile.Spec) *indexfile.Index {
	ix, err := store.CreateIndex(spec)
	if err != nil {
		log.Fatalf("create index %s: %v", spec.Name, err)
	}
	return ix
}

func mustStore(store *storageengine.Storage, tag types.BlockType, v any) types.Oid {
	data, err := json.Marshal(v)
	must(err)
	rec, err := store.NewObject(tag, data)
	must(err)
	return rec.Oid()
}

func mustCompound(parts ...btree.Key) btree.Key {
	k, err := btree.CompoundKey(parts...)
	must(err)
	return k
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
