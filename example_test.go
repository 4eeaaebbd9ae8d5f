package readstore_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/readstore"
	"github.com/hupe1980/readstore/blobstore"
	"github.com/hupe1980/readstore/model"
)

// Example_appendAndLookup stores two reads and resolves them by UID.
func Example_appendAndLookup() {
	dir, err := os.MkdirTemp("", "readstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	st, err := readstore.Create(filepath.Join(dir, "reads"))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	uid, err := st.UID("readA")
	if err != nil {
		log.Fatal(err)
	}
	seq := []byte("ACGTACGTAC")
	qlt := []byte("9999999999")
	iid, err := st.AppendRead(&model.Fragment{UID: uid, Clear: model.Range{Begin: 0, End: 10}}, seq, qlt)
	if err != nil {
		log.Fatal(err)
	}

	found, err := st.Lookup(uid)
	if err != nil {
		log.Fatal(err)
	}
	bases, _, err := st.Read(found)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(iid, found, string(bases))
	// Output: 1 1 ACGTACGTAC
}

// Example_clearRanges keeps a trimming result next to the record.
func Example_clearRanges() {
	dir, err := os.MkdirTemp("", "readstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	st, err := readstore.Create(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	iid, err := st.Append(&model.Fragment{UID: 1000000007, Length: 40, Clear: model.Range{Begin: 0, End: 40}})
	if err != nil {
		log.Fatal(err)
	}
	before, _ := st.GetRange(iid, model.KindQuality)
	if err := st.SetRange(iid, model.KindQuality, model.Range{Begin: 5, End: 35}); err != nil {
		log.Fatal(err)
	}
	after, _ := st.GetRange(iid, model.KindQuality)
	fmt.Println(before, after)
	// Output: (0,40) (5,35)
}

// Example_partitions splits a store and ships one partition to a blob store.
func Example_partitions() {
	dir, err := os.MkdirTemp("", "readstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	st, err := readstore.Create(filepath.Join(dir, "reads"))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	for uid := model.UID(1); uid <= 3; uid++ {
		if _, err := st.Append(&model.Fragment{UID: uid, Length: 100}); err != nil {
			log.Fatal(err)
		}
	}
	report, err := st.BuildPartitions([]int{0, 1, 2, 0}, 2)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("copied:", report.Copied(), "skipped:", report.Skipped.GetCardinality())

	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	if err := st.PublishPartition(ctx, remote, 1); err != nil {
		log.Fatal(err)
	}
	local := filepath.Join(dir, "worker")
	if err := readstore.FetchPartition(ctx, remote, 1, local); err != nil {
		log.Fatal(err)
	}

	p, err := readstore.OpenPartition(local, 1)
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()
	fmt.Println("partition 1:", p.Members().ToArray())
	// Output:
	// copied: 2 skipped: 1
	// partition 1: [1]
}
