// Package readstore provides a persistent store for the sequencing reads of
// a genome assembly.
//
// A store is a directory of flat files. Every read (a fragment) is addressed
// externally by a UID and internally by a dense IID assigned in append
// order starting at 1. Fragments live in one of three density classes
// chosen from the read length at append time:
//
//   - packed: short reads, payload stored inline in the record
//   - normal: medium reads
//   - strobe: long reads
//
// Each class has its own fixed-size record file and blob file; all three
// share the IID space. The UID map is a persistent hash table (package
// phash) that also numbers libraries and interned string UIDs.
//
// # Quick Start
//
//	st, err := readstore.Create("./reads")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	uid, _ := st.UID("readA")
//	iid, err := st.AppendRead(&model.Fragment{UID: uid}, []byte("ACGT"), []byte("5678"))
//
// Reopen read-only and look the read up again:
//
//	st, err := readstore.Open("./reads", readstore.ReadOnly)
//	iid, err := st.Lookup(uid)
//	f, err := st.Get(iid, model.FieldAll)
//
// # Clear Ranges
//
// Trimmed intervals live in side tables, one per kind and class, so adding
// a kind never touches the record files:
//
//	err := st.SetRange(iid, model.KindQuality, model.Range{Begin: 5, End: 110})
//	r, err := st.GetRange(iid, model.KindQuality)
//
// A kind that was never set starts out equal to each record's own clear
// range on a writable store and reads as undefined on a read-only one.
//
// # Partitions
//
// BuildPartitions splits a populated store into self-contained partitions
// from a caller-supplied assignment. Workers open one partition each,
// locally with LoadPartition or OpenPartition, or remotely after
// PublishPartition and FetchPartition through a blobstore.BlobStore. A
// published partition is sealed with the size and CRC32C of every file, and
// a fetch rejects anything that does not match. Every published partition
// carries its own copy of the store header and library file, so publishing
// one partition never invalidates another.
//
// # Errors
//
// Recoverable conditions are sentinel errors (ErrAlreadyExists, ErrNotFound,
// ErrOutstandingReferences, ...). A store written by an incompatible build
// is reported to the fatal handler, which by default exits the process.
package readstore
