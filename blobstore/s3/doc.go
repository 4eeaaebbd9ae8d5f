// Package s3 keeps published partitions in an Amazon S3 bucket.
//
//	store, err := s3.New(ctx, "reads-bucket",
//	    s3.WithPrefix("assembly-42"),
//	    s3.WithRegion("us-east-1"),
//	)
//	err = st.PublishPartition(ctx, store, 7)
//
// Uploads stream through the transfer manager, switching to multipart above
// UploadConfig.PartSize. Reads fetch whole objects; a worker always needs
// every file of its partition.
package s3
