// Package minio provides a BlobStore backed by MinIO or any other
// S3-compatible service (Ceph, Garage, SeaweedFS) through the MinIO client.
//
//	store, err := minio.New(ctx, minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "reads",
//	    Prefix:    "assembly-42/",
//	})
//	err = st.PublishPartition(ctx, store, 3)
package minio
