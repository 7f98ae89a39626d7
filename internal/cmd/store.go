package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// openStore builds the object store from the persistent flags:
// --local-dir wins over --bucket.
func openStore(ctx context.Context) (storage.ObjectStore, error) {
	if dir := viper.GetString("local-dir"); dir != "" {
		return storage.NewLocalStore(dir), nil
	}
	bucket := viper.GetString("bucket")
	if bucket == "" {
		return nil, fmt.Errorf("either --bucket or --local-dir is required")
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:    bucket,
		Region:    viper.GetString("region"),
		Anonymous: viper.GetBool("anonymous"),
	})
}
