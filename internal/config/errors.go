package config

import "errors"

var (
	errConcurrency     = errors.New("config: concurrency must be positive")
	errS3Concurrency   = errors.New("config: s3_concurrency must be positive")
	errFSBlockTooSmall = errors.New("config: fs_block_bytesize below minimum with enforce_minimum set")
	errS3BlockTooSmall = errors.New("config: s3_block_bytesize below minimum with enforce_minimum set")
)
