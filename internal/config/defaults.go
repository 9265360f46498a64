package config

// ApplyDefaults fills zero-valued fields with defaults. Zero values (0, "",
// false) are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.S3Concurrency == 0 {
		cfg.S3Concurrency = defaultS3Concurrency
	}
	if cfg.FSBlockBytesize == 0 {
		cfg.FSBlockBytesize = defaultFSBlockBytesize
	}
	if cfg.S3BlockBytesize == 0 {
		cfg.S3BlockBytesize = defaultS3BlockBytesize
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.EnforceMinimum {
		if cfg.FSBlockBytesize < minFSBlockBytesize {
			cfg.FSBlockBytesize = minFSBlockBytesize
		}
		if cfg.S3BlockBytesize < minS3BlockBytesize {
			cfg.S3BlockBytesize = minS3BlockBytesize
		}
	}

	applyS3Defaults(&cfg.S3)
}

func applyS3Defaults(cfg *S3Config) {
	if cfg.RequestTimeoutMS == 0 {
		cfg.RequestTimeoutMS = 30000
	}
}

// Validate rejects configurations the engine cannot run with: sub-minimum
// block sizes when enforcement is on, and non-positive concurrency.
func Validate(cfg *Config) error {
	if cfg.Concurrency <= 0 {
		return errConcurrency
	}
	if cfg.S3Concurrency <= 0 {
		return errS3Concurrency
	}
	if cfg.EnforceMinimum {
		if cfg.FSBlockBytesize < minFSBlockBytesize {
			return errFSBlockTooSmall
		}
		if cfg.S3BlockBytesize < minS3BlockBytesize {
			return errS3BlockTooSmall
		}
	}
	return nil
}
