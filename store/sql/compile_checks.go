package sqlstore

import (
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/ratelimit"
)

var (
	_ core.ClaimStore       = (*EventClaimStore)(nil)
	_ core.ClaimReader      = (*EventClaimStore)(nil)
	_ core.ClaimReleaser    = (*EventClaimStore)(nil)
	_ ratelimit.WindowStore = (*RateLimitWindowStore)(nil)
	_ ratelimit.BucketStore = (*BucketStateStore)(nil)
	_ ratelimit.BucketStore = (*CachedBucketStateStore)(nil)
)
