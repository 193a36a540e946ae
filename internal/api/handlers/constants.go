package handlers

import "time"

const (
	// VerifyTimeout bounds one native verification
	VerifyTimeout = 10 * time.Second

	// ArtifactCacheMaxAge is sent on artifact downloads; clients revalidate
	// with the manifest ETag
	ArtifactCacheMaxAge = 5 * time.Minute

	// ReadyCheckTimeout bounds the readiness probe
	ReadyCheckTimeout = 2 * time.Second
)
