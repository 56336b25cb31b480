// Package basic provides an admission policy with no rate limiting.
package basic

import (
	"context"
	"regexp"

	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// Policy implements ports.AdmissionPolicy with no restrictions.
// It is used when security.rate_limit.enabled is false.
type Policy struct {
	authPattern *regexp.Regexp
}

// NewPolicy creates a new basic policy. authPattern, when non-nil, is only
// used to label the bucket a request would have counted against.
func NewPolicy(authPattern *regexp.Regexp) *Policy {
	return &Policy{authPattern: authPattern}
}

// CheckRequest always allows requests.
func (p *Policy) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	bucket := ports.BucketGeneral
	if req != nil && p.authPattern != nil && p.authPattern.MatchString(req.Path) {
		bucket = ports.BucketAuth
	}
	return &ports.PolicyDecision{
		Allow:  true,
		Reason: "rate limiting disabled",
		Bucket: bucket,
	}, nil
}
