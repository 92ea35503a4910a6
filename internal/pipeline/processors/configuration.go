package processors

import (
	"context"

	"procplane/internal/payload"
	"procplane/internal/pipeline"
)

// Configuration keys recognized inside a submitted request document.
const (
	cfgArguments      = "arguments"
	cfgActiveProfiles = "activeProfiles"
	cfgOut            = "out"
	cfgExclusiveGroup = "exclusiveGroup"
	cfgEntryPoint     = "entryPoint"
	cfgTags           = "tags"
)

// MergeConfiguration layers the request configuration over the
// defaults and lifts the well-known keys into typed payload headers.
// A separate payload value is returned for every change, so an earlier
// step's view is never mutated behind its back.
type MergeConfiguration struct {
	// Defaults is the lowest configuration layer, typically
	// server-wide or project defaults. Request values win.
	Defaults map[string]interface{}
}

func (pr MergeConfiguration) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	if len(pr.Defaults) > 0 {
		request := p.Configuration()
		p = p.WithConfiguration(pr.Defaults).MergeConfiguration(request)
	}

	cfg := p.Configuration()

	if v, ok := cfg[cfgExclusiveGroup].(string); ok && v != "" {
		p = p.WithHeader(payload.KeyExclusiveGroup, v)
	}
	if v, ok := cfg[cfgEntryPoint].(string); ok && v != "" {
		p = p.WithHeader(payload.KeyEntryPoint, v)
	}
	if v := stringSlice(cfg[cfgActiveProfiles]); v != nil {
		p = p.WithHeader(payload.KeyActiveProfiles, v)
	}
	if v := stringSlice(cfg[cfgOut]); v != nil {
		p = p.WithHeader(payload.KeyOutExpressions, v)
	}
	if v := stringSlice(cfg[cfgTags]); v != nil {
		p = p.WithHeader(payload.KeyTags, v)
	}

	return next.Process(ctx, p)
}

// stringSlice coerces a configuration value into []string. JSON
// decoding yields []interface{}, so both shapes are accepted.
func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ActiveProfiles resolves the profile list to apply, falling back to
// the default profile when the request names none.
type ActiveProfiles struct {
	DefaultProfiles []string
}

func (pr ActiveProfiles) Process(ctx context.Context, next pipeline.Chain, p payload.Payload) (payload.Payload, error) {
	if profiles := p.StringsHeader(payload.KeyActiveProfiles); len(profiles) > 0 {
		return next.Process(ctx, p)
	}
	if len(pr.DefaultProfiles) == 0 {
		return next.Process(ctx, p)
	}

	return next.Process(ctx, p.WithHeader(payload.KeyActiveProfiles, pr.DefaultProfiles))
}
