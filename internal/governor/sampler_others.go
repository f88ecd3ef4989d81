//go:build !linux

package governor

// NewRuntimeSampler returns the default sampler for this platform.
func NewRuntimeSampler() UsageSampler {
	return runtimeSampler{}
}
