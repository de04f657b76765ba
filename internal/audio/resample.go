package audio

// Resampler converts 16-bit PCM between sample rates by linear
// interpolation, reusing one scratch buffer across calls. One resampler
// belongs to one stream; the returned slice is valid until the next call.
type Resampler struct {
	scratch []byte
}

// NewResampler creates a resampler with scratch preallocated for frames
// of up to maxOutputSamples.
func NewResampler(maxOutputSamples int) *Resampler {
	return &Resampler{scratch: make([]byte, maxOutputSamples*2)}
}

// Resample converts pcm from fromRate to toRate. Equal rates return the
// input untouched.
func (r *Resampler) Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return pcm
	}

	inSamples := len(pcm) / 2
	outSamples := inSamples * toRate / fromRate
	if need := outSamples * 2; cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	out := r.scratch[:outSamples*2]

	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx+1 >= inSamples {
			putSampleAt(out, i, sampleAt(pcm, inSamples-1))
			continue
		}

		s1 := float64(sampleAt(pcm, srcIdx))
		s2 := float64(sampleAt(pcm, srcIdx+1))
		putSampleAt(out, i, int16(s1*(1-frac)+s2*frac))
	}

	return out
}
