package audio

// Resampler is the delta resampler sink the mixer feeds: it takes stereo
// deltas timestamped at CPU-cycle resolution and produces output-rate PCM by
// adding each delta, weighted by a short precomputed kernel, into a ring of
// future output slots. The kernel is a windowed sinc sampled at whole-slot
// offsets, where the sinc is zero everywhere but the center, so each delta
// lands whole in the slot three positions ahead of the head; the output is
// not band-limited, and content above the output Nyquist frequency aliases.
//
// Reference: the "blip buffer" technique (Blargg), cited in spec.md's
// glossary as "precomputed sinc kernels".
type Resampler struct {
	sampleInterval int // configured CPU cycles per raw sample; stored only, Submit times itself by clockDelta
	lastLeft       int16
	lastRight      int16
	clock          int // cycles accumulated since the last EndFrame

	// kernel is a short symmetric window (see sincKernel). A delta submitted at
	// the current frame position is spread forward across len(kernel)
	// future output slots, scaled by the kernel weight at that offset.
	kernel []float64

	accLeft  []float64 // pending kernel-weighted accumulation, left channel
	accRight []float64
	head     int // index into acc* that the next EndFrame will pop

	// runningLeft/runningRight hold the reconstructed signal level: delta
	// resampling only ever injects *changes*, so the absolute output level
	// at any point is the running integral of every kernel-weighted delta
	// popped so far, not the popped value alone.
	runningLeft  float64
	runningRight float64

	pcm     []int16 // drained stereo output, interleaved L,R
	samples int     // target buffer-fill in frames, reported by Target
}

// sincKernel precomputes a small Lanczos-windowed sinc kernel of length n
// (n must be odd). The sinc factor is sampled at whole-tap offsets from the
// center, where it is zero, so after normalization the center tap carries
// all of the weight.
func sincKernel(n int) []float64 {
	k := make([]float64, n)
	center := n / 2
	sum := 0.0
	for i := range k {
		x := float64(i-center) / float64(center)
		var sinc float64
		if i == center {
			sinc = 1.0
		} else {
			pix := 3.14159265358979323846 * float64(i-center)
			sinc = sinOf(pix) / pix
		}
		// Lanczos window (a=1): sinc(x) itself, already applied above for a=1.
		lanczos := sinc
		if x != 0 {
			pix := 3.14159265358979323846 * x
			lanczos = sinOf(pix) / pix
		} else {
			lanczos = 1.0
		}
		k[i] = sinc * lanczos
		sum += k[i]
	}
	if sum != 0 {
		for i := range k {
			k[i] /= sum
		}
	}
	return k
}

// sinOf is a tiny Taylor-series sine, avoiding a math.Sin import for this
// one-shot kernel precomputation. sincKernel passes arguments up to 3*pi, so
// the argument is first reduced to [-pi/2, pi/2], where the 7th-order series
// is accurate to about 2e-4.
func sinOf(x float64) float64 {
	const pi = 3.14159265358979323846
	for x > pi {
		x -= 2 * pi
	}
	for x < -pi {
		x += 2 * pi
	}
	if x > pi/2 {
		x = pi - x
	} else if x < -pi/2 {
		x = -pi - x
	}
	x3 := x * x * x
	x5 := x3 * x * x
	x7 := x5 * x * x
	return x - x3/6 + x5/120 - x7/5040
}

const resamplerKernelSize = 7

// NewResampler creates a resampler with the given raw sample interval (CPU
// cycles between mixer samples) and a target buffer-fill of samples frames.
func NewResampler(sampleInterval, samplesTarget int) *Resampler {
	if sampleInterval <= 0 {
		sampleInterval = defaultSampleInterval
	}
	if samplesTarget <= 0 {
		samplesTarget = 1024
	}
	r := &Resampler{
		sampleInterval: sampleInterval,
		kernel:         sincKernel(resamplerKernelSize),
		samples:        samplesTarget,
	}
	r.accLeft = make([]float64, resamplerKernelSize)
	r.accRight = make([]float64, resamplerKernelSize)
	return r
}

// Submit pushes one raw mixer sample, delta-encoded against the previous
// submission, weighted by the kernel. clockDelta is the
// number of CPU cycles elapsed since the previous Submit call.
func (r *Resampler) Submit(left, right int16, clockDelta int) {
	dl := float64(left - r.lastLeft)
	dr := float64(right - r.lastRight)
	r.lastLeft = left
	r.lastRight = right

	if dl != 0 || dr != 0 {
		for i, w := range r.kernel {
			idx := (r.head + i) % len(r.accLeft)
			r.accLeft[idx] += dl * w
			r.accRight[idx] += dr * w
		}
	}

	r.clock += clockDelta
	for r.clock >= resamplerFrameCycles {
		r.clock -= resamplerFrameCycles
		r.EndFrame()
	}
}

// EndFrame pops the oldest accumulated slot into the output PCM buffer and
// advances the kernel window by one step. Called internally by Submit when
// the cycle clock crosses a resampler-frame boundary, and directly by tests
// to force a flush.
func (r *Resampler) EndFrame() {
	r.runningLeft += r.accLeft[r.head]
	r.runningRight += r.accRight[r.head]

	r.pcm = append(r.pcm, clampPCM(r.runningLeft), clampPCM(r.runningRight))

	r.accLeft[r.head] = 0
	r.accRight[r.head] = 0
	r.head = (r.head + 1) % len(r.accLeft)
}

// clampPCM clamps an already PCM-scaled accumulation to int16 range. Submit
// receives samples the mixer has already scaled via scaleToPCM, so the
// kernel only needs to re-clamp after summing overlapping deltas.
func clampPCM(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Pending reports how many stereo frames are buffered and ready to drain.
func (r *Resampler) Pending() int {
	return len(r.pcm) / 2
}

// Target returns the configured buffer-fill threshold.
func (r *Resampler) Target() int {
	return r.samples
}

// Read drains up to count interleaved stereo frames, zero-padding if fewer
// are available, mirroring the teacher's GetSamples contract.
func (r *Resampler) Read(count int) []int16 {
	if count <= 0 {
		return nil
	}
	needed := count * 2
	out := make([]int16, needed)
	toCopy := min(len(r.pcm), needed)
	copy(out, r.pcm[:toCopy])
	r.pcm = r.pcm[toCopy:]
	return out
}
