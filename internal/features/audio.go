package features

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// NumMFCC is the number of cepstral coefficients in the audio vector.
	NumMFCC = 13
	// AudioFeatures is the audio vector length: MFCC means, spectral
	// centroid, spectral rolloff and zero-crossing rate.
	AudioFeatures = NumMFCC + 3

	nFFT        = 2048
	hopLength   = 512
	nMels       = 128
	rolloffPct  = 0.85
	topDB       = 80.0
	powerFloor  = 1e-10
	zcThreshold = 1e-10
)

var (
	// ErrUnsupportedAudio is returned for containers that are neither WAV
	// nor MP3.
	ErrUnsupportedAudio = errors.New("unsupported audio format")
	// ErrAudioTooShort is returned when a decoded stream has no usable samples.
	ErrAudioTooShort = errors.New("audio too short")
)

// AudioVector holds the 16 spectral features of an audio upload.
type AudioVector struct {
	Values []float32

	Synthetic bool
	Cause     error
}

// Audio decodes the file at path and computes its feature vector. Inputs
// that cannot be decoded get a random substitute vector.
func (e *Extractor) Audio(path string) AudioVector {
	samples, sr, err := decodeAudioFile(path)
	if err == nil {
		var vals []float64
		vals, err = audioFeatures(samples, sr)
		if err == nil {
			out := make([]float32, len(vals))
			for i, v := range vals {
				out[i] = float32(v)
			}
			return AudioVector{Values: out}
		}
	}
	sub := make([]float32, AudioFeatures)
	e.fillUniform(sub)
	return AudioVector{Values: sub, Synthetic: true, Cause: err}
}

// decodeAudioFile returns mono samples in [-1, 1] and the native sample rate.
func decodeAudioFile(path string) ([]float64, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read audio: %w", err)
	}

	switch sniffAudio(raw, path) {
	case "wav":
		return decodeWAV(raw)
	case "mp3":
		return decodeMP3(raw)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedAudio, filepath.Ext(path))
	}
}

func sniffAudio(raw []byte, path string) string {
	switch {
	case len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WAVE":
		return "wav"
	case len(raw) >= 3 && string(raw[0:3]) == "ID3":
		return "mp3"
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0:
		return "mp3"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "wav"
	case ".mp3":
		return "mp3"
	}
	return ""
}

func decodeWAV(raw []byte) ([]float64, int, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return nil, 0, errors.New("decode wav: invalid file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		channels = 1
	}
	depth := int(d.BitDepth)
	if depth < 8 {
		return nil, 0, fmt.Errorf("decode wav: unsupported bit depth %d", depth)
	}
	scale := math.Exp2(float64(depth - 1))

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if depth == 8 {
				v -= 128 // 8-bit PCM is unsigned
			}
			sum += v / scale
		}
		out[i] = sum / float64(channels)
	}
	return out, int(d.SampleRate), nil
}

func decodeMP3(raw []byte) ([]float64, int, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian interleaved stereo.
	frames := len(pcm) / 4
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(pcm[4*i]) | uint16(pcm[4*i+1])<<8)
		r := int16(uint16(pcm[4*i+2]) | uint16(pcm[4*i+3])<<8)
		out[i] = (float64(l) + float64(r)) / 2 / 32768
	}
	return out, d.SampleRate(), nil
}

// audioFeatures computes mean MFCCs, spectral centroid, rolloff and
// zero-crossing rate using centred frames of nFFT samples.
func audioFeatures(y []float64, sr int) ([]float64, error) {
	if len(y) < 2 || sr <= 0 {
		return nil, ErrAudioTooShort
	}

	mag := stftMagnitude(y)
	freqs := fftFrequencies(sr)

	mfcc := mfccMeans(mag, sr)

	centroids := make([]float64, len(mag))
	rolloffs := make([]float64, len(mag))
	for t, frame := range mag {
		centroids[t] = spectralCentroid(frame, freqs)
		rolloffs[t] = spectralRolloff(frame, freqs)
	}

	out := make([]float64, 0, AudioFeatures)
	out = append(out, mfcc...)
	out = append(out, stat.Mean(centroids, nil))
	out = append(out, stat.Mean(rolloffs, nil))
	out = append(out, zeroCrossingRate(y))
	return out, nil
}

// stftMagnitude returns |STFT| per frame, frames padded with zeros at both
// ends so the first frame is centred on sample 0.
func stftMagnitude(y []float64) [][]float64 {
	pad := nFFT / 2
	padded := make([]float64, len(y)+2*pad)
	copy(padded[pad:], y)

	window := hannWindow(nFFT)
	fft := fourier.NewFFT(nFFT)
	nFrames := 1 + (len(padded)-nFFT)/hopLength

	buf := make([]float64, nFFT)
	var coeffs []complex128
	out := make([][]float64, nFrames)
	for t := 0; t < nFrames; t++ {
		start := t * hopLength
		for i := 0; i < nFFT; i++ {
			buf[i] = padded[start+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		frame := make([]float64, len(coeffs))
		for k, c := range coeffs {
			frame[k] = math.Hypot(real(c), imag(c))
		}
		out[t] = frame
	}
	return out
}

// hannWindow is the periodic Hann window.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func fftFrequencies(sr int) []float64 {
	bins := nFFT/2 + 1
	out := make([]float64, bins)
	for k := range out {
		out[k] = float64(k) * float64(sr) / float64(nFFT)
	}
	return out
}

func mfccMeans(mag [][]float64, sr int) []float64 {
	fb := melFilterBank(sr)

	// mel power spectrogram in dB
	logMel := make([][]float64, len(mag))
	maxDB := math.Inf(-1)
	for t, frame := range mag {
		row := make([]float64, nMels)
		for m, weights := range fb {
			var s float64
			for k, w := range weights {
				if w != 0 {
					s += w * frame[k] * frame[k]
				}
			}
			row[m] = 10 * math.Log10(math.Max(s, powerFloor))
		}
		maxDB = math.Max(maxDB, floats.Max(row))
		logMel[t] = row
	}
	floor := maxDB - topDB

	coeffs := make([][]float64, NumMFCC)
	for i := range coeffs {
		coeffs[i] = make([]float64, len(logMel))
	}
	for t, row := range logMel {
		for i := range row {
			if row[i] < floor {
				row[i] = floor
			}
		}
		for k := 0; k < NumMFCC; k++ {
			coeffs[k][t] = dctII(row, k)
		}
	}

	out := make([]float64, NumMFCC)
	for k := range out {
		out[k] = stat.Mean(coeffs[k], nil)
	}
	return out
}

// dctII returns coefficient k of the orthonormal type-II DCT of x.
func dctII(x []float64, k int) float64 {
	n := float64(len(x))
	var s float64
	for i, v := range x {
		s += v * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*n))
	}
	if k == 0 {
		return s * math.Sqrt(1/n)
	}
	return s * math.Sqrt(2/n)
}

// melFilterBank builds Slaney-normalised triangular filters on the Slaney
// mel scale between 0 Hz and Nyquist.
func melFilterBank(sr int) [][]float64 {
	fftFreqs := fftFrequencies(sr)
	lo, hi := hzToMel(0), hzToMel(float64(sr)/2)

	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = melToHz(lo + (hi-lo)*float64(i)/float64(nMels+1))
	}

	fb := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		lower, center, upper := melF[m], melF[m+1], melF[m+2]
		enorm := 2 / (upper - lower)
		row := make([]float64, len(fftFreqs))
		for k, f := range fftFreqs {
			up := (f - lower) / (center - lower)
			down := (upper - f) / (upper - center)
			w := math.Min(up, down)
			if w > 0 {
				row[k] = w * enorm
			}
		}
		fb[m] = row
	}
	return fb
}

const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27

func hzToMel(f float64) float64 {
	if f >= melMinLogHz {
		return melMinLogMel + math.Log(f/melMinLogHz)/melLogStep
	}
	return f / melFSp
}

func melToHz(m float64) float64 {
	if m >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(m-melMinLogMel))
	}
	return m * melFSp
}

func spectralCentroid(frame, freqs []float64) float64 {
	total := floats.Sum(frame)
	if total <= 0 {
		return 0
	}
	return floats.Dot(frame, freqs) / total
}

func spectralRolloff(frame, freqs []float64) float64 {
	threshold := rolloffPct * floats.Sum(frame)
	var cum float64
	for k, v := range frame {
		cum += v
		if cum >= threshold {
			return freqs[k]
		}
	}
	return freqs[len(freqs)-1]
}

// zeroCrossingRate is the mean fraction of sign changes per centred frame.
// Edge samples are repeated for padding and near-zero samples count as
// positive.
func zeroCrossingRate(y []float64) float64 {
	pad := nFFT / 2
	padded := make([]float64, len(y)+2*pad)
	for i := range padded {
		j := i - pad
		switch {
		case j < 0:
			j = 0
		case j >= len(y):
			j = len(y) - 1
		}
		padded[i] = y[j]
	}

	neg := func(v float64) bool { return v < -zcThreshold }

	nFrames := 1 + (len(padded)-nFFT)/hopLength
	rates := make([]float64, nFrames)
	for t := 0; t < nFrames; t++ {
		frame := padded[t*hopLength : t*hopLength+nFFT]
		var crossings int
		for i := 1; i < len(frame); i++ {
			if neg(frame[i]) != neg(frame[i-1]) {
				crossings++
			}
		}
		rates[t] = float64(crossings) / float64(nFFT)
	}
	return stat.Mean(rates, nil)
}
