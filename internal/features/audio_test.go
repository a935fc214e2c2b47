package features

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSineWAV(t *testing.T, freq float64, sr, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	n := sr * seconds
	data := make([]int, n)
	for i := range data {
		data[i] = int(0.5 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr)))
	}

	enc := wav.NewEncoder(f, sr, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sr},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestAudioFeaturesFromSine(t *testing.T) {
	path := writeSineWAV(t, 440, 16000, 1)

	vec := seeded().Audio(path)
	require.False(t, vec.Synthetic, "cause: %v", vec.Cause)
	require.Len(t, vec.Values, AudioFeatures)

	for i, v := range vec.Values {
		assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "feature %d", i)
	}

	centroid := vec.Values[NumMFCC]
	rolloff := vec.Values[NumMFCC+1]
	zcr := vec.Values[NumMFCC+2]

	assert.Greater(t, centroid, float32(300))
	assert.Less(t, centroid, float32(1500))
	assert.GreaterOrEqual(t, rolloff, float32(400))
	assert.Less(t, rolloff, float32(8000))
	// a 440 Hz tone crosses zero 880 times a second
	assert.InDelta(t, 880.0/16000, zcr, 0.01)
}

func TestAudioUnsupportedFormatFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS\x00\x02garbage"), 0o644))

	vec := seeded().Audio(path)
	assert.True(t, vec.Synthetic)
	assert.ErrorIs(t, vec.Cause, ErrUnsupportedAudio)
	require.Len(t, vec.Values, AudioFeatures)
}

func TestAudioCorruptWAVFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF\x00\x00\x00\x00WAVE"), 0o644))

	vec := seeded().Audio(path)
	assert.True(t, vec.Synthetic)
	assert.Error(t, vec.Cause)
}

func TestAudioFeaturesRejectEmpty(t *testing.T) {
	_, err := audioFeatures(nil, 16000)
	assert.ErrorIs(t, err, ErrAudioTooShort)
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 999, 1000, 4000, 11025} {
		assert.InDelta(t, hz, melToHz(hzToMel(hz)), 1e-6)
	}
}

func TestDCTIIConstantInput(t *testing.T) {
	x := []float64{2, 2, 2, 2}
	assert.InDelta(t, 4.0, dctII(x, 0), 1e-9)
	assert.InDelta(t, 0.0, dctII(x, 1), 1e-9)
}

func TestSpectralRolloffAndCentroid(t *testing.T) {
	freqs := []float64{0, 100, 200, 300}
	frame := []float64{0, 1, 0, 0}
	assert.Equal(t, 100.0, spectralCentroid(frame, freqs))
	assert.Equal(t, 100.0, spectralRolloff(frame, freqs))
	assert.Equal(t, 0.0, spectralCentroid([]float64{0, 0, 0, 0}, freqs))
}
