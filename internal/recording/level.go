package recording

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
)

// Level is one waveform sample for the live input meter, normalised to [0,1].
type Level struct {
	QuestionID uuid.UUID `json:"question_id"`
	RMS        float64   `json:"rms"`
	Peak       float64   `json:"peak"`
	At         time.Time `json:"at"`
}

// analyse computes RMS and peak of a chunk of S16LE samples. A trailing odd
// byte is ignored.
func analyse(chunk []byte) (rms, peak float64) {
	n := len(chunk) / 2
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(chunk[2*i:]))) / 32768.0
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return math.Sqrt(sum / float64(n)), peak
}
