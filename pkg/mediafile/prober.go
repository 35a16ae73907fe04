package mediafile

import (
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const probeTimeout = 30 * time.Second

// Prober invokes ffprobe to read stream and format information. The binary's
// availability is checked once and cached; an absent binary makes every Probe
// call fail softly without spawning processes.
type Prober struct {
	binary string

	checkOnce sync.Once
	available bool
}

func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// TechnicalInfo holds the subset of probe output the catalog records.
type TechnicalInfo struct {
	DurationSeconds *float64
	Codec           *string
	BitrateBps      *int
	SampleRateHz    *int
	Channels        *int
}

type probeOutput struct {
	Format  probeFormat  `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitRate    string `json:"bit_rate"`
}

// Probe runs ffprobe against the file and parses its JSON output.
func (p *Prober) Probe(ctx context.Context, path string) (*TechnicalInfo, error) {
	p.checkOnce.Do(func() {
		_, err := exec.LookPath(p.binary)
		p.available = err == nil
	})
	if !p.available {
		return nil, errors.Errorf("probe binary %q not found in PATH", p.binary)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)

	output, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrap(err, "ffprobe failed")
	}

	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, errors.Wrap(err, "unparsable ffprobe output")
	}

	info := &TechnicalInfo{}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil && d > 0 {
		info.DurationSeconds = &d
	}
	if b, err := strconv.Atoi(parsed.Format.BitRate); err == nil && b > 0 {
		info.BitrateBps = &b
	}

	for i := range parsed.Streams {
		stream := &parsed.Streams[i]
		if stream.CodecType != "audio" && stream.CodecType != "video" {
			continue
		}
		if stream.CodecName != "" {
			codec := stream.CodecName
			info.Codec = &codec
		}
		if sr, err := strconv.Atoi(stream.SampleRate); err == nil && sr > 0 {
			info.SampleRateHz = &sr
		}
		if stream.Channels > 0 {
			channels := stream.Channels
			info.Channels = &channels
		}
		if info.BitrateBps == nil {
			if b, err := strconv.Atoi(stream.BitRate); err == nil && b > 0 {
				info.BitrateBps = &b
			}
		}
		break
	}

	return info, nil
}
