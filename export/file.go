package export

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fkreview/model"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

// baseChannelName drops processing components from a channel name.
func baseChannelName(name string) string {
	base, _, _ := strings.Cut(name, "/")
	return base
}

// Purpose: Name an export file after the segments it holds.
// Key aspects: waveform-<start>-to-<end>-<base>[_multi].json where start and
// base come from the first descriptor ordered by base name then start, end
// is the latest end time, and _multi marks more than one station prefix.
// Upstream: main export step.
// Downstream: model.ToOSDTime.
func ExportedFileName(descriptors []model.ChannelSegmentDescriptor, now time.Time) string {
	if len(descriptors) == 0 {
		stamp := model.ToOSDTime(float64(now.UnixMilli()) / 1000)
		return fmt.Sprintf("waveform-%s-to-%s-empty.json", stamp, stamp)
	}
	sorted := append([]model.ChannelSegmentDescriptor(nil), descriptors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })
	sort.SliceStable(sorted, func(i, j int) bool {
		return baseChannelName(sorted[i].Channel.Name) < baseChannelName(sorted[j].Channel.Name)
	})

	last := sorted[0]
	prefixes := make(map[string]struct{})
	for _, d := range sorted {
		if d.EndTime >= last.EndTime {
			last = d
		}
		prefix, _, _ := strings.Cut(baseChannelName(d.Channel.Name), ".")
		prefixes[prefix] = struct{}{}
	}

	name := baseChannelName(sorted[0].Channel.Name)
	if len(prefixes) > 1 {
		name += "_multi"
	}
	return fmt.Sprintf("waveform-%s-to-%s-%s.json",
		model.ToOSDTime(sorted[0].StartTime), model.ToOSDTime(last.EndTime), name)
}

// Purpose: Write an export blob under dir.
// Key aspects: Optional gzip (".gz" appended); the file is written to a
// temp name and renamed so readers never see a partial export.
// Upstream: main export step.
// Downstream: klauspost gzip writer.
func WriteFile(dir, name string, blob []byte, compress bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if compress {
		path += ".gz"
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("export: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if compress {
		zw := gzip.NewWriter(tmp)
		zw.Name = name
		if _, err := zw.Write(blob); err != nil {
			cleanup()
			return "", fmt.Errorf("export: gzip %s: %w", name, err)
		}
		if err := zw.Close(); err != nil {
			cleanup()
			return "", fmt.Errorf("export: gzip %s: %w", name, err)
		}
	} else if _, err := tmp.Write(blob); err != nil {
		cleanup()
		return "", fmt.Errorf("export: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("export: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("export: rename %s: %w", name, err)
	}
	log.Printf("Export: wrote %s (%s)", path, humanize.Bytes(uint64(len(blob))))
	return path, nil
}
