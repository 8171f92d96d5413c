package dedupe

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/record"
)

// FileStats summarizes an offline dedup pass over a JSONL file.
type FileStats struct {
	Total   int
	Invalid int
	Corrupt int
	Unique  int
}

// File collapses duplicates in a JSONL file and writes the survivors to
// outPath (which may equal inPath). The output is written via temp + rename;
// when backup is set, the input is first copied to <inPath>.bak.
func File(inPath, outPath string, backup bool) (FileStats, error) {
	log := zap.L().With(zap.String("component", "dedupe"), zap.String("in", inPath))

	f, err := os.Open(inPath)
	if err != nil {
		return FileStats{}, eris.Wrapf(err, "dedupe: open %s", inPath)
	}
	defer f.Close() //nolint:errcheck

	d := New(nil)
	var stats FileStats

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record.Record
		if err := json.Unmarshal(line, &r); err != nil {
			stats.Corrupt++
			log.Warn("skipping corrupt line", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		if err := d.Add(r); err != nil {
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, eris.Wrapf(err, "dedupe: scan %s", inPath)
	}

	stats.Total, stats.Invalid, stats.Unique = d.Stats()
	stats.Total += stats.Corrupt

	if backup {
		if err := copyFile(inPath, inPath+".bak"); err != nil {
			return stats, err
		}
	}

	if err := writeJSONL(outPath, d.Records()); err != nil {
		return stats, err
	}

	log.Info("dedupe finished",
		zap.Int("total", stats.Total),
		zap.Int("invalid", stats.Invalid),
		zap.Int("corrupt", stats.Corrupt),
		zap.Int("unique", stats.Unique),
	)
	return stats, nil
}

func writeJSONL(path string, records []record.Record) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "dedupe: create temp file")
	}
	tmpPath := tmp.Name()

	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			tmp.Close()        //nolint:errcheck
			os.Remove(tmpPath) //nolint:errcheck
			return eris.Wrap(err, "dedupe: marshal record")
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()        //nolint:errcheck
			os.Remove(tmpPath) //nolint:errcheck
			return eris.Wrap(err, "dedupe: write temp file")
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "dedupe: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "dedupe: rename over %s", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "dedupe: open %s", src)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrapf(err, "dedupe: create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck
		return eris.Wrapf(err, "dedupe: copy to %s", dst)
	}
	return out.Close()
}
