package command

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/popgen/structure-threader/internal/progress"
)

var genotypeCodes = map[string]string{
	"0/0": "0", "0|0": "0",
	"0/1": "1", "1/0": "1", "0|1": "1", "1|0": "1",
	"1/1": "2", "1|1": "2",
}

// EncodeGenotype maps a VCF sample field to ALStructure's 0/1/2 coding.
// Only the GT part (before the first ':') is considered; anything that is
// not a biallelic diploid call becomes NA.
func EncodeGenotype(field string) string {
	gt, _, _ := strings.Cut(field, ":")
	if code, ok := genotypeCodes[gt]; ok {
		return code
	}
	return "NA"
}

// ConvertVCF writes one tab separated row of encoded genotypes per variant
// in r to w. Header lines starting with '#' are skipped.
func ConvertVCF(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	bw := bufio.NewWriter(w)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var samples []string
		if len(fields) > 9 {
			samples = fields[9:]
		}
		for i, s := range samples {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(EncodeGenotype(s))
		}
		bw.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read VCF: %w", err)
	}
	return bw.Flush()
}

// ConvertVCFFile converts src (plain or gzipped VCF) to the matrix at dst.
func ConvertVCFFile(src, dst string, reporter progress.Reporter) error {
	in, err := openTracked(src, "Converting "+src, reporter)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := ConvertVCF(in, out); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	reporter.Finish()
	return os.Rename(tmp, dst)
}

// GunzipFile decompresses src to dst.
func GunzipFile(src, dst string, reporter progress.Reporter) error {
	in, err := openTracked(src, "Decompressing "+src, reporter)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	reporter.Finish()
	return out.Close()
}

type trackedReader struct {
	io.Reader
	closers []io.Closer
}

func (t *trackedReader) Close() error {
	var first error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openTracked opens path, reporting compressed bytes read, and transparently
// gunzips it when the name ends in .gz.
func openTracked(path, desc string, reporter progress.Reporter) (*trackedReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	reporter.Start(info.Size(), desc)
	t := &trackedReader{closers: []io.Closer{f}}
	var r io.Reader = progress.NewProgressReader(f, info.Size(), reporter)

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read gzip header of %s: %w", path, err)
		}
		t.closers = append(t.closers, gz)
		r = gz
	}
	t.Reader = r
	return t, nil
}
