package warp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultFile is where warp parameters persist across restarts.
const DefaultFile = "warp_config.txt"

var cornerKeys = [4]string{
	TopLeft:     "corner_tl",
	TopRight:    "corner_tr",
	BottomLeft:  "corner_bl",
	BottomRight: "corner_br",
}

// Load reads key=value lines over the defaults. Comments, blank lines,
// unknown keys and malformed values are skipped so a partially written file
// still loads. Files with a numeric mode store corners with y pointing down
// and are flipped on the way in.
func Load(r io.Reader) (Params, error) {
	p := DefaultParams()
	var (
		legacy bool
		read   [4]bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "mode":
			if m, ok := parseMode(value); ok {
				p.Mode = m
				legacy = isNumericMode(value)
			}
		case "keystone_h":
			if v, ok := parseFloat(value); ok {
				p.KeystoneH = v
			}
		case "keystone_v":
			if v, ok := parseFloat(value); ok {
				p.KeystoneV = v
			}
		default:
			for i, k := range cornerKeys {
				if k != key {
					continue
				}
				if pt, ok := parsePoint(value); ok {
					p.Corners[i] = pt
					read[i] = true
				}
			}
		}
	}
	if legacy {
		for i := range p.Corners {
			if read[i] {
				p.Corners[i].Y = -p.Corners[i].Y
			}
		}
	}
	return p, sc.Err()
}

// Save writes p in the format Load reads.
func Save(w io.Writer, p Params) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# warp configuration")
	fmt.Fprintf(bw, "mode=%s\n", p.Mode)
	for i, k := range cornerKeys {
		fmt.Fprintf(bw, "%s=%.6f,%.6f\n", k, p.Corners[i].X, p.Corners[i].Y)
	}
	fmt.Fprintf(bw, "keystone_h=%.6f\n", p.KeystoneH)
	fmt.Fprintf(bw, "keystone_v=%.6f\n", p.KeystoneV)
	return bw.Flush()
}

// LoadFile reads parameters from path. A missing file yields the defaults.
func LoadFile(path string) (Params, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultParams(), nil
	}
	if err != nil {
		return DefaultParams(), err
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return DefaultParams(), fmt.Errorf("read %s: %w", path, err)
	}
	return p, nil
}

// SaveFile replaces path with p via a temporary file in the same directory.
func SaveFile(path string, p Params) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".warp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Save(tmp, p); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// parseMode accepts the mode names and the numeric codes older files used.
func parseMode(s string) (Mode, bool) {
	switch s {
	case "corners", "0":
		return ModeCorners, true
	case "keystone", "3":
		return ModeKeystone, true
	}
	return ModeCorners, false
}

func isNumericMode(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func parseFloat(s string) (float32, bool) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil || !finite(float32(v)) {
		return 0, false
	}
	return float32(v), true
}

func parsePoint(s string) (Point, bool) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, false
	}
	x, okx := parseFloat(strings.TrimSpace(xs))
	y, oky := parseFloat(strings.TrimSpace(ys))
	if !okx || !oky {
		return Point{}, false
	}
	return Point{X: x, Y: y}, true
}
