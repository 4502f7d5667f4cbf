// Command gpuprobe opens a gpucmd driver, prints what it reports and
// optionally renders a cleared offscreen target to an image file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/gpucmd"
	_ "github.com/gogpu/gpucmd/backend/native"
	_ "github.com/gogpu/gpucmd/backend/trace"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gpuprobe", flag.ContinueOnError)
	var (
		driver  = fs.String("driver", "", "driver name (default: best registered)")
		config  = fs.String("config", "", "TOML or YAML config file")
		width   = fs.Int("width", 0, "target width (default from config)")
		height  = fs.Int("height", 0, "target height (default from config)")
		samples = fs.Int("samples", 0, "requested sample count")
		color   = fs.String("color", "#3366ccff", "clear color as #rrggbb or #rrggbbaa")
		verbose = fs.Bool("v", false, "debug logging")
		output  = fs.String("out", "", "write the cleared target to a .png, .bmp or .tiff file")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := gpucmd.DefaultConfig()
	if *config != "" {
		var err error
		if cfg, err = gpucmd.LoadConfig(*config); err != nil {
			return err
		}
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *width > 0 {
		cfg.Width = *width
	}
	if *height > 0 {
		cfg.Height = *height
	}
	if *samples > 0 {
		cfg.Samples = *samples
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	gpucmd.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	background, err := parseColor(*color)
	if err != nil {
		return fmt.Errorf("-color: %w", err)
	}

	drv, err := gpucmd.NewDriver(cfg.Driver)
	if err != nil {
		return err
	}
	svc, err := gpucmd.NewService(drv, gpucmd.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Initialize(gpucmd.InitConfig{}); err != nil {
		return err
	}
	printCapabilities(stdout, svc.Capabilities())

	if *output == "" {
		return nil
	}
	img, err := render(svc, cfg.Width, cfg.Height, cfg.Samples, background)
	if err != nil {
		return err
	}
	if err := save(*output, img); err != nil {
		return err
	}
	log.Printf("Target saved to %s (%dx%d)", *output, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

func printCapabilities(w io.Writer, caps *gpucmd.Capabilities) {
	if caps == nil {
		fmt.Fprintln(w, "driver:   not initialized")
		return
	}
	fmt.Fprintf(w, "driver:   %s\n", caps.Driver)
	fmt.Fprintf(w, "backend:  %s (%s tier)\n", caps.Backend, caps.Tier)
	fmt.Fprintf(w, "display:  %s, max texture %d, tearing %t\n", caps.DisplayFormat, caps.MaxTextureSize, caps.Tearing)

	var counts []string
	for n := 1; n <= gpucmd.MaxSamples; n *= 2 {
		counts = append(counts, fmt.Sprintf("%d->%d", n, caps.SampleCount(n)))
	}
	fmt.Fprintf(w, "samples:  %s\n", strings.Join(counts, " "))

	for i, a := range caps.Adapters {
		mark := " "
		if i == caps.Adapter {
			mark = "*"
		}
		fmt.Fprintf(w, "%s adapter %d: %s [%s] %s\n", mark, i, a.Name, a.Backend, a.Type)
		if n := len(a.Resolutions); n > 0 {
			r := a.Resolutions[n-1]
			fmt.Fprintf(w, "    %d modes up to %dx%d\n", n, r.Width, r.Height)
		}
	}
}

// render clears an RGBA8 target, resolving from a multisampled source
// when samples > 1, and reads it back.
func render(svc *gpucmd.Service, width, height, samples int, background [4]float32) (*image.NRGBA, error) {
	desc := gpucmd.TextureDesc{
		Width:   uint16(width),  //nolint:gosec // validated by Config
		Height:  uint16(height), //nolint:gosec // validated by Config
		Format:  gpucmd.FormatRGBA8,
		Layout:  gpucmd.LayoutTarget,
		Levels:  1,
		Samples: 1,
	}
	target := svc.CreateTexture(desc, nil)
	if target == 0 {
		return nil, errors.New("create target texture failed")
	}
	defer svc.DeleteTexture(target)

	pd := gpucmd.PassDesc{ColorCount: 1}
	pd.Colors[0].Target = target
	if n := svc.Capabilities().SampleCount(samples); n > 1 {
		desc.Samples = uint8(n) //nolint:gosec // at most MaxSamples
		source := svc.CreateTexture(desc, nil)
		if source == 0 {
			return nil, errors.New("create multisampled texture failed")
		}
		defer svc.DeleteTexture(source)
		pd.Colors[0].Source = source
	}
	pass := svc.CreatePass(pd)
	if pass == 0 {
		return nil, errors.New("create pass failed")
	}
	defer svc.DeletePass(pass)

	svc.Prepare(pass, gpucmd.ClearValues{Color: background, Flags: gpucmd.ClearColor}, gpucmd.Viewport{})
	svc.Commit(pass)

	var img *image.NRGBA
	svc.ReadTexture(target, 0, func(data []byte, bytesPerRow int) {
		img = &image.NRGBA{
			Pix:    append([]byte(nil), data...),
			Stride: bytesPerRow,
			Rect:   image.Rect(0, 0, width, height),
		}
	})
	// The second Flush returns once the first frame has executed.
	svc.Flush()
	svc.Flush()
	if img == nil {
		return nil, errors.New("readback failed, see log")
	}
	return img, nil
}

func save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".bmp":
		err = bmp.Encode(f, img)
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func parseColor(s string) ([4]float32, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return [4]float32{}, fmt.Errorf("want 6 or 8 hex digits, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return [4]float32{}, err
	}
	var c [4]float32
	for i := range c {
		c[i] = float32(v>>(24-8*i)&0xff) / 255
	}
	return c, nil
}
