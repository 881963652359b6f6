// Command ploopctl is a trivial argv-driven front end over a delta
// stack: it opens a stack from repeated --delta flags, performs at most
// one read or write, and closes.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/vzstorage/ploop"
)

func main() {
	app := &cli.App{
		Name:  "ploopctl",
		Usage: "open a delta stack and perform a single read or write",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "delta",
				Usage:    "delta image path, bottom-up; repeat for each level",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "ro or rw",
				Value: "ro",
			},
			&cli.StringFlag{
				Name:  "read",
				Usage: "OFFSET:SIZE:FILE — read SIZE bytes at OFFSET into FILE",
			},
			&cli.StringFlag{
				Name:  "write",
				Usage: "OFFSET:SIZE:FILE — write SIZE bytes at OFFSET from FILE",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every step",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ploopctl:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := zap.NewNop()
	if c.Bool("verbose") {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}
	defer logger.Sync()

	mode := ploop.ModeReadOnly
	switch c.String("mode") {
	case "ro":
	case "rw":
		mode = ploop.ModeReadWrite
	default:
		return fmt.Errorf("invalid --mode %q: want ro or rw", c.String("mode"))
	}

	img, err := ploop.Open(c.StringSlice("delta"), mode, ploop.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer img.Close()

	fmt.Printf("opened %d-level stack: %s logical, %s clusters\n",
		len(c.StringSlice("delta")),
		humanize.Bytes(img.Size()),
		humanize.Bytes(uint64(img.ClusterSize())),
	)

	if spec := c.String("read"); spec != "" {
		return doRead(img, spec)
	}
	if spec := c.String("write"); spec != "" {
		return doWrite(img, spec)
	}
	return nil
}

func parseSpec(spec string) (offset, size uint64, path string, err error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("expected OFFSET:SIZE:FILE, got %q", spec)
	}
	offset, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad offset: %w", err)
	}
	size, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad size: %w", err)
	}
	return offset, size, parts[2], nil
}

func doRead(img *ploop.Image, spec string) error {
	offset, size, path, err := parseSpec(spec)
	if err != nil {
		return err
	}
	buf := make([]byte, size)
	n, err := img.Read(offset, buf)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return os.WriteFile(path, buf[:n], 0o644)
}

func doWrite(img *ploop.Image, spec string) error {
	offset, size, path, err := parseSpec(spec)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading source file: %w", err)
	}
	if uint64(len(data)) < size {
		return fmt.Errorf("source file %q is shorter than requested size %d", path, size)
	}
	_, err = img.Write(offset, data[:size])
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
